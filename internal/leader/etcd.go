package leader

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.etcd.io/etcd/api/v3/v3rpc/rpctypes"
	clientv3 "go.etcd.io/etcd/client/v3"
)

const defaultLeaseSeconds = 10

// EtcdConfig mirrors the teacher's ETCDConfig.
type EtcdConfig struct {
	Endpoints   []string      `mapstructure:"endpoints"`
	DialTimeout time.Duration `mapstructure:"dial_timeout"`
}

// Etcd implements Lock with an etcd lease + compare-and-put, refreshed by
// a background keepalive goroutine per held lock.
type Etcd struct {
	client *clientv3.Client
	mu     sync.Mutex
	locks  map[string]*etcdLockEntry
}

type etcdLockEntry struct {
	leaseID clientv3.LeaseID
	key     string
	cancel  context.CancelFunc
}

// NewEtcd dials etcd.
func NewEtcd(cfg EtcdConfig) (*Etcd, error) {
	cli, err := clientv3.New(clientv3.Config{
		Endpoints:   cfg.Endpoints,
		DialTimeout: cfg.DialTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("leader: new etcd client: %w", err)
	}
	return &Etcd{client: cli, locks: make(map[string]*etcdLockEntry)}, nil
}

func (l *Etcd) AcquireLock(lockName string, timeout time.Duration) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, held := l.locks[lockName]; held {
		return true, nil
	}

	key := "/revealcast/leader/" + lockName
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	lease := clientv3.NewLease(l.client)
	grant, err := lease.Grant(ctx, defaultLeaseSeconds)
	if err != nil {
		return false, fmt.Errorf("leader: grant lease: %w", err)
	}

	txn := l.client.Txn(ctx).
		If(clientv3.Compare(clientv3.CreateRevision(key), "=", 0)).
		Then(clientv3.OpPut(key, "", clientv3.WithLease(grant.ID))).
		Else()

	resp, err := txn.Commit()
	if err != nil {
		lease.Revoke(context.Background(), grant.ID)
		return false, fmt.Errorf("leader: commit acquire: %w", err)
	}
	if !resp.Succeeded {
		lease.Revoke(context.Background(), grant.ID)
		return false, nil
	}

	keepAliveCtx, keepAliveCancel := context.WithCancel(context.Background())
	go l.keepAlive(keepAliveCtx, grant.ID)

	l.locks[lockName] = &etcdLockEntry{leaseID: grant.ID, key: key, cancel: keepAliveCancel}
	return true, nil
}

func (l *Etcd) RefreshLock(lockName string, timeout time.Duration) (bool, error) {
	l.mu.Lock()
	entry, ok := l.locks[lockName]
	l.mu.Unlock()
	if !ok {
		return false, fmt.Errorf("leader: refresh: lock %s not held", lockName)
	}

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if _, err := clientv3.NewLease(l.client).KeepAliveOnce(ctx, entry.leaseID); err != nil {
		if err == rpctypes.ErrLeaseNotFound {
			l.mu.Lock()
			delete(l.locks, lockName)
			l.mu.Unlock()
			return false, nil
		}
		return false, fmt.Errorf("leader: keepalive once: %w", err)
	}
	return true, nil
}

func (l *Etcd) ReleaseLock(lockName string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.releaseLocked(lockName)
}

func (l *Etcd) ReleaseAllLocks() {
	l.mu.Lock()
	defer l.mu.Unlock()
	for name := range l.locks {
		l.releaseLocked(name)
	}
}

func (l *Etcd) Close() error {
	l.ReleaseAllLocks()
	return l.client.Close()
}

func (l *Etcd) keepAlive(ctx context.Context, leaseID clientv3.LeaseID) {
	lease := clientv3.NewLease(l.client)
	ticker := time.NewTicker(defaultLeaseSeconds / 2 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if _, err := lease.KeepAliveOnce(ctx, leaseID); err != nil {
				return
			}
		case <-ctx.Done():
			return
		}
	}
}

func (l *Etcd) releaseLocked(lockName string) error {
	entry, ok := l.locks[lockName]
	if !ok {
		return nil
	}
	entry.cancel()
	if _, err := l.client.Delete(context.Background(), entry.key); err != nil {
		return fmt.Errorf("leader: delete key: %w", err)
	}
	if _, err := clientv3.NewLease(l.client).Revoke(context.Background(), entry.leaseID); err != nil {
		return fmt.Errorf("leader: revoke lease: %w", err)
	}
	delete(l.locks, lockName)
	return nil
}
