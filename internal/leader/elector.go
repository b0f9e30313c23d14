package leader

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// LockName is the well-known name every replica competes for.
const LockName = "revealcast:scheduler"

// refreshInterval must be well inside the lock's own lease/TTL so a
// healthy leader never loses the lock through inactivity.
const refreshInterval = 4 * time.Second

// Elector wraps a Lock and reports, via IsLeader, whether this process
// currently owns LockName. Runner loops (broadcast, lifecycle, registry
// reconcile) consult IsLeader before doing work, so only one replica
// drives the schedulers at a time (§1, §9).
type Elector struct {
	lock       Lock
	log        *zap.Logger
	acquireTTL time.Duration

	leading chan struct{} // closed exactly once, when leadership is first acquired
	isLeader func() bool
}

// Run competes for the lock until ctx is canceled, retrying acquisition
// whenever it is not currently held. It starts the competing loop in its
// own goroutine and returns the Elector immediately.
func Run(ctx context.Context, lock Lock, log *zap.Logger, acquireTTL time.Duration) *Elector {
	state := make(chan bool, 1)
	state <- false

	e := &Elector{lock: lock, log: log, acquireTTL: acquireTTL, leading: make(chan struct{})}
	e.isLeader = func() bool {
		select {
		case v := <-state:
			state <- v
			return v
		default:
			return false
		}
	}

	go func() {
		ticker := time.NewTicker(refreshInterval)
		defer ticker.Stop()
		leading := false
		leadingOnce := false

		attempt := func() {
			var ok bool
			var err error
			if leading {
				ok, err = lock.RefreshLock(LockName, acquireTTL)
			} else {
				ok, err = lock.AcquireLock(LockName, acquireTTL)
			}
			if err != nil {
				log.Warn("leader: election attempt failed", zap.Error(err))
				ok = false
			}
			if ok != leading {
				if ok {
					log.Info("leader: acquired scheduler leadership")
					if !leadingOnce {
						leadingOnce = true
						close(e.leading)
					}
				} else {
					log.Warn("leader: lost scheduler leadership")
				}
			}
			leading = ok
			<-state
			state <- leading
		}

		attempt()
		for {
			select {
			case <-ctx.Done():
				if leading {
					lock.ReleaseLock(LockName)
				}
				return
			case <-ticker.C:
				attempt()
			}
		}
	}()

	return e
}

// IsLeader reports current leadership. Callers should check this at the
// start of every scheduler tick rather than caching the result.
func (e *Elector) IsLeader() bool {
	return e.isLeader()
}
