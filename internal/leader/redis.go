package leader

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
)

const unlockScript = `
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
else
	return 0
end`

const refreshScript = `
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
else
	return 0
end`

// RedisConfig is a set of independent Redis nodes used for a Redlock
// quorum, distinct from the data-plane cache store (§4.A is a single
// logical store; this is a separate, smaller cluster dedicated to
// leader election, exactly as the teacher's RedLock separates
// lock_addresses from the data Redis).
type RedisConfig struct {
	Addresses []string      `mapstructure:"addresses"`
	Password  string        `mapstructure:"password"`
	Retries   int           `mapstructure:"retries"`
	RetryWait time.Duration `mapstructure:"retry_wait"`
}

// Redlock implements Lock via the Redlock algorithm across an odd-sized
// cluster of independent Redis nodes.
type Redlock struct {
	clients []*redis.Client
	cfg     RedisConfig
	mu      sync.Mutex
	tokens  map[string]string
}

// NewRedlock dials every configured node and verifies each connection.
func NewRedlock(cfg RedisConfig) (*Redlock, error) {
	clients := make([]*redis.Client, 0, len(cfg.Addresses))
	for _, addr := range cfg.Addresses {
		c := redis.NewClient(&redis.Options{Addr: addr, Password: cfg.Password})
		if err := c.Ping(context.Background()).Err(); err != nil {
			for _, opened := range clients {
				opened.Close()
			}
			return nil, fmt.Errorf("leader: redlock node %s unreachable: %w", addr, err)
		}
		clients = append(clients, c)
	}
	return &Redlock{clients: clients, cfg: cfg, tokens: make(map[string]string)}, nil
}

func (r *Redlock) quorum() int { return len(r.clients)/2 + 1 }

func (r *Redlock) AcquireLock(lockName string, timeout time.Duration) (bool, error) {
	token := fmt.Sprintf("%d", time.Now().UnixNano())
	retries := r.cfg.Retries
	if retries <= 0 {
		retries = 1
	}

	for attempt := 0; attempt < retries; attempt++ {
		start := time.Now()
		successes := 0
		ctx := context.Background()

		for _, c := range r.clients {
			ok, err := c.SetNX(ctx, lockName, token, timeout).Result()
			if err == nil && ok {
				successes++
			}
		}

		elapsed := time.Since(start)
		if successes >= r.quorum() && timeout-elapsed > 0 {
			r.mu.Lock()
			r.tokens[lockName] = token
			r.mu.Unlock()
			return true, nil
		}

		r.unlockAll(lockName, token)
		if r.cfg.RetryWait > 0 {
			time.Sleep(r.cfg.RetryWait)
		}
	}
	return false, nil
}

func (r *Redlock) RefreshLock(lockName string, timeout time.Duration) (bool, error) {
	r.mu.Lock()
	token, held := r.tokens[lockName]
	r.mu.Unlock()
	if !held {
		return false, fmt.Errorf("leader: refresh: lock %s not held", lockName)
	}

	successes := 0
	ctx := context.Background()
	ms := strconv.FormatInt(timeout.Milliseconds(), 10)
	for _, c := range r.clients {
		res, err := c.Eval(ctx, refreshScript, []string{lockName}, token, ms).Result()
		if err == nil {
			if n, ok := res.(int64); ok && n == 1 {
				successes++
			}
		}
	}
	if successes >= r.quorum() {
		return true, nil
	}
	r.mu.Lock()
	delete(r.tokens, lockName)
	r.mu.Unlock()
	return false, nil
}

func (r *Redlock) ReleaseLock(lockName string) error {
	r.mu.Lock()
	token, held := r.tokens[lockName]
	delete(r.tokens, lockName)
	r.mu.Unlock()
	if !held {
		return nil
	}
	r.unlockAll(lockName, token)
	return nil
}

func (r *Redlock) ReleaseAllLocks() {
	r.mu.Lock()
	tokens := r.tokens
	r.tokens = make(map[string]string)
	r.mu.Unlock()
	for name, token := range tokens {
		r.unlockAll(name, token)
	}
}

func (r *Redlock) Close() error {
	r.ReleaseAllLocks()
	var firstErr error
	for _, c := range r.clients {
		if err := c.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (r *Redlock) unlockAll(lockName, token string) {
	ctx := context.Background()
	for _, c := range r.clients {
		c.Eval(ctx, unlockScript, []string{lockName}, token)
	}
}
