// Package ratelimit implements the per-voter 1-second sliding admission
// gate (component C), applied uniformly to the vote and chat paths.
package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/lvdashuaibi/revealcast/internal/cachestore"
)

// Limiter admits at most one call per voter per window.
type Limiter struct {
	store  cachestore.Store
	window time.Duration
}

// New builds a Limiter with the given admission window (default 1s).
func New(store cachestore.Store, window time.Duration) *Limiter {
	if window <= 0 {
		window = time.Second
	}
	return &Limiter{store: store, window: window}
}

func ticketKey(voterID string) string { return "ratelimit:" + voterID }

// Admit sets ratelimit:{voterId} with a window TTL if absent and returns
// true; if a ticket already exists it returns false. Uses SETNX so the
// check-and-set is atomic at the store; a backend limited to the
// documented primitives may instead compose Exists+SetTTL, which admits
// at most one extra request per window under a race — acceptable here.
func (l *Limiter) Admit(ctx context.Context, voterID string) (bool, error) {
	ok, err := l.store.SetNX(ctx, ticketKey(voterID), "1", l.window)
	if err != nil {
		return false, fmt.Errorf("ratelimit: admit: %w", err)
	}
	return ok, nil
}
