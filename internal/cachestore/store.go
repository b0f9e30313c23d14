// Package cachestore is a thin typed façade over a remote key/value
// service (component A). Higher layers never see the underlying client;
// they see hashes, sets, lists, strings, TTLs, and a handful of atomic
// primitives. No operation here is cross-key transactional.
package cachestore

import (
	"context"
	"errors"
	"time"
)

// ErrTransient wraps any error a Store call returns because of a
// network/backend hiccup rather than a logical rejection (e.g. missing
// key where absence is meaningful is not transient). Admission paths
// treat it as "try again"; schedulers log and skip.
var ErrTransient = errors.New("cachestore: transient error")

// Store is the set of primitives required by the Session Repository, the
// Rate Limiter, and the Active Session Registry.
type Store interface {
	// Hash operations.
	HSetAll(ctx context.Context, key string, fields map[string]string) error
	HGetAll(ctx context.Context, key string) (map[string]string, error)
	HIncrBy(ctx context.Context, key, field string, delta int64) (int64, error)

	// Set operations.
	SAdd(ctx context.Context, key, member string) (added bool, err error)
	SRem(ctx context.Context, key, member string) error
	SMembers(ctx context.Context, key string) ([]string, error)
	SIsMember(ctx context.Context, key, member string) (bool, error)

	// List operations, most-recent-at-head.
	LPush(ctx context.Context, key, value string) error
	LTrim(ctx context.Context, key string, start, stop int64) error
	LRange(ctx context.Context, key string, start, stop int64) ([]string, error)

	// String operations.
	SetTTL(ctx context.Context, key, value string, ttl time.Duration) error
	GetDel(ctx context.Context, key string) (string, bool, error)
	Exists(ctx context.Context, key string) (bool, error)
	Expire(ctx context.Context, key string, ttl time.Duration) error

	// SetNX is not in the required primitive list (§4.A); it is offered
	// as an optimization for the Rate Limiter so it need not fall back to
	// the accepted-race hasKey+set sequence. Backends without a native
	// SETNX may implement it with the two-step sequence.
	SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error)

	// Close releases the backend connection.
	Close() error
}
