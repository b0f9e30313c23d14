// Package leader elects a single active replica to drive the periodic
// schedulers (Broadcast Scheduler, Lifecycle Controller, Registry
// reconciler), matching this design's single-active-replica-per-process
// assumption (§1, §9 "Multi-replica operation"). It repurposes the
// teacher's distributed-lock abstraction, originally used to elect a
// single ticket producer.
package leader

import "time"

// Lock is a distributed mutual-exclusion primitive with two
// implementations: etcd leases (Etcd) and Redis SETNX across an
// independent quorum of nodes (Redlock).
type Lock interface {
	// AcquireLock attempts to take lockName. Redlock uses timeout as the
	// lock's TTL; Etcd uses it as the request deadline and holds a fixed
	// 10s lease kept alive in the background. Returns false, nil (not an
	// error) when another holder already owns it.
	AcquireLock(lockName string, timeout time.Duration) (bool, error)
	// RefreshLock extends a lock this instance already holds.
	RefreshLock(lockName string, timeout time.Duration) (bool, error)
	// ReleaseLock gives up a held lock.
	ReleaseLock(lockName string) error
	// ReleaseAllLocks gives up every lock this instance holds.
	ReleaseAllLocks()
	// Close releases the underlying client.
	Close() error
}
