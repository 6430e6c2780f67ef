package connectkit

import "context"

// DistributedLockHealth reports the DistributedRefreshLock's status
// (spec §6 getHealth, §4.2's degraded-mode note).
type DistributedLockHealth struct {
	Connected bool
	// Mode is "distributed" when a coordination service backs the lock,
	// "local-only" when refresh dedup has degraded to single-process.
	Mode    string
	Healthy bool
}

// HealthStatus is the SDK's health surface (spec §6).
type HealthStatus struct {
	DistributedLocks DistributedLockHealth
}

// GetHealth reports the distributed lock's current connectivity. A
// local-only lock is always reported healthy, since it has no external
// dependency to lose.
func (s *SDK) GetHealth(ctx context.Context) HealthStatus {
	if s.lockMode != "distributed" {
		return HealthStatus{DistributedLocks: DistributedLockHealth{Connected: false, Mode: s.lockMode, Healthy: true}}
	}

	healthy := s.redisClient != nil && s.redisClient.Ping(ctx).Err() == nil
	return HealthStatus{DistributedLocks: DistributedLockHealth{Connected: true, Mode: s.lockMode, Healthy: healthy}}
}
