// Package lease implements the tab-ownership table described for the
// infra handler: at most one live lease per tab, TTL-bounded, renewed by
// heartbeat and freed unilaterally on expiry.
package lease

import (
	"sync"
	"time"

	"browsir/internal/domain"

	"github.com/oklog/ulid/v2"
)

// Table is the process-wide lease table. One Table instance backs every
// tab the infra handler touches; there is no persistence across restarts.
type Table struct {
	mu     sync.Mutex
	leases map[string]domain.Lease // keyed by TabID
}

// NewTable constructs an empty lease table.
func NewTable() *Table {
	return &Table{leases: make(map[string]domain.Lease)}
}

// AcquireResult reports whether Acquire succeeded, and if not, who holds
// the conflicting lease.
type AcquireResult struct {
	Lease        domain.Lease
	Acquired     bool
	LockedByOther bool
	CurrentOwner string
}

// Acquire grants a new lease for tabID to owner if no live lease exists,
// or if the existing lease's owner matches. ttl is clamped to
// [domain.LeaseMinTTL, domain.LeaseMaxTTL].
func (t *Table) Acquire(tabID, owner string, ttl time.Duration, now time.Time) AcquireResult {
	t.mu.Lock()
	defer t.mu.Unlock()

	if existing, ok := t.leases[tabID]; ok && existing.Live(now) && existing.Owner != owner {
		return AcquireResult{LockedByOther: true, CurrentOwner: existing.Owner}
	}

	ttl = domain.ClampLeaseTTL(ttl)
	l := domain.Lease{
		TabID:       tabID,
		Owner:       owner,
		LeaseID:     newLeaseID(),
		CreatedAt:   now,
		HeartbeatAt: now,
		ExpiresAt:   now.Add(ttl),
	}
	t.leases[tabID] = l
	return AcquireResult{Lease: l, Acquired: true}
}

// HeartbeatResult reports the outcome of a heartbeat renewal.
type HeartbeatResult struct {
	Lease         domain.Lease
	OK            bool
	LockedByOther bool
}

// Heartbeat extends an existing lease's expiry by ttl from now, provided
// owner still holds it. A heartbeat on an expired or foreign lease fails.
func (t *Table) Heartbeat(tabID, owner, leaseID string, ttl time.Duration, now time.Time) HeartbeatResult {
	t.mu.Lock()
	defer t.mu.Unlock()

	existing, ok := t.leases[tabID]
	if !ok || !existing.Live(now) {
		return HeartbeatResult{}
	}
	if existing.Owner != owner || existing.LeaseID != leaseID {
		return HeartbeatResult{LockedByOther: true}
	}

	ttl = domain.ClampLeaseTTL(ttl)
	existing.HeartbeatAt = now
	existing.ExpiresAt = now.Add(ttl)
	t.leases[tabID] = existing
	return HeartbeatResult{Lease: existing, OK: true}
}

// ReleaseResult reports whether Release actually freed a held lease.
type ReleaseResult struct {
	Released bool
	Reason   string // "not_locked" when there was nothing to release
}

// Release frees tabID's lease if owner currently holds it. Releasing a
// lease that does not exist, has expired, or belongs to someone else is
// not an error — it reports {released:false, reason:"not_locked"}.
func (t *Table) Release(tabID, owner, leaseID string, now time.Time) ReleaseResult {
	t.mu.Lock()
	defer t.mu.Unlock()

	existing, ok := t.leases[tabID]
	if !ok || !existing.Live(now) || existing.Owner != owner || existing.LeaseID != leaseID {
		return ReleaseResult{Released: false, Reason: "not_locked"}
	}
	delete(t.leases, tabID)
	return ReleaseResult{Released: true}
}

// Status returns the current lease for tabID, if any live one exists.
func (t *Table) Status(tabID string, now time.Time) (domain.Lease, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	existing, ok := t.leases[tabID]
	if !ok || !existing.Live(now) {
		return domain.Lease{}, false
	}
	return existing, true
}

// ReleaseAllOwnedBy frees every live lease held by owner, used when a
// session ends or the bridge connection that scoped it drops.
func (t *Table) ReleaseAllOwnedBy(owner string, now time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()

	for tabID, l := range t.leases {
		if l.Owner == owner && l.Live(now) {
			delete(t.leases, tabID)
		}
	}
}

func newLeaseID() string {
	return ulid.Make().String()
}
