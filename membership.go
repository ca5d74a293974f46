package rangering

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jonboulle/clockwork"
)

// membership applies what the gossip layer learns about other peers: new
// announcements, departures, and the pruning of records nobody needs anymore.
type membership struct {
	self      PeerID
	store     SegmentStore
	retention time.Duration
	clock     clockwork.Clock
	logger    *slog.Logger
}

func newMembership(self PeerID, store SegmentStore, o options) *membership {
	return &membership{
		self:      self,
		store:     store,
		retention: o.retention,
		clock:     o.clock,
		logger:    o.logger,
	}
}

// Apply writes a remote announcement into the store. Announcements older than
// the owner's current record are kept only until the next prune and never
// become current. The local peer's own segments are only written by its
// controller, so echoes of them are dropped.
func (m *membership) Apply(ctx context.Context, a Announcement) error {
	if a.Owner == m.self {
		return nil
	}

	var seg = a.Segment()
	if err := m.store.Put(ctx, seg); err != nil {
		remoteRejected.Inc()
		return fmt.Errorf("failed to store announcement from %s: %w", a.Owner, err)
	}
	remoteApplied.Inc()
	storeSegments.Set(float64(m.store.Snapshot().Len()))

	m.logger.Debug("applied announcement", "owner", a.Owner, "width", seg.Fraction(), "seq", seg.Seq)
	return nil
}

// RemovePeer forgets a peer the gossip layer saw leave.
func (m *membership) RemovePeer(ctx context.Context, owner PeerID) error {
	if err := m.store.RemoveOwner(ctx, owner); err != nil {
		return fmt.Errorf("failed to remove peer %s: %w", owner, err)
	}
	storeSegments.Set(float64(m.store.Snapshot().Len()))

	m.logger.Info("removed peer", "owner", owner)
	return nil
}

// Prune drops superseded records and zero-length records older than the
// retention period.
func (m *membership) Prune(ctx context.Context) error {
	var removed, err = m.store.Prune(ctx, m.clock.Now().Add(-m.retention))
	if err != nil {
		return fmt.Errorf("failed to prune segments: %w", err)
	}
	if removed > 0 {
		m.logger.Debug("pruned segment records", "count", removed)
	}
	return nil
}

// Refresh reloads the store from its backing index when it has one. Peers
// that share a database see each other's announcements this way.
func (m *membership) Refresh(ctx context.Context) error {
	var r, ok = m.store.(refresher)
	if !ok {
		return nil
	}
	if err := r.Refresh(ctx); err != nil {
		return fmt.Errorf("failed to refresh segments: %w", err)
	}
	storeSegments.Set(float64(m.store.Snapshot().Len()))
	return nil
}

// refresher is implemented by stores that can pick up records written by
// other processes.
type refresher interface {
	Refresh(ctx context.Context) error
}
