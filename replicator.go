package rangering

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
)

var (
	// ErrNotStarted is returned by Stop before Start.
	ErrNotStarted = errors.New("replicator not started")

	// ErrAlreadyStarted is returned by a second Start.
	ErrAlreadyStarted = errors.New("replicator already started")
)

// Replicator decides, from the segments it knows about, which peers hold
// which part of the ring, and keeps the local peer's own segment sized to its
// resource limits.
type Replicator struct {
	self        PeerID
	options     options
	store       SegmentStore
	controller  *controller
	membership  *membership
	leaderCache *lru.Cache[leaderKey, []PeerID]

	mu          sync.Mutex // guards the lifecycle fields below
	coordinator *coordinator
	state       *stateFile
}

// NewReplicator creates a replicator for the local peer self.
func NewReplicator(self PeerID, opts ...Option) (*Replicator, error) {
	if self == "" {
		return nil, fmt.Errorf("%w: owner missing", ErrInvalidSegment)
	}

	var options = defaultOptions()
	for _, opt := range opts {
		opt(&options)
	}
	if options.store == nil {
		options.store = NewMemoryStore()
	}

	var r = &Replicator{
		self:       self,
		options:    options,
		store:      options.store,
		membership: newMembership(self, options.store, options),
	}
	r.controller = newController(self, options.store, r.publish, options)

	if options.leaderCacheSize > 0 {
		var cache, err = lru.New[leaderKey, []PeerID](options.leaderCacheSize)
		if err != nil {
			return nil, fmt.Errorf("failed to create leader cache: %w", err)
		}
		r.leaderCache = cache
	}

	return r, nil
}

// Self returns the local peer identity.
func (r *Replicator) Self() PeerID {
	return r.self
}

// Snapshot returns the current view of the segment store.
func (r *Replicator) Snapshot() *Snapshot {
	return r.store.Snapshot()
}

// Start restores the local segment from the state file, if configured, and
// begins rebalancing.
func (r *Replicator) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.coordinator != nil {
		return ErrAlreadyStarted
	}

	if r.options.stateFile != "" {
		var state, err = openStateFile(r.options.stateFile)
		if err != nil {
			return err
		}
		if err := r.restore(ctx, state); err != nil {
			_ = state.close()
			return err
		}
		r.state = state
	}

	var coordinator = newCoordinator(r.controller, r.membership, r.options)
	if err := coordinator.start(ctx); err != nil {
		if r.state != nil {
			_ = r.state.close()
			r.state = nil
		}
		return err
	}
	r.coordinator = coordinator

	r.options.logger.Info("replicator started",
		"owner", r.self,
		"participation", r.GetMyTotalParticipation(),
		"limits", r.controller.currentLimits().String())
	return nil
}

// restore loads the local segment saved by an earlier run.
func (r *Replicator) restore(ctx context.Context, state *stateFile) error {
	var saved, ok, err = state.load()
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}

	var seg = saved.Segment.Segment()
	if seg.Owner != r.self {
		return fmt.Errorf("%w: state file belongs to %s", ErrInvalidSegment, seg.Owner)
	}
	if err := r.store.Put(ctx, seg); err != nil {
		return fmt.Errorf("failed to restore segment: %w", err)
	}
	r.controller.restore(seg, saved.Generation)

	r.options.logger.Info("restored segment", "owner", r.self, "width", seg.Fraction(), "created_at", seg.CreatedAt)
	return nil
}

// Stop halts rebalancing and announces that the local peer stopped replicating.
func (r *Replicator) Stop(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.coordinator == nil {
		return ErrNotStarted
	}

	r.coordinator.stop()
	r.coordinator = nil

	var err = r.controller.stop(ctx)
	if r.state != nil {
		err = errors.Join(err, r.state.close())
		r.state = nil
	}
	return err
}

// publish makes a local segment change visible: store first, then the state
// file, then the gossip layer.
func (r *Replicator) publish(ctx context.Context, seg Segment, generation uint64) error {
	if err := r.store.Put(ctx, seg); err != nil {
		return fmt.Errorf("failed to store segment: %w", err)
	}
	storeSegments.Set(float64(r.store.Snapshot().Len()))

	var a = announcementOf(seg)
	if r.state != nil {
		if err := r.state.save(localState{Segment: a, Generation: generation}); err != nil {
			return err
		}
	}
	if err := r.options.announcer.Announce(ctx, a); err != nil {
		return fmt.Errorf("failed to announce segment: %w", err)
	}
	return nil
}

// HandleAnnouncement applies a scale-encoded announcement received from another peer.
func (r *Replicator) HandleAnnouncement(ctx context.Context, payload []byte) error {
	var a, err = UnmarshalAnnouncement(payload)
	if err != nil {
		remoteRejected.Inc()
		return err
	}
	return r.membership.Apply(ctx, a)
}

// ApplyAnnouncement applies an already decoded announcement from another peer.
func (r *Replicator) ApplyAnnouncement(ctx context.Context, a Announcement) error {
	return r.membership.Apply(ctx, a)
}

// RemovePeer forgets every segment of a peer that left.
func (r *Replicator) RemovePeer(ctx context.Context, owner PeerID) error {
	return r.membership.RemovePeer(ctx, owner)
}

// GetCoverSet returns the peers needed to cover req against the current store.
func (r *Replicator) GetCoverSet(ctx context.Context, req CoverRequest) ([]PeerID, error) {
	var peers, err = GetCoverSet(ctx, r.store.Snapshot(), r.options.clock.Now(), req)
	if err != nil {
		return nil, err
	}
	coverSetSize.Observe(float64(len(peers)))
	return peers, nil
}

// HasCoveringRange reports whether other records already cover candidate.
func (r *Replicator) HasCoveringRange(candidate Segment) bool {
	return HasCoveringRange(r.store.Snapshot(), candidate)
}

// GetMyTotalParticipation returns the fraction of the ring the local peer
// currently replicates.
func (r *Replicator) GetMyTotalParticipation() float64 {
	var seg, ok = r.store.Snapshot().Get(r.self)
	if !ok {
		return 0
	}
	return seg.Fraction()
}

// GetMemoryUsage returns the memory the local peer spends on replicated data.
func (r *Replicator) GetMemoryUsage(ctx context.Context) (uint64, error) {
	var usage, err = r.options.monitor.Usage(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to read memory usage: %w", err)
	}
	return usage.Memory, nil
}

// SetLimits replaces the resource limits used from the next cycle on.
func (r *Replicator) SetLimits(l Limits) {
	r.controller.setLimits(l)
	r.options.logger.Info("updated limits", "limits", l.String())
}

// Limits returns the resource limits in effect.
func (r *Replicator) Limits() Limits {
	return r.controller.currentLimits()
}

func (r *Replicator) queryOptions(opts []QueryOption) queryOptions {
	var o = queryOptions{roleAge: r.options.roleAge}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// String returns a visual representation of the known segments.
func (r *Replicator) String() string {
	var (
		snap = r.store.Snapshot()
		now  = r.options.clock.Now()
		b    strings.Builder
	)

	b.WriteString(fmt.Sprintf("Replicator: %s\n", r.self))
	b.WriteString(fmt.Sprintf("Peers: %d | Coverage: %.4f | Participation: %.4f\n",
		snap.Len(), snap.TotalWidth(), r.GetMyTotalParticipation()))
	b.WriteString(fmt.Sprintf("Limits: %s\n", r.controller.currentLimits()))

	if snap.Len() == 0 {
		b.WriteString("\n[Empty Ring]\n")
		return b.String()
	}

	var start uint32
	if own, ok := snap.Get(r.self); ok {
		start = own.Offset
	}

	b.WriteString("\nSegments:\n")
	b.WriteString("┌─────────────────────────────────────────────────────────────┐\n")
	for seg := range snap.From(start) {
		var (
			marker = " "
			state  = "mature"
		)
		if seg.Owner == r.self {
			marker = "●"
		}
		if !seg.IsMature(now, r.options.roleAge) {
			state = "young"
		}
		b.WriteString(fmt.Sprintf("│ %s %-15s  @%.4f  +%.4f  %-11s  %-6s  seq:%d\n",
			marker, seg.Owner, ToFraction(uint64(seg.Offset)), seg.Fraction(), seg.Mode, state, seg.Seq))
	}
	b.WriteString("└─────────────────────────────────────────────────────────────┘\n")

	return b.String()
}
