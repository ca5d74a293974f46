package rangering

import (
	"context"
	"math"
	"slices"
	"time"
)

// GetSamples returns the distinct peers responsible for q.Point, at most one
// per probe except under ambiguity.
//
// Probes are spaced DomainMax/Redundancy apart starting at the point. Each
// probe is answered by the segment containing it whose offset is closest
// below the probe; a probe outside every segment falls back to the nearest
// Overlapping segment. Mature segments are consulted first. A peer answering
// several probes is counted once, so the result may hold fewer peers than
// Redundancy. When several segments answer a probe equally well (for instance
// two whole-ring claims) all of them are returned, so it may also hold more.
func GetSamples(ctx context.Context, snap *Snapshot, now time.Time, q LeaderQuery) ([]PeerID, error) {
	if snap.Len() == 0 {
		return nil, nil
	}

	var (
		redundancy = min(max(q.Redundancy, 1), math.MaxInt32)
		step       = DomainMax / uint64(redundancy)
		t          = trust{now: now, roleAge: q.RoleAge, eager: q.Eager}
		result     = newPeerSet()
	)

	for i := 0; i < redundancy; {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		var (
			probe             = q.Point + uint32(uint64(i)*step)
			owners, contained = sampleProbe(snap, t, probe)
		)
		for _, owner := range owners {
			result.add(owner)
		}
		if result.len() == snap.Len() {
			break
		}
		i = nextProbe(snap, i, step, probe, contained)
	}

	return result.order, nil
}

// nextProbe returns the index of the next probe that may be answered
// differently. Between two arc boundaries the containing segments and their
// ranking stay the same, so probes answered by containment skip ahead to the
// next boundary.
func nextProbe(snap *Snapshot, i int, step uint64, probe uint32, contained bool) int {
	if !contained {
		return i + 1
	}

	var ahead uint64
	for _, seg := range snap.segments {
		if seg.IsFull() {
			continue
		}
		for _, edge := range []uint32{seg.Offset, seg.Offset + uint32(seg.Length)} {
			if d := forward(probe, edge); d > 0 && (ahead == 0 || d < ahead) {
				ahead = d
			}
		}
	}
	if ahead == 0 {
		// only whole-ring claims: every probe gets the same answer
		return math.MaxInt
	}

	var next = (uint64(i)*step + ahead + step - 1) / step
	if next >= math.MaxInt32 {
		return math.MaxInt
	}
	return max(int(next), i+1)
}

// sampleProbe answers a single probe, mature segments first. It reports
// whether the answer came from a segment containing the probe.
func sampleProbe(snap *Snapshot, t trust, probe uint32) ([]PeerID, bool) {
	if owners, contained := answerProbe(snap, probe, t.mature); len(owners) > 0 {
		return owners, contained
	}
	return answerProbe(snap, probe, func(Segment) bool { return true })
}

// answerProbe picks among the segments accepted by pool. A containing segment
// ranks by how far the probe lies past its offset, whole-ring claims last.
// Without containment the nearest Overlapping arc wins. Ties are all returned.
func answerProbe(snap *Snapshot, probe uint32, pool func(Segment) bool) ([]PeerID, bool) {
	var (
		owners  []PeerID
		bestKey uint64 = math.MaxUint64
	)

	for _, seg := range snap.segments {
		if !pool(seg) || !seg.Contains(probe) {
			continue
		}
		var key = uint64(math.MaxUint64)
		if !seg.IsFull() {
			key = forward(seg.Offset, probe)
		}
		owners, bestKey = rank(owners, bestKey, seg.Owner, key)
	}
	if len(owners) > 0 {
		return owners, true
	}

	bestKey = math.MaxUint64
	for _, seg := range snap.segments {
		if !pool(seg) || seg.Mode == Strict {
			continue
		}
		owners, bestKey = rank(owners, bestKey, seg.Owner, seg.gapTo(probe))
	}
	return owners, false
}

// rank keeps the owners with the smallest key seen so far.
func rank(owners []PeerID, bestKey uint64, owner PeerID, key uint64) ([]PeerID, uint64) {
	switch {
	case len(owners) == 0 || key < bestKey:
		return []PeerID{owner}, key
	case key == bestKey && !slices.Contains(owners, owner):
		return append(owners, owner), bestKey
	default:
		return owners, bestKey
	}
}

// QueryOption adjusts a single leader or cover query.
type QueryOption func(*queryOptions)

type queryOptions struct {
	roleAge time.Duration
	eager   bool
}

// QueryRoleAge overrides the replicator's default role age for one query.
func QueryRoleAge(d time.Duration) QueryOption {
	return func(o *queryOptions) {
		o.roleAge = d
	}
}

// QueryEager disables maturity filtering for one query.
func QueryEager() QueryOption {
	return func(o *queryOptions) {
		o.eager = true
	}
}

// leaderKey identifies a memoised FindLeaders answer. The mature count pins
// down which segments were trusted for that store version.
type leaderKey struct {
	point      uint32
	redundancy int
	roleAge    time.Duration
	eager      bool
	version    uint64
	mature     int
}

// FindLeaders returns the peers that must hold the entry with the given identity.
func (r *Replicator) FindLeaders(ctx context.Context, entry []byte, replicas int, opts ...QueryOption) ([]PeerID, error) {
	var o = r.queryOptions(opts)
	return r.leaders(ctx, LeaderQuery{
		Point:      r.options.entryMapper(entry),
		Redundancy: replicas,
		RoleAge:    o.roleAge,
		Eager:      o.eager,
	})
}

// IsLeader reports whether the local peer is among the entry's leaders.
func (r *Replicator) IsLeader(ctx context.Context, entry []byte, replicas int, opts ...QueryOption) (bool, error) {
	var leaders, err = r.FindLeaders(ctx, entry, replicas, opts...)
	if err != nil {
		return false, err
	}
	return slices.Contains(leaders, r.self), nil
}

// GetSamples runs the leader sampler against the replicator's store.
func (r *Replicator) GetSamples(ctx context.Context, q LeaderQuery) ([]PeerID, error) {
	return r.leaders(ctx, q)
}

func (r *Replicator) leaders(ctx context.Context, q LeaderQuery) ([]PeerID, error) {
	var (
		snap = r.store.Snapshot()
		now  = r.options.clock.Now()
		key  = leaderKey{
			point:      q.Point,
			redundancy: q.Redundancy,
			roleAge:    q.RoleAge,
			eager:      q.Eager,
			version:    snap.Version(),
		}
	)
	if !q.Eager {
		key.mature = snap.matureCount(now, q.RoleAge)
	}

	if r.leaderCache != nil {
		if cached, ok := r.leaderCache.Get(key); ok {
			return slices.Clone(cached), nil
		}
	}

	var leaders, err = GetSamples(ctx, snap, now, q)
	if err != nil {
		return nil, err
	}

	leaderSetSize.Observe(float64(len(leaders)))
	if r.leaderCache != nil {
		r.leaderCache.Add(key, slices.Clone(leaders))
	}
	return leaders, nil
}
