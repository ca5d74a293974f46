package rangering

import (
	"cmp"
	"context"
	"slices"
	"time"
)

// peerSet keeps distinct peers in insertion order.
type peerSet struct {
	order []PeerID
	seen  map[PeerID]struct{}
}

func newPeerSet() *peerSet {
	return &peerSet{seen: make(map[PeerID]struct{})}
}

func (p *peerSet) add(id PeerID) {
	if _, ok := p.seen[id]; ok {
		return
	}
	p.seen[id] = struct{}{}
	p.order = append(p.order, id)
}

func (p *peerSet) len() int {
	return len(p.order)
}

// trust decides which segments are mature for one query.
type trust struct {
	now     time.Time
	roleAge time.Duration
	eager   bool
}

func (t trust) mature(s Segment) bool {
	return t.eager || s.IsMature(t.now, t.roleAge)
}

// HasCoveringRange reports whether the segments in snap already cover the
// whole arc of candidate. The candidate record itself is not counted.
func HasCoveringRange(snap *Snapshot, candidate Segment) bool {
	var target = candidate.Width()
	if target == 0 {
		return true
	}

	var reach uint64
	for range len(snap.segments) + 1 {
		var (
			pos  = candidate.Offset + uint32(reach)
			best uint64
		)
		for _, seg := range snap.segments {
			if seg.ID == candidate.ID || !seg.admits(pos) {
				continue
			}
			best = max(best, reach+seg.remainingFrom(pos))
		}
		if best <= reach {
			return false
		}
		reach = best
		if reach+Tolerance >= target {
			return true
		}
	}
	return false
}

// GetCoverSet returns the peers whose segments, walked in ring order from the
// request start, jointly cover the requested width. Mature segments are
// preferred; an immature one is used only where no mature segment extends the
// walk as far. The result is best effort: if the known segments cannot cover the
// width, the peers found so far are returned.
func GetCoverSet(ctx context.Context, snap *Snapshot, now time.Time, req CoverRequest) ([]PeerID, error) {
	if snap.Len() == 0 {
		return nil, nil
	}

	var (
		target = min(max(req.Width, 1), DomainSize)
		start  = req.Start
		result = newPeerSet()
		reach  uint64
		t      = trust{now: now, roleAge: req.RoleAge, eager: req.Eager}
	)

	if req.From != "" {
		if own, ok := snap.Get(req.From); ok {
			start = own.Offset
			result.add(own.Owner)
			reach = own.Width()
		}
	}

	if req.Eager {
		for _, seg := range intersecting(snap, start, target) {
			result.add(seg.Owner)
		}
		return result.order, nil
	}

	for range 2*snap.Len() + 1 {
		if reach+Tolerance >= target {
			break
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		var pos = start + uint32(reach)
		if seg, ext, ok := extendFrom(snap, t, pos, reach, target); ok {
			result.add(seg.Owner)
			reach = ext
			continue
		}

		var gap, ok = jumpFrom(snap, t, pos, target-reach)
		if !ok {
			break
		}
		reach += gap
	}

	return result.order, nil
}

// extendFrom picks the segment admitting pos that carries the walk furthest
// toward target. An immature segment is used only when no mature one reaches
// as far; reach beyond target and boundary rounding do not count.
func extendFrom(snap *Snapshot, t trust, pos uint32, reach, target uint64) (Segment, uint64, bool) {
	var (
		best       Segment
		bestExt    uint64
		bestKey    uint64
		bestMature bool
		found      bool
	)
	for _, seg := range snap.segments {
		if !seg.admits(pos) {
			continue
		}
		var ext = reach + seg.remainingFrom(pos)
		if ext <= reach {
			continue
		}

		var (
			key    = min(ext+Tolerance, target)
			mature = t.mature(seg)
		)
		switch {
		case !found:
		case key != bestKey:
			if key < bestKey {
				continue
			}
		case mature != bestMature:
			if !mature {
				continue
			}
		case ext < bestExt:
			continue
		case ext == bestExt && seg.Owner >= best.Owner:
			continue
		}
		best, bestExt, bestKey, bestMature, found = seg, ext, key, mature, true
	}
	return best, bestExt, found
}

// jumpFrom finds the nearest Overlapping segment starting ahead of pos within
// the remaining width and returns the distance to it. Strict segments never
// bridge a gap.
func jumpFrom(snap *Snapshot, t trust, pos uint32, remaining uint64) (uint64, bool) {
	var (
		matureGap   uint64
		immatureGap uint64
		hasMature   bool
		hasImmature bool
	)
	for _, seg := range snap.segments {
		if seg.Mode == Strict {
			continue
		}
		var gap = forward(pos, seg.Offset)
		if gap == 0 || gap >= remaining {
			continue
		}
		if t.mature(seg) {
			if !hasMature || gap < matureGap {
				matureGap, hasMature = gap, true
			}
			continue
		}
		if !hasImmature || gap < immatureGap {
			immatureGap, hasImmature = gap, true
		}
	}

	switch {
	case hasMature:
		return matureGap, true
	case hasImmature:
		return immatureGap, true
	default:
		return 0, false
	}
}

// intersecting returns every segment touching the arc [start, start+width),
// ordered by how soon the walk from start reaches them.
func intersecting(snap *Snapshot, start uint32, width uint64) []Segment {
	type hit struct {
		seg Segment
		at  uint64
	}

	var hits []hit
	for _, seg := range snap.segments {
		switch {
		case seg.admits(start):
			hits = append(hits, hit{seg: seg, at: 0})
		case forward(start, seg.Offset) < width:
			hits = append(hits, hit{seg: seg, at: forward(start, seg.Offset)})
		}
	}

	slices.SortStableFunc(hits, func(a, b hit) int {
		return cmp.Compare(a.at, b.at)
	})

	var segs = make([]Segment, len(hits))
	for i, h := range hits {
		segs[i] = h.seg
	}
	return segs
}
