package rangering

import (
	"cmp"
	"context"
	"iter"
	"slices"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// SegmentStore holds the segment records known to the local peer.
// Writers are serialized by the store; readers take a Snapshot and never block.
type SegmentStore interface {
	// Put validates and stores a record. A record replaces the owner's current
	// one when it has a higher Seq (or the same Seq and a creation time that is
	// not older). A zero-length current record removes the owner from queries.
	Put(ctx context.Context, s Segment) error
	// RemoveOwner drops every record of a peer that left.
	RemoveOwner(ctx context.Context, owner PeerID) error
	// Prune drops superseded records and stop markers created before the given time.
	Prune(ctx context.Context, before time.Time) (int, error)
	// Snapshot returns the current point-in-time view.
	Snapshot() *Snapshot
}

// Snapshot is an immutable view of the current segment per owner.
type Snapshot struct {
	version  uint64
	segments []Segment // non-empty current records ordered by offset, then owner
	byOwner  map[PeerID]Segment
}

var emptySnapshot = &Snapshot{byOwner: map[PeerID]Segment{}}

// Version increases with every published change.
func (s *Snapshot) Version() uint64 {
	return s.version
}

// Len returns the number of peers with a non-empty segment.
func (s *Snapshot) Len() int {
	return len(s.segments)
}

// Segments returns a copy of the current segments in offset order.
func (s *Snapshot) Segments() []Segment {
	return slices.Clone(s.segments)
}

// Get returns the current segment of an owner.
func (s *Snapshot) Get(owner PeerID) (Segment, bool) {
	var seg, ok = s.byOwner[owner]
	return seg, ok
}

// Owners returns the peers with a non-empty segment in offset order.
func (s *Snapshot) Owners() []PeerID {
	var owners = make([]PeerID, 0, len(s.segments))
	for _, seg := range s.segments {
		owners = append(owners, seg.Owner)
	}
	return owners
}

// From yields segments in ring order starting with the first offset >= p.
func (s *Snapshot) From(p uint32) iter.Seq[Segment] {
	return func(yield func(Segment) bool) {
		var (
			n     = len(s.segments)
			start = sort.Search(n, func(i int) bool { return s.segments[i].Offset >= p })
		)
		for i := range n {
			if !yield(s.segments[(start+i)%n]) {
				return
			}
		}
	}
}

// TotalWidth is the sum of normalized widths over all peers.
func (s *Snapshot) TotalWidth() float64 {
	var total float64
	for _, seg := range s.segments {
		total += seg.Fraction()
	}
	return total
}

// matureCount counts segments that are mature at now. For a fixed snapshot the
// mature set only grows in creation order, so the count identifies it.
func (s *Snapshot) matureCount(now time.Time, roleAge time.Duration) int {
	var count int
	for _, seg := range s.segments {
		if seg.IsMature(now, roleAge) {
			count++
		}
	}
	return count
}

// MemoryStore is the in-memory SegmentStore. Writes rebuild the snapshot and
// swap it atomically, so readers see either the old or the new view.
type MemoryStore struct {
	mu      sync.Mutex
	records map[uuid.UUID]Segment
	current map[PeerID]Segment
	version uint64
	snap    atomic.Pointer[Snapshot]
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	var m = &MemoryStore{
		records: make(map[uuid.UUID]Segment),
		current: make(map[PeerID]Segment),
	}
	m.snap.Store(emptySnapshot)
	return m
}

// Put implements SegmentStore.
func (m *MemoryStore) Put(ctx context.Context, s Segment) error {
	var seg, err = normalize(s)
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.put(seg) {
		m.publish()
	}
	return nil
}

// load replaces the contents with already validated records.
func (m *MemoryStore) load(segs []Segment) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.records = make(map[uuid.UUID]Segment, len(segs))
	m.current = make(map[PeerID]Segment)
	for _, seg := range segs {
		m.put(seg)
	}
	m.publish()
}

// put records s and reports whether the owner's current record changed.
// Must be called with lock held.
func (m *MemoryStore) put(s Segment) bool {
	m.records[s.ID] = s

	var cur, exists = m.current[s.Owner]
	if exists && cur.ID != s.ID && !s.supersedes(cur) {
		return false
	}
	m.current[s.Owner] = s
	return true
}

// RemoveOwner implements SegmentStore.
func (m *MemoryStore) RemoveOwner(ctx context.Context, owner PeerID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.removeOwner(owner)
	m.publish()
	return nil
}

// removeOwner returns the ids of the dropped records. Must be called with lock held.
func (m *MemoryStore) removeOwner(owner PeerID) []uuid.UUID {
	var removed []uuid.UUID
	for id, rec := range m.records {
		if rec.Owner == owner {
			removed = append(removed, id)
			delete(m.records, id)
		}
	}
	delete(m.current, owner)
	return removed
}

// Prune implements SegmentStore.
func (m *MemoryStore) Prune(ctx context.Context, before time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var removed = m.prune(before)
	if len(removed) > 0 {
		m.publish()
	}
	return len(removed), nil
}

// prune returns the ids of the dropped records. Must be called with lock held.
func (m *MemoryStore) prune(before time.Time) []uuid.UUID {
	var removed []uuid.UUID
	for id, rec := range m.records {
		var cur = m.current[rec.Owner]
		if cur.ID != id {
			removed = append(removed, id)
			delete(m.records, id)
			continue
		}
		if rec.Length == 0 && rec.CreatedAt.Before(before) {
			removed = append(removed, id)
			delete(m.records, id)
			delete(m.current, rec.Owner)
		}
	}
	return removed
}

// Snapshot implements SegmentStore.
func (m *MemoryStore) Snapshot() *Snapshot {
	return m.snap.Load()
}

// publish builds and swaps in a new snapshot. Must be called with lock held.
func (m *MemoryStore) publish() {
	var (
		segments = make([]Segment, 0, len(m.current))
		byOwner  = make(map[PeerID]Segment, len(m.current))
	)
	for owner, seg := range m.current {
		if seg.Length == 0 {
			continue
		}
		segments = append(segments, seg)
		byOwner[owner] = seg
	}

	slices.SortFunc(segments, func(a, b Segment) int {
		if c := cmp.Compare(a.Offset, b.Offset); c != 0 {
			return c
		}
		return cmp.Compare(a.Owner, b.Owner)
	})

	m.version++
	m.snap.Store(&Snapshot{
		version:  m.version,
		segments: segments,
		byOwner:  byOwner,
	})
}

// normalize validates s, assigns a record id and folds widths beyond one turn.
func normalize(s Segment) (Segment, error) {
	if err := s.Validate(); err != nil {
		return Segment{}, err
	}
	if s.ID == uuid.Nil {
		s.ID = uuid.New()
	}
	if s.Length > DomainSize {
		s.Length = DomainSize
	}
	return s, nil
}
