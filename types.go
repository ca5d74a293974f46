package rangering

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrInvalidSegment is returned when a segment record is rejected at the store boundary.
	ErrInvalidSegment = errors.New("invalid segment")

	// ErrInvalidWidth is returned when a fractional width is negative or NaN.
	ErrInvalidWidth = errors.New("width must be a non-negative number")
)

// PeerID identifies a participating peer.
type PeerID string

// Mode controls how a segment takes part in coverage and sampling.
type Mode uint8

const (
	// Overlapping segments may answer for a probe that falls next to them
	// when no segment contains it.
	Overlapping Mode = iota
	// Strict segments only answer for probes inside their arc.
	Strict
)

func (m Mode) String() string {
	switch m {
	case Overlapping:
		return "overlapping"
	case Strict:
		return "strict"
	default:
		return fmt.Sprintf("mode(%d)", uint8(m))
	}
}

// Segment is one peer's claim to replicate an arc of the ring.
type Segment struct {
	ID        uuid.UUID
	Owner     PeerID
	Offset    uint32
	Length    uint64
	CreatedAt time.Time
	Seq       uint64 // orders announcements of the same owner
	Mode      Mode
}

// Validate reports why a segment cannot enter a store.
func (s Segment) Validate() error {
	if s.Owner == "" {
		return fmt.Errorf("%w: owner missing", ErrInvalidSegment)
	}
	if s.Mode != Overlapping && s.Mode != Strict {
		return fmt.Errorf("%w: unknown mode %d", ErrInvalidSegment, s.Mode)
	}
	if s.CreatedAt.IsZero() {
		return fmt.Errorf("%w: creation time missing", ErrInvalidSegment)
	}
	return nil
}

// IsFull reports whether the segment claims the whole ring.
func (s Segment) IsFull() bool {
	return s.Length >= Full
}

// Width is the covered width, capped at one full turn.
func (s Segment) Width() uint64 {
	if s.IsFull() {
		return DomainSize
	}
	return s.Length
}

// Fraction is the normalized width, capped at 1.
func (s Segment) Fraction() float64 {
	if s.IsFull() {
		return 1
	}
	return ToFraction(s.Length)
}

// Contains reports whether p lies literally inside the arc.
func (s Segment) Contains(p uint32) bool {
	if s.Length == 0 {
		return false
	}
	if s.IsFull() {
		return true
	}
	return forward(s.Offset, p) < s.Length
}

// containsWithin is Contains with tol units of slack on both arc edges.
func (s Segment) containsWithin(p uint32, tol uint64) bool {
	if s.Contains(p) {
		return true
	}
	if s.Length == 0 {
		return false
	}
	return forward(s.Offset, p) < s.Length+tol || forward(p, s.Offset) <= tol
}

// admits applies the mode rule: Strict segments need literal containment.
func (s Segment) admits(p uint32) bool {
	if s.Mode == Strict {
		return s.Contains(p)
	}
	return s.containsWithin(p, Tolerance)
}

// remainingFrom is how far the arc extends past p, or 0 if p is outside it.
func (s Segment) remainingFrom(p uint32) uint64 {
	if s.Length == 0 {
		return 0
	}
	if s.IsFull() {
		return DomainSize
	}
	var d = forward(s.Offset, p)
	if d < s.Length {
		return s.Length - d
	}
	if s.Mode == Overlapping {
		if back := forward(p, s.Offset); back <= Tolerance {
			return s.Length + back
		}
	}
	return 0
}

// gapTo is the distance from p to the nearest point of the arc.
func (s Segment) gapTo(p uint32) uint64 {
	if s.Contains(p) {
		return 0
	}
	var (
		ahead  = forward(p, s.Offset)
		behind = forward(s.Offset+uint32(s.Length-1), p)
	)
	return min(ahead, behind)
}

// IsMature reports whether the segment is at least roleAge old at now.
func (s Segment) IsMature(now time.Time, roleAge time.Duration) bool {
	return now.Sub(s.CreatedAt) >= roleAge
}

func (s Segment) String() string {
	return fmt.Sprintf("%s[%.4f+%.4f %s seq=%d]", s.Owner, ToFraction(uint64(s.Offset)), s.Fraction(), s.Mode, s.Seq)
}

// supersedes reports whether s replaces other as the current record of an owner.
func (s Segment) supersedes(other Segment) bool {
	if s.Seq != other.Seq {
		return s.Seq > other.Seq
	}
	return !s.CreatedAt.Before(other.CreatedAt)
}

// CoverRequest asks for the peers needed to cover Width starting at Start.
type CoverRequest struct {
	Start uint32
	// From, when set to a peer with a known segment, starts the walk at that
	// peer's offset and always includes it.
	From    PeerID
	Width   uint64
	RoleAge time.Duration
	// Eager disables maturity filtering and returns every intersecting peer.
	Eager bool
}

// LeaderQuery asks for Redundancy distinct peers responsible for Point.
type LeaderQuery struct {
	Point      uint32
	Redundancy int
	RoleAge    time.Duration
	Eager      bool
}
