package rangering

import (
	"math"
)

const (
	// DomainMax is the largest coordinate on the ring.
	DomainMax uint64 = math.MaxUint32

	// DomainSize is the number of distinct coordinates. Arithmetic on
	// coordinates is modulo DomainSize.
	DomainSize uint64 = DomainMax + 1

	// Full is the width of a claim that covers the whole ring.
	// A fraction of 1.0 scales to exactly this value.
	Full = DomainMax

	// Tolerance is the slack, in coordinate units, applied when comparing
	// against arc boundaries. Two peers scaling the same fraction may land
	// one unit apart.
	Tolerance uint64 = 2
)

// Direction selects how the circular distance between two points is measured.
type Direction int

const (
	// Above measures how far a is ahead of b, wrapping past the top of the ring.
	Above Direction = iota
	// Below measures how far a is behind b, wrapping past zero.
	Below
	// Closest is the smaller of Above and Below.
	Closest
)

func (d Direction) String() string {
	switch d {
	case Above:
		return "above"
	case Below:
		return "below"
	case Closest:
		return "closest"
	default:
		return "unknown"
	}
}

// Distance returns the circular distance from a to b on a ring of the given size.
// Inputs are reduced modulo size first; the result is always in [0, size).
func Distance(a, b uint64, dir Direction, size uint64) uint64 {
	if size == 0 {
		return 0
	}

	a %= size
	b %= size

	var (
		above = (a + size - b) % size
		below = (b + size - a) % size
	)

	switch dir {
	case Above:
		return above
	case Below:
		return below
	default:
		return min(above, below)
	}
}

// DistanceFraction is Distance for normalized coordinates, e.g. size 1.
// It is meant for presentation and tests; peers never compare floats for equality.
func DistanceFraction(a, b float64, dir Direction, size float64) float64 {
	if size <= 0 {
		return 0
	}

	a = math.Mod(math.Mod(a, size)+size, size)
	b = math.Mod(math.Mod(b, size)+size, size)

	var (
		above = math.Mod(a-b+size, size)
		below = math.Mod(b-a+size, size)
	)

	switch dir {
	case Above:
		return above
	case Below:
		return below
	default:
		return math.Min(above, below)
	}
}

// forward is the number of steps needed to walk from `from` to `to` in
// increasing coordinate order, i.e. how far to lies above from.
func forward(from, to uint32) uint64 {
	return Distance(uint64(to), uint64(from), Above, DomainSize)
}

// ScaleToDomain maps a fraction in [0, 1] to a ring coordinate.
// Values outside the interval are clamped.
func ScaleToDomain(f float64) uint32 {
	if math.IsNaN(f) || f <= 0 {
		return 0
	}
	if f >= 1 {
		return math.MaxUint32
	}
	return uint32(math.Round(f * float64(DomainMax)))
}

// ScaleWidth maps a non-negative fraction to an arc width. Fractions of 1 or
// more all mean the whole ring.
func ScaleWidth(f float64) (uint64, error) {
	if math.IsNaN(f) || f < 0 {
		return 0, ErrInvalidWidth
	}
	if f >= 1 {
		return Full, nil
	}
	return uint64(math.Round(f * float64(DomainMax))), nil
}

// ToFraction maps a coordinate or width back to the normalized interval.
func ToFraction(v uint64) float64 {
	return float64(v) / float64(DomainMax)
}
