package rangering

import (
	"context"
	"math"
	"math/rand/v2"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetSamples(t *testing.T) {
	const roleAge = time.Minute

	var (
		newCtx = func() context.Context {
			return context.Background()
		}
		now   = epoch.Add(time.Hour)
		young = now
		query = func(point float64, redundancy int) LeaderQuery {
			return LeaderQuery{Point: ScaleToDomain(point), Redundancy: redundancy, RoleAge: roleAge}
		}
	)

	t.Run("should return nothing for an empty store", func(t *testing.T) {
		// Arrange
		var snap = NewMemoryStore().Snapshot()

		// Act
		var peers, err = GetSamples(newCtx(), snap, now, query(0.5, 3))

		// Assert
		require.NoError(t, err)
		assert.Empty(t, peers)
	})

	t.Run("should select peers in proportion to their share of the ring", func(t *testing.T) {
		// Arrange
		var (
			snap = storeWith(t,
				segmentAt("peer-a", 0, 0.3333, epoch),
				segmentAt("peer-b", 0.3333, 0.3333, epoch),
				segmentAt("peer-c", 0.6666, 0.3334, epoch),
			).Snapshot()
			rng    = rand.New(rand.NewPCG(1, 2))
			counts = make(map[PeerID]int)
		)
		const samples = 10000

		// Act
		for range samples {
			var peers, err = GetSamples(newCtx(), snap, now, LeaderQuery{Point: rng.Uint32(), Redundancy: 1, RoleAge: roleAge})
			require.NoError(t, err)
			require.Len(t, peers, 1)
			counts[peers[0]]++
		}

		// Assert
		for _, owner := range []PeerID{"peer-a", "peer-b", "peer-c"} {
			assert.InDelta(t, 1.0/3, float64(counts[owner])/samples, 0.03, owner)
		}
	})

	t.Run("should return every peer when redundancy exceeds the peer count", func(t *testing.T) {
		// Arrange
		var snap = storeWith(t,
			segmentAt("peer-a", 0, 0.2, epoch),
			segmentAt("peer-b", 0.5, 0.2, epoch),
		).Snapshot()

		// Act
		var peers, err = GetSamples(newCtx(), snap, now, query(0.1, 5))

		// Assert
		require.NoError(t, err)
		assert.ElementsMatch(t, []PeerID{"peer-a", "peer-b"}, peers)
	})

	t.Run("should count a peer spanning several sample points once", func(t *testing.T) {
		// Arrange
		var snap = storeWith(t,
			segmentAt("peer-a", 0, 0.9, epoch),
			segmentAt("peer-b", 0.9, 0.1, epoch),
		).Snapshot()

		// Act
		var peers, err = GetSamples(newCtx(), snap, now, query(0, 3))

		// Assert
		require.NoError(t, err)
		assert.Equal(t, []PeerID{"peer-a"}, peers, "every sample point lands in peer-a")
	})

	t.Run("should not pad the result with unselected peers", func(t *testing.T) {
		// Arrange
		var snap = storeWith(t,
			segmentAt("peer-a", 0, 0.8, epoch),
			segmentAt("peer-b", 0.8, 0.1, epoch),
			segmentAt("peer-c", 0.9, 0.1, epoch),
		).Snapshot()

		// Act
		var peers, err = GetSamples(newCtx(), snap, now, query(0.1, 2))

		// Assert
		require.NoError(t, err)
		assert.Equal(t, []PeerID{"peer-a"}, peers)
	})

	t.Run("should leave out a strict segment missing every sample point", func(t *testing.T) {
		// Arrange
		var strict = segmentAt("peer-s", 0.3, 0.05, epoch)
		strict.Mode = Strict
		var snap = storeWith(t,
			segmentAt("peer-o", 0, 0.1, epoch),
			strict,
		).Snapshot()

		// Act
		var peers, err = GetSamples(newCtx(), snap, now, query(0.05, 2))

		// Assert
		require.NoError(t, err)
		assert.Equal(t, []PeerID{"peer-o"}, peers)
	})

	t.Run("should select peers in proportion to their share with several leaders", func(t *testing.T) {
		// Arrange
		var (
			snap = storeWith(t,
				segmentAt("peer-a", 0, 0.3333, epoch),
				segmentAt("peer-b", 0.3333, 0.3333, epoch),
				segmentAt("peer-c", 0.6666, 0.3334, epoch),
			).Snapshot()
			rng    = rand.New(rand.NewPCG(3, 4))
			counts = make(map[PeerID]int)
		)
		const samples = 10000

		// Act
		for range samples {
			var peers, err = GetSamples(newCtx(), snap, now, LeaderQuery{Point: rng.Uint32(), Redundancy: 2, RoleAge: roleAge})
			require.NoError(t, err)
			require.Len(t, peers, 2, "sample points half a ring apart land in different thirds")
			for _, p := range peers {
				counts[p]++
			}
		}

		// Assert
		for _, owner := range []PeerID{"peer-a", "peer-b", "peer-c"} {
			assert.InDelta(t, 2.0/3, float64(counts[owner])/samples, 0.03, owner)
		}
	})

	t.Run("should finish quickly for a huge redundancy", func(t *testing.T) {
		// Arrange
		var snap = storeWith(t,
			segmentAt("peer-a", 0, 0.5, epoch),
			segmentAt("peer-b", 0.5, 0.5, epoch),
		).Snapshot()

		// Act
		var peers, err = GetSamples(newCtx(), snap, now, query(0.1, math.MaxInt32))

		// Assert
		require.NoError(t, err)
		assert.Equal(t, []PeerID{"peer-a", "peer-b"}, peers)
	})

	t.Run("should answer a huge redundancy from whole-ring claims at once", func(t *testing.T) {
		// Arrange
		var snap = storeWith(t,
			segmentAt("peer-a", 0, 1, epoch),
			segmentAt("peer-b", 0.2, 0.1, epoch),
		).Snapshot()

		// Act
		var peers, err = GetSamples(newCtx(), snap, now, query(0.5, math.MaxInt32))

		// Assert
		require.NoError(t, err)
		assert.ElementsMatch(t, []PeerID{"peer-a", "peer-b"}, peers)
	})

	t.Run("should prefer a partial segment over a whole-ring claim", func(t *testing.T) {
		// Arrange
		var snap = storeWith(t,
			segmentAt("peer-a", 0, 1, epoch),
			segmentAt("peer-b", 0, 0.1, epoch),
		).Snapshot()

		// Act
		var peers, err = GetSamples(newCtx(), snap, now, query(0.05, 2))

		// Assert
		require.NoError(t, err)
		assert.Equal(t, []PeerID{"peer-b", "peer-a"}, peers)
	})

	t.Run("should never pick a strict segment that misses the point", func(t *testing.T) {
		// Arrange
		var strict = segmentAt("peer-s", 0.51, 0.09, epoch)
		strict.Mode = Strict
		var snap = storeWith(t,
			segmentAt("peer-o", 0.3, 0.18, epoch),
			strict,
		).Snapshot()

		// Act
		var peers, err = GetSamples(newCtx(), snap, now, query(0.5, 1))

		// Assert
		require.NoError(t, err)
		assert.Equal(t, []PeerID{"peer-o"}, peers)
	})

	t.Run("should fall back to the nearest overlapping segment", func(t *testing.T) {
		// Arrange
		var snap = storeWith(t,
			segmentAt("peer-a", 0, 0.1, epoch),
			segmentAt("peer-b", 0.5, 0.1, epoch),
		).Snapshot()

		// Act
		var peers, err = GetSamples(newCtx(), snap, now, query(0.35, 1))

		// Assert
		require.NoError(t, err)
		assert.Equal(t, []PeerID{"peer-b"}, peers)
	})

	t.Run("should prefer mature segments unless eager", func(t *testing.T) {
		// Arrange
		var (
			snap = storeWith(t,
				segmentAt("peer-a", 0.25, 0.5, young),
				segmentAt("peer-b", 0, 0.5, epoch),
			).Snapshot()
			q = query(0.3, 1)
		)

		// Act
		var lazy, err = GetSamples(newCtx(), snap, now, q)
		require.NoError(t, err)

		q.Eager = true
		eager, err := GetSamples(newCtx(), snap, now, q)
		require.NoError(t, err)

		// Assert
		assert.Equal(t, []PeerID{"peer-b"}, lazy)
		assert.Equal(t, []PeerID{"peer-a"}, eager)
	})

	t.Run("should still answer when every segment is young", func(t *testing.T) {
		// Arrange
		var snap = storeWith(t,
			segmentAt("peer-a", 0, 0.5, young),
			segmentAt("peer-b", 0.5, 0.5, young),
		).Snapshot()

		// Act
		var peers, err = GetSamples(newCtx(), snap, now, query(0.7, 1))

		// Assert
		require.NoError(t, err)
		assert.Equal(t, []PeerID{"peer-b"}, peers)
	})

	// Two whole-ring claims answer every sample point equally well. Both are returned
	// rather than picking one, so callers may see more than redundancy peers.
	t.Run("should return all ambiguous whole-ring matches", func(t *testing.T) {
		// Arrange
		var snap = storeWith(t,
			segmentAt("peer-a", 0.1, 1, epoch),
			segmentAt("peer-b", 0.7, 1, epoch),
		).Snapshot()

		// Act
		var peers, err = GetSamples(newCtx(), snap, now, query(0.4, 1))

		// Assert
		require.NoError(t, err)
		assert.ElementsMatch(t, []PeerID{"peer-a", "peer-b"}, peers)
	})

	t.Run("should stop when the caller gives up", func(t *testing.T) {
		// Arrange
		var (
			snap        = storeWith(t, segmentAt("peer-a", 0, 1, epoch)).Snapshot()
			ctx, cancel = context.WithCancel(newCtx())
		)
		cancel()

		// Act
		var _, err = GetSamples(ctx, snap, now, query(0.4, 2))

		// Assert
		assert.ErrorIs(t, err, context.Canceled)
	})
}
