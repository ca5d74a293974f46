package rangering

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetCoverSet(t *testing.T) {
	const roleAge = time.Minute

	var (
		newCtx = func() context.Context {
			return context.Background()
		}
		now   = epoch.Add(time.Hour)
		young = now
	)

	t.Run("should return nothing for an empty store", func(t *testing.T) {
		// Arrange
		var snap = NewMemoryStore().Snapshot()

		// Act
		var peers, err = GetCoverSet(newCtx(), snap, now, CoverRequest{Width: Full, RoleAge: roleAge})

		// Assert
		require.NoError(t, err)
		assert.Empty(t, peers)
	})

	t.Run("should answer locally when the own segment covers the ring", func(t *testing.T) {
		// Arrange
		var snap = storeWith(t,
			segmentAt("peer-a", 0, 1, epoch),
			segmentAt("peer-b", 0.3, 1, epoch),
			segmentAt("peer-c", 0.6, 1, epoch),
		).Snapshot()

		// Act
		var peers, err = GetCoverSet(newCtx(), snap, now, CoverRequest{From: "peer-a", Width: Full, RoleAge: roleAge})

		// Assert
		require.NoError(t, err)
		assert.Equal(t, []PeerID{"peer-a"}, peers)
	})

	t.Run("should use young segments when nothing mature covers the gap", func(t *testing.T) {
		// Arrange
		var snap = storeWith(t,
			segmentAt("peer-a", 0, 0.1, young),
			segmentAt("peer-b", 0.333, 0.1, young),
			segmentAt("peer-c", 0.666, 0.1, young),
		).Snapshot()

		// Act
		var peers, err = GetCoverSet(newCtx(), snap, now, CoverRequest{From: "peer-a", Width: Full, RoleAge: 24 * time.Hour})

		// Assert
		require.NoError(t, err)
		assert.Equal(t, []PeerID{"peer-a", "peer-b", "peer-c"}, peers)
	})

	t.Run("should return only the peers needed for a partial width", func(t *testing.T) {
		// Arrange
		var snap = storeWith(t,
			segmentAt("peer-a", 0, 0.3, epoch),
			segmentAt("peer-b", 0.3, 0.3, epoch),
			segmentAt("peer-c", 0.6, 0.3, epoch),
		).Snapshot()
		var width, _ = ScaleWidth(0.5)

		// Act
		var peers, err = GetCoverSet(newCtx(), snap, now, CoverRequest{Start: 0, Width: width, RoleAge: roleAge})

		// Assert
		require.NoError(t, err)
		assert.Equal(t, []PeerID{"peer-a", "peer-b"}, peers)
	})

	t.Run("should trust only the starting peer when every young segment covers the ring", func(t *testing.T) {
		// Arrange
		var (
			snap = storeWith(t,
				segmentAt("peer-a", 0, 1, young),
				segmentAt("peer-b", 0.3, 1, young),
				segmentAt("peer-c", 0.6, 1, young),
			).Snapshot()
			req = CoverRequest{From: "peer-a", Width: Full, RoleAge: time.Hour}
		)

		// Act
		var lazy, err = GetCoverSet(newCtx(), snap, now, req)
		require.NoError(t, err)

		req.Eager = true
		eager, err := GetCoverSet(newCtx(), snap, now, req)
		require.NoError(t, err)

		// Assert
		assert.Equal(t, []PeerID{"peer-a"}, lazy)
		assert.ElementsMatch(t, []PeerID{"peer-a", "peer-b", "peer-c"}, eager)
	})

	t.Run("should prefer a mature segment over an equally wide young one", func(t *testing.T) {
		// Arrange
		var (
			snap = storeWith(t,
				segmentAt("peer-a", 0, 0.5, young),
				segmentAt("peer-b", 0, 0.5, epoch),
			).Snapshot()
			width, _ = ScaleWidth(0.5)
		)

		// Act
		var peers, err = GetCoverSet(newCtx(), snap, now, CoverRequest{Width: width, RoleAge: roleAge})

		// Assert
		require.NoError(t, err)
		assert.Equal(t, []PeerID{"peer-b"}, peers)
	})

	t.Run("should take a young segment that reaches further than any mature one", func(t *testing.T) {
		// Arrange
		var (
			snap = storeWith(t,
				segmentAt("peer-m", 0, 0.1, epoch),
				segmentAt("peer-y", 0, 0.5, young),
			).Snapshot()
			width, _ = ScaleWidth(0.5)
		)

		// Act
		var peers, err = GetCoverSet(newCtx(), snap, now, CoverRequest{Width: width, RoleAge: roleAge})

		// Assert
		require.NoError(t, err)
		assert.Equal(t, []PeerID{"peer-y"}, peers)
	})

	t.Run("should prefer a mature segment that reaches the target even if a young one reaches further", func(t *testing.T) {
		// Arrange
		var (
			snap = storeWith(t,
				segmentAt("peer-m", 0, 0.3, epoch),
				segmentAt("peer-y", 0, 0.8, young),
			).Snapshot()
			width, _ = ScaleWidth(0.3)
		)

		// Act
		var peers, err = GetCoverSet(newCtx(), snap, now, CoverRequest{Width: width, RoleAge: roleAge})

		// Assert
		require.NoError(t, err)
		assert.Equal(t, []PeerID{"peer-m"}, peers)
	})

	t.Run("should include a young segment when it is the only way forward", func(t *testing.T) {
		// Arrange
		var snap = storeWith(t,
			segmentAt("peer-a", 0, 0.5, epoch),
			segmentAt("peer-b", 0.5, 0.5, young),
		).Snapshot()

		// Act
		var peers, err = GetCoverSet(newCtx(), snap, now, CoverRequest{Width: Full, RoleAge: roleAge})

		// Assert
		require.NoError(t, err)
		assert.Equal(t, []PeerID{"peer-a", "peer-b"}, peers)
	})

	t.Run("should not jump over a gap to a strict segment", func(t *testing.T) {
		// Arrange
		var strict = segmentAt("peer-s", 0.5, 0.2, epoch)
		strict.Mode = Strict
		var snap = storeWith(t,
			segmentAt("peer-a", 0, 0.2, epoch),
			strict,
			segmentAt("peer-c", 0.8, 0.1, epoch),
		).Snapshot()

		// Act
		var peers, err = GetCoverSet(newCtx(), snap, now, CoverRequest{Width: Full, RoleAge: roleAge})

		// Assert
		require.NoError(t, err)
		assert.Equal(t, []PeerID{"peer-a", "peer-c"}, peers)
	})

	t.Run("should use a strict segment the walk lands in", func(t *testing.T) {
		// Arrange
		var strict = segmentAt("peer-s", 0.4, 0.4, epoch)
		strict.Mode = Strict
		var (
			snap     = storeWith(t, segmentAt("peer-a", 0, 0.5, epoch), strict).Snapshot()
			width, _ = ScaleWidth(0.8)
		)

		// Act
		var peers, err = GetCoverSet(newCtx(), snap, now, CoverRequest{Width: width, RoleAge: roleAge})

		// Assert
		require.NoError(t, err)
		assert.Equal(t, []PeerID{"peer-a", "peer-s"}, peers)
	})

	t.Run("should fall back to remaining peers after a peer leaves", func(t *testing.T) {
		// Arrange
		var (
			store = storeWith(t,
				segmentAt("peer-a", 0, 0.5, epoch),
				segmentAt("peer-b", 0.5, 0.5, epoch),
				segmentAt("peer-c", 0.5, 0.5, epoch),
			)
			req = CoverRequest{Width: Full, RoleAge: roleAge}
		)
		var before, err = GetCoverSet(newCtx(), store.Snapshot(), now, req)
		require.NoError(t, err)

		// Act
		require.NoError(t, store.RemoveOwner(newCtx(), "peer-b"))
		after, err := GetCoverSet(newCtx(), store.Snapshot(), now, req)

		// Assert
		require.NoError(t, err)
		assert.Equal(t, []PeerID{"peer-a", "peer-b"}, before)
		assert.Equal(t, []PeerID{"peer-a", "peer-c"}, after)
	})

	t.Run("should start at the request start when the local peer is unknown", func(t *testing.T) {
		// Arrange
		var (
			snap = storeWith(t,
				segmentAt("peer-a", 0, 0.5, epoch),
				segmentAt("peer-b", 0.5, 0.5, epoch),
			).Snapshot()
			width, _ = ScaleWidth(0.2)
		)

		// Act
		var peers, err = GetCoverSet(newCtx(), snap, now, CoverRequest{
			Start:   ScaleToDomain(0.6),
			From:    "peer-unknown",
			Width:   width,
			RoleAge: roleAge,
		})

		// Assert
		require.NoError(t, err)
		assert.Equal(t, []PeerID{"peer-b"}, peers)
	})

	t.Run("should stop when the caller gives up", func(t *testing.T) {
		// Arrange
		var (
			snap        = storeWith(t, segmentAt("peer-a", 0, 0.3, epoch)).Snapshot()
			ctx, cancel = context.WithCancel(newCtx())
		)
		cancel()

		// Act
		var _, err = GetCoverSet(ctx, snap, now, CoverRequest{Width: Full, RoleAge: roleAge})

		// Assert
		assert.ErrorIs(t, err, context.Canceled)
	})
}

func TestHasCoveringRange(t *testing.T) {
	t.Run("should report coverage by a single segment", func(t *testing.T) {
		// Arrange
		var snap = storeWith(t, segmentAt("peer-a", 0, 0.5, epoch)).Snapshot()

		// Act & Assert
		assert.True(t, HasCoveringRange(snap, segmentAt("peer-x", 0.2, 0.2, epoch)))
	})

	t.Run("should report coverage spanning several segments", func(t *testing.T) {
		// Arrange
		var snap = storeWith(t,
			segmentAt("peer-a", 0, 0.5, epoch),
			segmentAt("peer-b", 0.5, 0.5, epoch),
		).Snapshot()

		// Act & Assert
		assert.True(t, HasCoveringRange(snap, segmentAt("peer-x", 0.2, 0.5, epoch)))
		assert.True(t, HasCoveringRange(snap, segmentAt("peer-x", 0.9, 0.2, epoch)), "across the wrap")
	})

	t.Run("should report a hole", func(t *testing.T) {
		// Arrange
		var snap = storeWith(t,
			segmentAt("peer-a", 0, 0.5, epoch),
			segmentAt("peer-b", 0.6, 0.3, epoch),
		).Snapshot()

		// Act & Assert
		assert.False(t, HasCoveringRange(snap, segmentAt("peer-x", 0.4, 0.3, epoch)))
	})

	t.Run("should not count the candidate itself", func(t *testing.T) {
		// Arrange
		var (
			store     = storeWith(t, segmentAt("peer-x", 0.2, 0.2, epoch))
			candidate = store.Snapshot().Segments()[0]
		)

		// Act & Assert
		assert.False(t, HasCoveringRange(store.Snapshot(), candidate))
	})

	t.Run("should treat an empty candidate as covered", func(t *testing.T) {
		assert.True(t, HasCoveringRange(NewMemoryStore().Snapshot(), segmentAt("peer-x", 0.2, 0, epoch)))
	})
}
