package rangering

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
)

// controller rebalances the width of the local segment against resource
// limits and the fair share of the known network. It is a PID loop on the
// normalized width: the error term is the distance to the fair share, capped
// by the tightest resource headroom so that an exceeded limit always shrinks.
type controller struct {
	self    PeerID
	store   SegmentStore
	monitor ResourceMonitor
	publish func(ctx context.Context, seg Segment, generation uint64) error
	clock   clockwork.Clock
	logger  *slog.Logger

	kp, ki, kd     float64
	hysteresis     float64
	targetReplicas int
	interval       time.Duration
	mode           Mode

	mu         sync.Mutex // serializes cycles and limit updates
	limits     Limits
	width      float64
	integral   float64
	lastError  float64
	lastStep   time.Time
	announced  Segment
	generation uint64
}

func newController(self PeerID, store SegmentStore, publish func(context.Context, Segment, uint64) error, o options) *controller {
	return &controller{
		self:           self,
		store:          store,
		monitor:        o.monitor,
		publish:        publish,
		clock:          o.clock,
		logger:         o.logger,
		kp:             o.kp,
		ki:             o.ki,
		kd:             o.kd,
		hysteresis:     o.hysteresis,
		targetReplicas: o.targetReplicas,
		interval:       o.controlInterval,
		mode:           o.mode,
		limits:         o.limits,
	}
}

// restore seeds the controller with a segment announced by an earlier run
// under the given generation.
func (c *controller) restore(seg Segment, generation uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.announced = seg
	c.generation = generation
	if seg.Length == 0 {
		c.generation++
	}
	c.width = seg.Fraction()
}

func (c *controller) setLimits(l Limits) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.limits = l
}

func (c *controller) currentLimits() Limits {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.limits
}

// state returns the last announced segment and its generation.
func (c *controller) state() (Segment, uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.announced, c.generation
}

// step runs one evaluation cycle. A failed resource reading skips the cycle
// and keeps the last announced segment.
func (c *controller) step(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	var usage, err = c.monitor.Usage(ctx)
	if err != nil {
		skippedCycles.Inc()
		c.logger.Warn("skipping rebalance, resource usage unknown", "error", err)
		return nil
	}

	var (
		now     = c.clock.Now()
		desired = c.desiredWidth(usage, now)
	)
	c.lastStep = now
	c.width = desired
	controllerWidth.Set(desired)

	c.logger.Debug("rebalance cycle",
		"width", desired,
		"announced", c.announced.Fraction(),
		"memory", usage.Memory,
		"storage", usage.Storage,
		"cpu", usage.CPU)

	next, announce, err := c.nextSegment(desired, now)
	if err != nil {
		return err
	}
	if !announce {
		return nil
	}

	if err := c.publish(ctx, next, c.generation); err != nil {
		return fmt.Errorf("failed to publish segment: %w", err)
	}

	switch {
	case next.Length == 0:
		announceStop.Inc()
		c.generation++
	case next.Length >= c.announced.Length:
		announceGrow.Inc()
	default:
		announceShrink.Inc()
	}
	c.announced = next

	c.logger.Info("announced segment", "owner", c.self, "offset", ToFraction(uint64(next.Offset)), "width", next.Fraction())
	return nil
}

// desiredWidth advances the PID state and returns the new width in [0, 1].
// Must be called with lock held.
func (c *controller) desiredWidth(usage Usage, now time.Time) float64 {
	if c.limits.blocked() {
		c.integral, c.lastError = 0, 0
		return 0
	}

	var (
		snap  = c.store.Snapshot()
		peers = 1
	)
	for _, owner := range snap.Owners() {
		if owner != c.self {
			peers++
		}
	}

	var (
		fair   = math.Min(1, float64(max(c.targetReplicas, 1))/float64(peers))
		errVal = math.Min(fair-c.width, c.limits.headroom(usage))
		dt     = 1.0
	)
	if !c.lastStep.IsZero() && c.interval > 0 {
		dt = math.Max(0.01, math.Min(10, now.Sub(c.lastStep).Seconds()/c.interval.Seconds()))
	}

	c.integral = math.Max(-1, math.Min(1, c.integral+errVal*dt))
	var derivative = (errVal - c.lastError) / dt
	c.lastError = errVal

	var width = c.width + c.kp*errVal + c.ki*c.integral + c.kd*derivative
	return math.Max(0, math.Min(1, width))
}

// nextSegment decides whether desired differs enough from the last announced
// segment to be worth announcing. Must be called with lock held.
func (c *controller) nextSegment(desired float64, now time.Time) (Segment, bool, error) {
	var (
		prev   = c.announced
		active = prev.Owner != "" && prev.Length > 0
	)

	if desired == 0 {
		if !active {
			return Segment{}, false, nil
		}
		var stop = prev
		stop.ID = uuid.New()
		stop.Length = 0
		stop.Seq = prev.Seq + 1
		stop.CreatedAt = now
		return stop, true, nil
	}

	var length, err = ScaleWidth(desired)
	if err != nil {
		return Segment{}, false, fmt.Errorf("failed to scale width %v: %w", desired, err)
	}
	if length == 0 {
		// rounds to nothing; treat as not replicating yet
		return Segment{}, false, nil
	}

	if !active {
		return Segment{
			ID:        uuid.New(),
			Owner:     c.self,
			Offset:    ownerOffset(c.self, c.generation),
			Length:    length,
			CreatedAt: now,
			Seq:       prev.Seq + 1,
			Mode:      c.mode,
		}, true, nil
	}

	if math.Abs(desired-prev.Fraction()) <= c.hysteresis {
		return Segment{}, false, nil
	}

	var next = prev
	next.ID = uuid.New()
	next.Length = length
	next.Seq = prev.Seq + 1
	return next, true, nil
}

// stop announces a zero-length segment if the local peer is replicating.
func (c *controller) stop(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	var next, announce, err = c.nextSegment(0, c.clock.Now())
	if err != nil || !announce {
		return err
	}
	if err := c.publish(ctx, next, c.generation); err != nil {
		return fmt.Errorf("failed to publish stop: %w", err)
	}

	announceStop.Inc()
	c.announced = next
	c.generation++
	c.width = 0
	c.integral, c.lastError = 0, 0
	controllerWidth.Set(0)
	return nil
}
