package rangering

import (
	"io"
	"log/slog"
	"time"

	"github.com/jonboulle/clockwork"
)

// options configures the Replicator behavior (internal only).
type options struct {
	roleAge         time.Duration
	controlInterval time.Duration
	pruneInterval   time.Duration
	refreshInterval time.Duration
	retention       time.Duration
	hysteresis      float64
	kp, ki, kd      float64
	targetReplicas  int
	mode            Mode
	limits          Limits
	leaderCacheSize int
	stateFile       string
	store           SegmentStore
	monitor         ResourceMonitor
	announcer       Announcer
	entryMapper     func(entry []byte) uint32
	clock           clockwork.Clock
	logger          *slog.Logger
}

// defaultOptions returns sensible defaults.
func defaultOptions() options {
	var controlInterval = 2 * time.Second
	return options{
		roleAge:         15 * time.Second,
		controlInterval: controlInterval,
		pruneInterval:   30 * time.Second,
		refreshInterval: controlInterval / 2,
		retention:       5 * time.Minute,
		hysteresis:      0.01,
		kp:              0.5,
		ki:              0.05,
		kd:              0,
		targetReplicas:  2,
		mode:            Overlapping,
		leaderCacheSize: 4096,
		monitor:         NewHostMonitor(nil),
		announcer:       nopAnnouncer{},
		entryMapper:     EntryCoordinate,
		clock:           clockwork.NewRealClock(),
		logger:          slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
}

// Option is a functional option for configuring a Replicator.
type Option func(*options)

// WithRoleAge sets the default age a segment needs before it is trusted.
// DEFAULT: 15s
func WithRoleAge(d time.Duration) Option {
	return func(o *options) {
		o.roleAge = d
	}
}

// WithControlInterval sets how often the local segment is rebalanced.
// Remote segments are reloaded from a shared store twice as often.
// DEFAULT: 2s
func WithControlInterval(d time.Duration) Option {
	return func(o *options) {
		o.controlInterval = d
		o.refreshInterval = d / 2
	}
}

// WithPruneInterval sets how often superseded records are dropped, and how
// long zero-length records are kept before they are forgotten.
func WithPruneInterval(interval, retention time.Duration) Option {
	return func(o *options) {
		o.pruneInterval = interval
		o.retention = retention
	}
}

// WithHysteresis sets the minimum width change worth announcing.
// DEFAULT: 0.01
func WithHysteresis(h float64) Option {
	return func(o *options) {
		o.hysteresis = h
	}
}

// WithControllerGains sets the proportional, integral and derivative gains
// of the width controller.
func WithControllerGains(kp, ki, kd float64) Option {
	return func(o *options) {
		o.kp, o.ki, o.kd = kp, ki, kd
	}
}

// WithTargetReplicas sets how many copies of every point the network should
// hold. Each peer aims for targetReplicas / peers of the ring.
// DEFAULT: 2
func WithTargetReplicas(n int) Option {
	return func(o *options) {
		o.targetReplicas = n
	}
}

// WithMode sets the mode of the segments this peer announces.
// DEFAULT: Overlapping
func WithMode(m Mode) Option {
	return func(o *options) {
		o.mode = m
	}
}

// WithLimits sets the initial resource limits.
// DEFAULT: unlimited
func WithLimits(l Limits) Option {
	return func(o *options) {
		o.limits = l
	}
}

// WithLeaderCacheSize sets how many leader answers are memoised. Zero disables the cache.
func WithLeaderCacheSize(n int) Option {
	return func(o *options) {
		o.leaderCacheSize = n
	}
}

// WithStateFile persists the local segment so that a restarted peer keeps its
// position and maturity.
func WithStateFile(path string) Option {
	return func(o *options) {
		o.stateFile = path
	}
}

// WithStore sets the segment store.
// DEFAULT: an in-memory store
func WithStore(s SegmentStore) Option {
	return func(o *options) {
		o.store = s
	}
}

// WithResourceMonitor sets where resource usage is read from.
// DEFAULT: the Go runtime, without storage usage
func WithResourceMonitor(m ResourceMonitor) Option {
	return func(o *options) {
		if m != nil {
			o.monitor = m
		}
	}
}

// WithAnnouncer sets the receiver of local segment changes.
func WithAnnouncer(a Announcer) Option {
	return func(o *options) {
		if a != nil {
			o.announcer = a
		}
	}
}

// WithEntryMapper replaces the entry-to-coordinate mapping.
// DEFAULT: EntryCoordinate
func WithEntryMapper(f func(entry []byte) uint32) Option {
	return func(o *options) {
		if f != nil {
			o.entryMapper = f
		}
	}
}

// WithClock sets the time source for maturity and timers.
func WithClock(c clockwork.Clock) Option {
	return func(o *options) {
		if c != nil {
			o.clock = c
		}
	}
}

// WithLogger sets the logger for the replicator.
// If the logger is nil, the replicator will use a no-op logger.
// DEFAULT: A no-op logger
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		if logger == nil {
			o.logger = slog.New(slog.NewTextHandler(io.Discard, nil))
			return
		}

		o.logger = logger
	}
}
