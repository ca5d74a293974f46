package rangering

import (
	"github.com/prometheus/client_golang/prometheus"

	"go-rangering/metrics"
)

const subsystem = "replicator"

var (
	controllerWidth = metrics.NewGauge(
		"own_width",
		subsystem,
		"normalized width the controller wants for the local segment",
		[]string{},
	).WithLabelValues()

	announcements = metrics.NewCounter(
		"announcements",
		subsystem,
		"number of local segment announcements",
		[]string{"kind"},
	)
	announceGrow   = announcements.WithLabelValues("grow")
	announceShrink = announcements.WithLabelValues("shrink")
	announceStop   = announcements.WithLabelValues("stop")

	skippedCycles = metrics.NewCounter(
		"skipped_cycles",
		subsystem,
		"number of controller cycles skipped because resource usage was unknown",
		[]string{},
	).WithLabelValues()

	querySize = metrics.NewHistogramWithBuckets(
		"query_peers",
		subsystem,
		"number of peers returned by placement queries",
		[]string{"query"},
		prometheus.ExponentialBuckets(1, 2, 8),
	)
	coverSetSize  = querySize.WithLabelValues("cover")
	leaderSetSize = querySize.WithLabelValues("leaders")

	storeSegments = metrics.NewGauge(
		"segments",
		subsystem,
		"number of peers with a non-empty segment in the local store",
		[]string{},
	).WithLabelValues()

	remoteAnnouncements = metrics.NewCounter(
		"remote_announcements",
		subsystem,
		"announcements received from other peers",
		[]string{"result"},
	)
	remoteApplied  = remoteAnnouncements.WithLabelValues("applied")
	remoteRejected = remoteAnnouncements.WithLabelValues("rejected")
)
