// Package obs is the observability layer (C9): Prometheus counters for
// reconnect latency, conflicts, lock-acquire failures, and cleanup, plus a
// periodic structured summary log line. Shaped after the teacher's
// internal/metrics package — package-level vectors registered once, a
// scrape-time Collector for live gauges — generalized from HTTP/ingest
// counters to the listen-together domain's own events.
package obs

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
)

const namespace = "listen_together"

// Metrics are counters and histograms incremented directly by callers as
// events happen — no scrape-time computation needed for these.
var (
	MutationsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "mutations_total",
		Help:      "Total mutations applied, by verb and outcome.",
	}, []string{"verb", "outcome"})

	LockConflictsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "lock_conflicts_total",
		Help:      "Total mutation lock acquire failures, by cause.",
	}, []string{"cause"})

	ReconnectLatencySeconds = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "reconnect_latency_seconds",
		Help:      "Time between a socket's last disconnect and its successful reconnect join.",
		Buckets:   []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30},
	})

	DisconnectGraceExpiredTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "disconnect_grace_expired_total",
		Help:      "Total members removed after their disconnect-grace window elapsed without reconnecting.",
	})

	ReadyGateTimeoutsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "ready_gate_timeouts_total",
		Help:      "Total ready gates that closed via deadline rather than full quorum.",
	})

	GroupsEndedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "groups_ended_total",
		Help:      "Total groups torn down due to empty membership.",
	})
)

func init() {
	prometheus.MustRegister(
		MutationsTotal,
		LockConflictsTotal,
		ReconnectLatencySeconds,
		DisconnectGraceExpiredTotal,
		ReadyGateTimeoutsTotal,
		GroupsEndedTotal,
	)
}

// LiveStats is read at scrape time by Collector, implemented by
// internal/presence's Presence atop the fanout hub's rooms.
type LiveStats interface {
	ActiveGroupCount() int
	ActiveSocketCount() int
}

// Collector exposes live gauges that don't fit the increment-as-it-happens
// counters above.
type Collector struct {
	stats LiveStats

	activeGroups  *prometheus.Desc
	activeSockets *prometheus.Desc
}

// NewCollector builds a Collector reading from stats at each scrape.
func NewCollector(stats LiveStats) *Collector {
	return &Collector{
		stats: stats,
		activeGroups: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "", "active_groups"),
			"Current number of groups with at least one subscribed socket on this pod.",
			nil, nil,
		),
		activeSockets: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "", "active_sockets"),
			"Current number of live listener sockets on this pod.",
			nil, nil,
		),
	}
}

func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.activeGroups
	ch <- c.activeSockets
}

func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	groups, sockets := 0, 0
	if c.stats != nil {
		groups = c.stats.ActiveGroupCount()
		sockets = c.stats.ActiveSocketCount()
	}
	ch <- prometheus.MustNewConstMetric(c.activeGroups, prometheus.GaugeValue, float64(groups))
	ch <- prometheus.MustNewConstMetric(c.activeSockets, prometheus.GaugeValue, float64(sockets))
}

// RunPeriodicLog logs a structured summary line every interval until ctx is
// canceled, for operators who don't yet have Prometheus scraping wired up.
func RunPeriodicLog(ctx context.Context, interval time.Duration, stats LiveStats, log zerolog.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			groups, sockets := 0, 0
			if stats != nil {
				groups = stats.ActiveGroupCount()
				sockets = stats.ActiveSocketCount()
			}
			log.Info().
				Int("active_groups", groups).
				Int("active_sockets", sockets).
				Msg("listen-together periodic status")
		}
	}
}
