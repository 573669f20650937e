package metrics

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/rickgao/blackjack-market/internal/game"
	"github.com/rickgao/blackjack-market/internal/txn"
)

const namespace = "bjclient"

// Collectors holds the client's metrics.
type Collectors struct {
	registry *prometheus.Registry

	pollRuns     *prometheus.CounterVec
	pollDuration *prometheus.HistogramVec

	intentTransitions *prometheus.CounterVec
	intentsInflight   prometheus.Gauge

	headBlock    prometheus.Gauge
	gamePhase    *prometheus.GaugeVec
	stuck        prometheus.Gauge
	disconnected prometheus.Gauge

	mu       sync.Mutex
	inflight map[string]bool
	phase    string
}

// New creates and registers the collectors on a fresh registry, together with
// the Go runtime and process collectors.
func New() *Collectors {
	c := &Collectors{
		registry: prometheus.NewRegistry(),
		inflight: make(map[string]bool),
		pollRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "poll",
			Name:      "runs_total",
			Help:      "Poll job runs by job and result.",
		}, []string{"job", "result"}),
		pollDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "poll",
			Name:      "duration_seconds",
			Help:      "Poll job run latency.",
			Buckets:   []float64{.01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		}, []string{"job"}),
		intentTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "intent",
			Name:      "transitions_total",
			Help:      "Intent transitions by kind and status.",
		}, []string{"kind", "status"}),
		intentsInflight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "intent",
			Name:      "inflight",
			Help:      "Intents that have not reached a terminal status.",
		}),
		headBlock: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "chain",
			Name:      "head_block",
			Help:      "Highest block number seen.",
		}),
		gamePhase: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "game",
			Name:      "phase",
			Help:      "1 for the current game phase, 0 otherwise.",
		}, []string{"phase"}),
		stuck: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "game",
			Name:      "stuck",
			Help:      "1 while the current game is waiting past the deal timeout.",
		}),
		disconnected: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "game",
			Name:      "disconnected",
			Help:      "1 while consecutive poll failures exceed the threshold.",
		}),
	}

	c.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		c.pollRuns,
		c.pollDuration,
		c.intentTransitions,
		c.intentsInflight,
		c.headBlock,
		c.gamePhase,
		c.stuck,
		c.disconnected,
	)
	return c
}

// Handler serves the registry in the Prometheus text format.
func (c *Collectors) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{Registry: c.registry})
}

// Registry returns the underlying registry.
func (c *Collectors) Registry() *prometheus.Registry {
	return c.registry
}

// ObservePoll records one poll run. Its signature matches poller.ResultFunc.
func (c *Collectors) ObservePoll(job string, d time.Duration, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	c.pollRuns.WithLabelValues(job, result).Inc()
	c.pollDuration.WithLabelValues(job).Observe(d.Seconds())
}

// RecordIntent counts a transition. It implements txn.Recorder.
func (c *Collectors) RecordIntent(p txn.PendingIntent) {
	c.intentTransitions.WithLabelValues(string(p.Kind), string(p.Status)).Inc()

	c.mu.Lock()
	if p.Status.Terminal() {
		delete(c.inflight, p.ID)
	} else {
		c.inflight[p.ID] = true
	}
	n := len(c.inflight)
	c.mu.Unlock()

	c.intentsInflight.Set(float64(n))
}

// ObserveHead records a new chain head.
func (c *Collectors) ObserveHead(block uint64) {
	c.headBlock.Set(float64(block))
}

// ObserveView records the derived game state.
func (c *Collectors) ObserveView(v game.View) {
	phase := v.Phase.String()

	c.mu.Lock()
	prev := c.phase
	c.phase = phase
	c.mu.Unlock()

	if prev != "" && prev != phase {
		c.gamePhase.WithLabelValues(prev).Set(0)
	}
	c.gamePhase.WithLabelValues(phase).Set(1)
	c.stuck.Set(boolFloat(v.Stuck))
	c.disconnected.Set(boolFloat(v.Disconnected))
}

func boolFloat(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
