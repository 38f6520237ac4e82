package metrics

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/push"

	"waker/internal/checks"
	"waker/internal/config"
)

const namespace = "waker"

// Version is stamped at build time with -ldflags "-X waker/internal/metrics.Version=...".
var Version = "dev"

// Bundle owns a private registry so each run exports only its own series.
type Bundle struct {
	Registry  *prometheus.Registry
	Collector *Collector
}

type Collector struct {
	up       *prometheus.GaugeVec
	duration *prometheus.GaugeVec
	probes   *prometheus.CounterVec
	lastRun  prometheus.Gauge
}

func NewBundle() *Bundle {
	reg := prometheus.NewRegistry()

	buildInfo := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "build_info",
		Help:      "Build information about the waker binary.",
	}, []string{"version", "goversion"})
	buildInfo.WithLabelValues(Version, runtime.Version()).Set(1)

	c := &Collector{
		up: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "up",
			Help:      "Whether the last probe of the target returned valid JSON (1) or not (0).",
		}, []string{"target"}),
		duration: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "probe_duration_seconds",
			Help:      "Wall-clock duration of the last probe of the target.",
		}, []string{"target"}),
		probes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "probe_total",
			Help:      "Probes performed, by target and outcome status.",
		}, []string{"target", "status"}),
		lastRun: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_run_timestamp_seconds",
			Help:      "Unix time at which the last run finished probing.",
		}),
	}

	reg.MustRegister(buildInfo, c.up, c.duration, c.probes, c.lastRun)

	return &Bundle{Registry: reg, Collector: c}
}

// EnsureTargets pre-creates per-target series so targets show up as down
// before their first probe completes.
func (c *Collector) EnsureTargets(targets []config.Target) {
	for _, t := range targets {
		c.up.WithLabelValues(t.Name)
		c.duration.WithLabelValues(t.Name)
	}
}

func (c *Collector) Observe(res checks.Result) {
	up := 0.0
	if res.Status == checks.StatusOkay {
		up = 1
	}
	c.up.WithLabelValues(res.Name).Set(up)
	c.duration.WithLabelValues(res.Name).Set(res.Latency.Seconds())
	c.probes.WithLabelValues(res.Name, string(res.Status)).Inc()
}

func (c *Collector) MarkRun(at time.Time) {
	c.lastRun.Set(float64(at.Unix()))
}

// WriteTextfile writes the registry in the node_exporter textfile format.
func (b *Bundle) WriteTextfile(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create metrics dir: %w", err)
	}
	if err := prometheus.WriteToTextfile(path, b.Registry); err != nil {
		return fmt.Errorf("write metrics textfile: %w", err)
	}
	return nil
}

func (b *Bundle) Push(ctx context.Context, url, job string) error {
	if err := push.New(url, job).Gatherer(b.Registry).PushContext(ctx); err != nil {
		return fmt.Errorf("push metrics: %w", err)
	}
	return nil
}
