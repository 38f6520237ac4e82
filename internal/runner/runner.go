package runner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"golang.org/x/sync/errgroup"

	"waker/internal/checks"
	"waker/internal/config"
	"waker/internal/metrics"
	"waker/internal/report"
)

const pushJob = "waker"

type Prober interface {
	Probe(ctx context.Context, target config.Target) checks.Result
}

type Notifier interface {
	Notify(ctx context.Context, results []checks.Result) error
}

// Runner executes one wake: probe every target, write the artifact, export
// metrics and send the digest.
type Runner struct {
	log         *slog.Logger
	targets     []config.Target
	workerCount int
	reportPath  string
	metricsPath string
	pushURL     string

	prober   Prober
	notifier Notifier
	metrics  *metrics.Bundle

	// OnProbed, when set, runs once every probe has returned and before the
	// report is written. The CLI uses it to tear the browser down early.
	OnProbed func()
}

func New(cfg *config.Config, log *slog.Logger, prober Prober, notifier Notifier, m *metrics.Bundle) (*Runner, error) {
	if cfg == nil {
		return nil, errors.New("runner: nil config")
	}
	if prober == nil {
		return nil, errors.New("runner: nil prober")
	}
	if log == nil {
		log = slog.Default()
	}

	workers := cfg.Global.WorkerCount
	if workers < 1 {
		workers = 1
	}

	return &Runner{
		log:         log,
		targets:     slices.Clone(cfg.Targets),
		workerCount: workers,
		reportPath:  cfg.Global.ReportPath,
		metricsPath: cfg.Global.MetricsPath,
		pushURL:     cfg.Global.PushgatewayURL,
		prober:      prober,
		notifier:    notifier,
		metrics:     m,
	}, nil
}

// Run only fails when the report cannot be written. Probe, metrics and
// notification failures are recorded or logged.
func (r *Runner) Run(ctx context.Context) ([]checks.Result, error) {
	start := time.Now()
	r.log.Info("wake started",
		"targets", len(r.targets),
		"workers", r.workerCount,
	)

	results := r.probeAll(ctx)
	if r.OnProbed != nil {
		r.OnProbed()
	}

	if err := report.WriteJSON(r.reportPath, results); err != nil {
		return results, fmt.Errorf("write report %q: %w", r.reportPath, err)
	}
	r.log.Info("report written", "path", r.reportPath)

	r.exportMetrics(ctx, results)

	if r.notifier != nil {
		if err := r.notifier.Notify(ctx, results); err != nil {
			r.log.Error("failed to send notification", "error", err.Error())
		}
	}

	r.log.Info("wake finished",
		"okay", countOkay(results),
		"total", len(results),
		"duration", time.Since(start).Round(time.Millisecond).String(),
	)
	return results, nil
}

// probeAll fans out over at most workerCount goroutines. Each goroutine owns
// exactly one slot of results, so input order is kept.
func (r *Runner) probeAll(ctx context.Context) []checks.Result {
	results := make([]checks.Result, len(r.targets))

	var g errgroup.Group
	g.SetLimit(r.workerCount)
	for i, target := range r.targets {
		g.Go(func() error {
			res := r.prober.Probe(ctx, target)
			results[i] = res

			level := slog.LevelInfo
			if res.Status != checks.StatusOkay {
				level = slog.LevelWarn
			}
			r.log.Log(ctx, level, "probe finished",
				"target", target.Name,
				"url", target.URL,
				"status", string(res.Status),
				"time_taken", res.TimeTaken,
			)
			return nil
		})
	}
	_ = g.Wait()

	return results
}

func (r *Runner) exportMetrics(ctx context.Context, results []checks.Result) {
	if r.metrics == nil {
		return
	}

	r.metrics.Collector.EnsureTargets(r.targets)
	for _, res := range results {
		r.metrics.Collector.Observe(res)
	}
	r.metrics.Collector.MarkRun(time.Now())

	if r.metricsPath != "" {
		if err := r.metrics.WriteTextfile(r.metricsPath); err != nil {
			r.log.Warn("metrics export failed", "path", r.metricsPath, "error", err.Error())
		} else {
			r.log.Debug("metrics written", "path", r.metricsPath)
		}
	}
	if r.pushURL != "" {
		if err := r.metrics.Push(ctx, r.pushURL, pushJob); err != nil {
			r.log.Warn("metrics push failed", "url", r.pushURL, "error", err.Error())
		} else {
			r.log.Debug("metrics pushed", "url", r.pushURL)
		}
	}
}

func countOkay(results []checks.Result) int {
	n := 0
	for _, res := range results {
		if res.Status == checks.StatusOkay {
			n++
		}
	}
	return n
}
