package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"

	"github.com/chromedp/chromedp"
	"github.com/spf13/cobra"

	"waker/internal/alerting"
	"waker/internal/checks"
	"waker/internal/config"
	"waker/internal/metrics"
	"waker/internal/runner"
)

type options struct {
	configPath string
	output     string
	logLevel   string
}

func Execute() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	opts := &options{}

	rootCmd := &cobra.Command{
		Use:          "waker",
		Short:        "Wake sleeping services by probing their health endpoints",
		Args:         cobra.NoArgs,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Resolve(opts.configPath)
			if err != nil {
				return err
			}
			if opts.output != "" {
				cfg.Global.ReportPath = opts.output
			}
			if opts.logLevel != "" {
				cfg.Global.LogLevel = opts.logLevel
			}

			logger, err := newLogger(cfg.Global.LogLevel)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			return run(ctx, cfg, logger)
		},
	}

	rootCmd.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "", "Path to configuration file (built-in targets when empty)")
	rootCmd.PersistentFlags().StringVarP(&opts.output, "output", "o", "", "Override the report artifact path")
	rootCmd.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "Log level (debug, info, warn, error)")

	return rootCmd
}

func run(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	browser, err := newBrowser(cfg.Global.Browser)
	if err != nil {
		return err
	}

	var once sync.Once
	closeBrowser := func() {
		once.Do(func() {
			if err := browser.Close(); err != nil {
				logger.Warn("browser close failed", "error", err.Error())
			}
		})
	}
	defer closeBrowser()

	prober := checks.NewProber(browser, cfg.Global.NavigationTimeoutDuration(), cfg.Global.ContentTimeoutDuration())
	notifier := alerting.NewEngine(cfg.Notify, cfg.Global.Title, logger)

	r, err := runner.New(cfg, logger, prober, notifier, metrics.NewBundle())
	if err != nil {
		return err
	}
	r.OnProbed = closeBrowser

	_, err = r.Run(ctx)
	return err
}

func newBrowser(kind string) (checks.Browser, error) {
	switch strings.ToLower(kind) {
	case config.BrowserHTTP:
		return checks.NewHTTPBrowser(), nil
	case config.BrowserChromium:
		var opts []chromedp.ExecAllocatorOption
		// Chromium refuses to sandbox as root, which is the norm in CI containers.
		if os.Geteuid() == 0 {
			opts = append(opts, chromedp.NoSandbox)
		}
		return checks.NewChromeBrowser(opts...)
	default:
		return nil, fmt.Errorf("unknown browser %q", kind)
	}
}

func newLogger(level string) (*slog.Logger, error) {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "info":
		lvl = slog.LevelInfo
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		return nil, fmt.Errorf("invalid log level: %q", level)
	}

	handler := slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})
	return slog.New(handler), nil
}
