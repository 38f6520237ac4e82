package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"sort"
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/go-ozzo/ozzo-validation/v4/is"
	"go.yaml.in/yaml/v3"
)

const (
	EnvBotToken = "TELEGRAM_BOT_TOKEN"
	EnvChatID   = "TELEGRAM_CHAT_ID"
)

const (
	DefaultLogLevel          = "info"
	DefaultTitle             = "Flowlens Server Waker Service"
	DefaultBrowser           = BrowserChromium
	DefaultNavigationTimeout = "60s"
	DefaultContentTimeout    = "60s"
	DefaultWorkerCount       = 1
	DefaultReportPath        = "Flowlens_Server_Waker/output/report.json"
	DefaultTelegramAPIBase   = "https://api.telegram.org"
	DefaultParseMode         = "Markdown"

	MaxWorkerCount = 64
)

const (
	BrowserChromium = "chromium"
	BrowserHTTP     = "http"
)

// Default returns the built-in target list. Callers get a fresh copy each
// time, so nothing global is ever mutated.
func Default() *Config {
	return &Config{
		Targets: []Target{
			{Name: "API Service", URL: "https://flowlens-api-service.onrender.com/health"},
			{Name: "Ingestion Service", URL: "https://devbyzero-mission-control.onrender.com/health"},
		},
	}
}

// Resolve loads the config file at path, or the built-in defaults when path
// is empty. Either way the result has defaults applied and is validated.
func Resolve(path string) (*Config, error) {
	if strings.TrimSpace(path) != "" {
		return LoadAndValidateConfig(path)
	}

	cfg := Default()
	applyDefaults(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func LoadAndValidateConfig(path string) (*Config, error) {

	rawData, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %q: %w", path, err)
	}

	expandedData := expandEnv(string(rawData))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expandedData), &cfg); err != nil {
		return nil, fmt.Errorf("parse config %q: %w", path, err)
	}

	applyDefaults(&cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func applyDefaults(cfg *Config) {
	applyGlobalDefaults(&cfg.Global)
	applyTelegramDefaults(&cfg.Notify.Telegram)

	for i := range cfg.Targets {
		cfg.Targets[i].Name = strings.TrimSpace(cfg.Targets[i].Name)
		cfg.Targets[i].URL = strings.TrimSpace(cfg.Targets[i].URL)
	}
}

func applyGlobalDefaults(global *GlobalConfig) {
	if global.LogLevel == "" {
		global.LogLevel = DefaultLogLevel
	}
	if global.Title == "" {
		global.Title = DefaultTitle
	}
	if global.Browser == "" {
		global.Browser = DefaultBrowser
	}
	if global.NavigationTimeout == "" {
		global.NavigationTimeout = DefaultNavigationTimeout
	}
	if global.ContentTimeout == "" {
		global.ContentTimeout = DefaultContentTimeout
	}
	if global.WorkerCount == 0 {
		global.WorkerCount = DefaultWorkerCount
	}
	if global.ReportPath == "" {
		global.ReportPath = DefaultReportPath
	}
}

func applyTelegramDefaults(tg *TelegramConfig) {
	if tg.APIBase == "" {
		tg.APIBase = DefaultTelegramAPIBase
	}
	if tg.ParseMode == "" {
		tg.ParseMode = DefaultParseMode
	}
	if tg.BotToken == "" {
		tg.BotToken = os.Getenv(EnvBotToken)
	}
	if tg.ChatID == "" {
		tg.ChatID = os.Getenv(EnvChatID)
	}
}

func (cfg *Config) Validate() error {
	var errs []string
	errs = append(errs, validateGlobalConfig(cfg.Global)...)

	if len(cfg.Targets) == 0 {
		errs = append(errs, "targets must contain at least one entry")
	}

	seenNames := map[string]struct{}{}
	for i, t := range cfg.Targets {
		p := fmt.Sprintf("targets[%d]", i)

		if t.Name == "" {
			errs = append(errs, p+".name is required")
		} else {
			if _, ok := seenNames[t.Name]; ok {
				errs = append(errs, fmt.Sprintf("%s.name %q is duplicated", p, t.Name))
			}
			seenNames[t.Name] = struct{}{}
		}

		if err := validateTargetURL(t.URL); err != nil {
			errs = append(errs, fmt.Sprintf("%s.url %v", p, err))
		}
	}

	errs = append(errs, validateNotifyConfig(cfg.Notify)...)

	if len(errs) > 0 {
		sort.Strings(errs)
		return errors.New("config validation failed:\n- " + strings.Join(errs, "\n- "))
	}
	return nil
}

func validateGlobalConfig(global GlobalConfig) []string {
	var errs []string
	switch global.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Sprintf("global.log_level must be one of: debug, info, warn, error (got %q)", global.LogLevel))
	}
	switch strings.ToLower(global.Browser) {
	case BrowserChromium, BrowserHTTP:
	default:
		errs = append(errs, fmt.Sprintf("global.browser must be either chromium or http (got %q)", global.Browser))
	}
	if err := validatePositiveDuration(global.NavigationTimeout); err != nil {
		errs = append(errs, fmt.Sprintf("global.navigation_timeout must be a valid positive duration %q: %v", global.NavigationTimeout, err))
	}
	if err := validatePositiveDuration(global.ContentTimeout); err != nil {
		errs = append(errs, fmt.Sprintf("global.content_timeout must be a valid positive duration %q: %v", global.ContentTimeout, err))
	}
	if global.WorkerCount < 1 || global.WorkerCount > MaxWorkerCount {
		errs = append(errs, fmt.Sprintf("global.worker_count must be between 1 and %d (got %d)", MaxWorkerCount, global.WorkerCount))
	}
	if strings.TrimSpace(global.ReportPath) == "" {
		errs = append(errs, "global.report_path is required")
	}
	if global.PushgatewayURL != "" {
		if err := validation.Validate(global.PushgatewayURL, is.RequestURL); err != nil {
			errs = append(errs, fmt.Sprintf("global.pushgateway_url %v", err))
		}
	}
	return errs
}

func validateNotifyConfig(n NotifyConfig) []string {
	if n.Disabled {
		return nil
	}

	var errs []string
	tg := n.Telegram
	if strings.TrimSpace(tg.BotToken) == "" {
		errs = append(errs, fmt.Sprintf("notify.telegram.bot_token is required (set %s or notify.disabled)", EnvBotToken))
	}
	if strings.TrimSpace(tg.ChatID) == "" {
		errs = append(errs, fmt.Sprintf("notify.telegram.chat_id is required (set %s or notify.disabled)", EnvChatID))
	}
	if err := validation.Validate(tg.APIBase, validation.Required, is.RequestURL); err != nil {
		errs = append(errs, fmt.Sprintf("notify.telegram.api_base %v", err))
	}

	for name, ch := range n.Channels {
		if name == "" {
			errs = append(errs, "notify.channels contains an empty name")
			continue
		}
		switch strings.ToLower(ch.Type) {
		case "discord", "slack":
			if err := validation.Validate(strings.TrimSpace(ch.WebhookURL), validation.Required, is.RequestURL); err != nil {
				errs = append(errs, fmt.Sprintf("notify.channels[%q].webhook_url is invalid for type=%q: %v", name, ch.Type, err))
			}
		case "email":
			if strings.TrimSpace(ch.SMTPHost) == "" {
				errs = append(errs, fmt.Sprintf("notify.channels[%q].smtp_host is required for type=email", name))
			}
			if ch.SMTPPort <= 0 || ch.SMTPPort > 65535 {
				errs = append(errs, fmt.Sprintf("notify.channels[%q].smtp_port must be between 1 and 65535 for type=email (got %d)", name, ch.SMTPPort))
			}
			if strings.TrimSpace(ch.From) == "" {
				errs = append(errs, fmt.Sprintf("notify.channels[%q].from is required for type=email", name))
			}
			if len(ch.To) == 0 {
				errs = append(errs, fmt.Sprintf("notify.channels[%q].to is required for type=email", name))
			}
		default:
			errs = append(errs, fmt.Sprintf("notify.channels[%q].type must be one of: discord, slack, email (got %q)", name, ch.Type))
		}
	}
	return errs
}

func validateTargetURL(raw string) error {
	if err := validation.Validate(raw, validation.Required, is.RequestURL); err != nil {
		return err
	}
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("must use http or https (got %q)", u.Scheme)
	}
	return nil
}

func validatePositiveDuration(s string) error {
	d, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	if d <= 0 {
		return errors.New("must be greater than zero")
	}
	return nil
}

// NavigationTimeoutDuration is only meaningful after Validate succeeded.
func (g GlobalConfig) NavigationTimeoutDuration() time.Duration {
	return parseDurationOr(g.NavigationTimeout, 60*time.Second)
}

func (g GlobalConfig) ContentTimeoutDuration() time.Duration {
	return parseDurationOr(g.ContentTimeout, 60*time.Second)
}

func parseDurationOr(s string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}

func expandEnv(s string) string {
	return os.Expand(s, func(key string) string {
		return os.Getenv(key)
	})
}
