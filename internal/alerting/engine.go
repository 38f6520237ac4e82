package alerting

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/hashicorp/go-multierror"

	"waker/internal/checks"
	"waker/internal/config"
)

const sendTimeout = 10 * time.Second

// Engine delivers the run digest to Telegram and to any extra channels.
type Engine struct {
	log      *slog.Logger
	client   *http.Client
	title    string
	disabled bool
	telegram config.TelegramConfig
	channels map[string]config.Channel
}

func NewEngine(cfg config.NotifyConfig, title string, log *slog.Logger) *Engine {
	if log == nil {
		log = slog.Default()
	}

	return &Engine{
		log:      log,
		client:   &http.Client{Timeout: sendTimeout},
		title:    title,
		disabled: cfg.Disabled,
		telegram: cfg.Telegram,
		channels: cfg.Channels,
	}
}

// Notify attempts every configured delivery and returns the combined
// failures. Callers treat the error as informational.
func (e *Engine) Notify(ctx context.Context, results []checks.Result) error {
	if e.disabled {
		e.log.Debug("notification disabled, skipping")
		return nil
	}

	msg := FormatDigest(e.title, results)
	var merr *multierror.Error

	if err := e.sendTelegram(ctx, msg); err != nil {
		e.log.Warn("telegram send failed",
			"chat_id", e.telegram.ChatID,
			"error", err.Error(),
		)
		merr = multierror.Append(merr, fmt.Errorf("telegram: %w", err))
	} else {
		e.log.Info("telegram digest sent",
			"chat_id", e.telegram.ChatID,
			"targets", len(results),
		)
	}

	for _, name := range sortedChannelNames(e.channels) {
		if err := e.dispatch(ctx, name, e.channels[name], msg, results); err != nil {
			merr = multierror.Append(merr, fmt.Errorf("channel %q: %w", name, err))
		}
	}

	return merr.ErrorOrNil()
}

func (e *Engine) dispatch(ctx context.Context, name string, ch config.Channel, msg string, results []checks.Result) error {
	kind := strings.ToLower(strings.TrimSpace(ch.Type))

	var err error
	switch kind {
	case "discord":
		err = e.sendDiscord(ctx, ch.WebhookURL, msg)
	case "slack":
		err = e.sendSlack(ctx, ch.WebhookURL, msg)
	case "email":
		var m *digestEmail
		if m, err = newDigestEmail(ch, e.title, results); err == nil {
			sendCtx, cancel := context.WithTimeout(ctx, sendTimeout)
			defer cancel()
			err = e.sendEmail(sendCtx, ch, m)
		}
	default:
		err = fmt.Errorf("unsupported channel type %q", ch.Type)
	}

	if err != nil {
		e.log.Warn("channel send failed",
			"channel", name,
			"type", kind,
			"error", err.Error(),
		)
		return err
	}

	e.log.Info("channel digest sent",
		"channel", name,
		"type", kind,
	)
	return nil
}

type telegramMessage struct {
	ChatID    string `json:"chat_id"`
	Text      string `json:"text"`
	ParseMode string `json:"parse_mode,omitempty"`
}

func (e *Engine) sendTelegram(ctx context.Context, msg string) error {
	tg := e.telegram
	if strings.TrimSpace(tg.BotToken) == "" {
		return errors.New("empty bot token")
	}
	if strings.TrimSpace(tg.ChatID) == "" {
		return errors.New("empty chat id")
	}

	endpoint := strings.TrimRight(tg.APIBase, "/") + "/bot" + tg.BotToken + "/sendMessage"
	err := e.postJSON(ctx, endpoint, telegramMessage{
		ChatID:    tg.ChatID,
		Text:      msg,
		ParseMode: tg.ParseMode,
	})
	return redact(err, tg.BotToken)
}

func (e *Engine) sendDiscord(ctx context.Context, webhookURL, msg string) error {
	if strings.TrimSpace(webhookURL) == "" {
		return errors.New("empty discord webhook_url")
	}
	// Discord caps message content at 2000 characters.
	payload := map[string]string{"content": truncate(msg, 2000)}
	return e.postJSON(ctx, webhookURL, payload)
}

func (e *Engine) sendSlack(ctx context.Context, webhookURL, msg string) error {
	if strings.TrimSpace(webhookURL) == "" {
		return errors.New("empty slack webhook_url")
	}
	payload := map[string]string{"text": msg}
	return e.postJSON(ctx, webhookURL, payload)
}

func (e *Engine) postJSON(ctx context.Context, url string, payload any) error {
	b, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, sendTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(b))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		if desc := apiDescription(resp.Body); desc != "" {
			return fmt.Errorf("non-2xx status: %s: %s", resp.Status, desc)
		}
		return fmt.Errorf("non-2xx status: %s", resp.Status)
	}
	return nil
}

// apiDescription extracts the "description" field Telegram puts in error
// replies, falling back to the raw body.
func apiDescription(body io.Reader) string {
	raw, err := io.ReadAll(io.LimitReader(body, 1024))
	if err != nil || len(raw) == 0 {
		return ""
	}
	var reply struct {
		Description string `json:"description"`
	}
	if err := json.Unmarshal(raw, &reply); err == nil && reply.Description != "" {
		return reply.Description
	}
	return truncate(string(raw), 180)
}

func redact(err error, secret string) error {
	if err == nil || secret == "" || !strings.Contains(err.Error(), secret) {
		return err
	}
	return errors.New(strings.ReplaceAll(err.Error(), secret, "<redacted>"))
}

func sortedChannelNames(channels map[string]config.Channel) []string {
	names := make([]string, 0, len(channels))
	for name := range channels {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
