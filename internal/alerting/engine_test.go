package alerting

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"waker/internal/config"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type capturedRequest struct {
	path string
	body map[string]string
}

type recorder struct {
	mu       sync.Mutex
	requests []capturedRequest
	status   int
	reply    string
}

func (r *recorder) handler() http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		var body map[string]string
		_ = json.NewDecoder(req.Body).Decode(&body)

		r.mu.Lock()
		r.requests = append(r.requests, capturedRequest{path: req.URL.Path, body: body})
		r.mu.Unlock()

		if r.status != 0 {
			w.WriteHeader(r.status)
		}
		_, _ = w.Write([]byte(r.reply))
	}
}

func telegramConfig(apiBase string) config.NotifyConfig {
	return config.NotifyConfig{
		Telegram: config.TelegramConfig{
			APIBase:   apiBase,
			BotToken:  "123:secret",
			ChatID:    "-100200",
			ParseMode: "Markdown",
		},
	}
}

func TestEngine_Notify_Telegram(t *testing.T) {
	rec := &recorder{reply: `{"ok":true}`}
	server := httptest.NewServer(rec.handler())
	defer server.Close()

	e := NewEngine(telegramConfig(server.URL), "Waker", quietLogger())
	if err := e.Notify(context.Background(), digestResults()); err != nil {
		t.Fatalf("Notify() error: %v", err)
	}

	if len(rec.requests) != 1 {
		t.Fatalf("requests = %d, want 1", len(rec.requests))
	}
	got := rec.requests[0]
	if got.path != "/bot123:secret/sendMessage" {
		t.Errorf("path = %q", got.path)
	}
	if got.body["chat_id"] != "-100200" {
		t.Errorf("chat_id = %q", got.body["chat_id"])
	}
	if got.body["parse_mode"] != "Markdown" {
		t.Errorf("parse_mode = %q", got.body["parse_mode"])
	}
	if got.body["text"] != FormatDigest("Waker", digestResults()) {
		t.Errorf("text = %q", got.body["text"])
	}
}

func TestEngine_Notify_TelegramErrorDescription(t *testing.T) {
	rec := &recorder{status: http.StatusBadRequest, reply: `{"ok":false,"error_code":400,"description":"Bad Request: chat not found"}`}
	server := httptest.NewServer(rec.handler())
	defer server.Close()

	e := NewEngine(telegramConfig(server.URL), "Waker", quietLogger())
	err := e.Notify(context.Background(), digestResults())
	if err == nil {
		t.Fatal("expected error for 400 reply")
	}
	if !strings.Contains(err.Error(), "chat not found") {
		t.Errorf("error should carry API description, got: %v", err)
	}
}

func TestEngine_Notify_RedactsToken(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	apiBase := server.URL
	server.Close()

	e := NewEngine(telegramConfig(apiBase), "Waker", quietLogger())
	err := e.Notify(context.Background(), digestResults())
	if err == nil {
		t.Fatal("expected error for unreachable API")
	}
	if strings.Contains(err.Error(), "123:secret") {
		t.Errorf("bot token leaked in error: %v", err)
	}
	if !strings.Contains(err.Error(), "<redacted>") {
		t.Errorf("expected redaction marker, got: %v", err)
	}
}

func TestEngine_Notify_MissingCredentials(t *testing.T) {
	e := NewEngine(config.NotifyConfig{}, "Waker", quietLogger())

	err := e.Notify(context.Background(), digestResults())
	if err == nil {
		t.Fatal("expected error without credentials")
	}
	if !strings.Contains(err.Error(), "empty bot token") {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestEngine_Notify_Disabled(t *testing.T) {
	rec := &recorder{}
	server := httptest.NewServer(rec.handler())
	defer server.Close()

	cfg := telegramConfig(server.URL)
	cfg.Disabled = true

	e := NewEngine(cfg, "Waker", quietLogger())
	if err := e.Notify(context.Background(), digestResults()); err != nil {
		t.Fatalf("Notify() error: %v", err)
	}
	if len(rec.requests) != 0 {
		t.Errorf("disabled engine sent %d requests", len(rec.requests))
	}
}

func TestEngine_Notify_Channels(t *testing.T) {
	tgRec := &recorder{}
	tg := httptest.NewServer(tgRec.handler())
	defer tg.Close()

	hookRec := &recorder{}
	hooks := httptest.NewServer(hookRec.handler())
	defer hooks.Close()

	cfg := telegramConfig(tg.URL)
	cfg.Channels = map[string]config.Channel{
		"b-slack":   {Type: "slack", WebhookURL: hooks.URL + "/slack"},
		"a-discord": {Type: "discord", WebhookURL: hooks.URL + "/discord"},
	}

	e := NewEngine(cfg, "Waker", quietLogger())
	if err := e.Notify(context.Background(), digestResults()); err != nil {
		t.Fatalf("Notify() error: %v", err)
	}

	if len(hookRec.requests) != 2 {
		t.Fatalf("webhook requests = %d, want 2", len(hookRec.requests))
	}
	if hookRec.requests[0].path != "/discord" || hookRec.requests[0].body["content"] == "" {
		t.Errorf("first webhook = %+v, want discord content", hookRec.requests[0])
	}
	if hookRec.requests[1].path != "/slack" || hookRec.requests[1].body["text"] == "" {
		t.Errorf("second webhook = %+v, want slack text", hookRec.requests[1])
	}
}

func TestEngine_Notify_AggregatesFailures(t *testing.T) {
	failing := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer failing.Close()

	cfg := telegramConfig(failing.URL)
	cfg.Channels = map[string]config.Channel{
		"ops":   {Type: "slack", WebhookURL: failing.URL},
		"pager": {Type: "pagerduty"},
	}

	e := NewEngine(cfg, "Waker", quietLogger())
	err := e.Notify(context.Background(), digestResults())
	if err == nil {
		t.Fatal("expected aggregated error")
	}

	for _, want := range []string{"telegram:", `channel "ops"`, `channel "pager"`, "unsupported channel type"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error missing %q: %v", want, err)
		}
	}
}
