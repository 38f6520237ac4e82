package alerting

import (
	"context"
	"net"
	"net/http/httptest"
	"net/textproto"
	"strings"
	"testing"
	"time"

	"waker/internal/config"
)

type smtpSession struct {
	commands []string
	from     string
	rcpts    []string
	data     string
}

// fakeSMTP accepts a single plain-text SMTP conversation on a loopback port
// and reports what it received once the client hangs up.
func fakeSMTP(t *testing.T) (int, <-chan smtpSession) {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	t.Cleanup(func() { _ = ln.Close() })

	done := make(chan smtpSession, 1)
	go func() {
		var s smtpSession
		defer func() { done <- s }()

		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		_ = conn.SetDeadline(time.Now().Add(5 * time.Second))

		tp := textproto.NewConn(conn)
		_ = tp.PrintfLine("220 localhost ESMTP")
		for {
			line, err := tp.ReadLine()
			if err != nil {
				return
			}
			s.commands = append(s.commands, line)
			verb := strings.ToUpper(line)
			switch {
			case strings.HasPrefix(verb, "EHLO"), strings.HasPrefix(verb, "HELO"):
				_ = tp.PrintfLine("250-localhost")
				_ = tp.PrintfLine("250 HELP")
			case strings.HasPrefix(verb, "MAIL FROM:"):
				s.from = line[len("MAIL FROM:"):]
				_ = tp.PrintfLine("250 OK")
			case strings.HasPrefix(verb, "RCPT TO:"):
				s.rcpts = append(s.rcpts, line[len("RCPT TO:"):])
				_ = tp.PrintfLine("250 OK")
			case verb == "DATA":
				_ = tp.PrintfLine("354 end with <CRLF>.<CRLF>")
				data, err := tp.ReadDotBytes()
				if err != nil {
					return
				}
				s.data = string(data)
				_ = tp.PrintfLine("250 OK queued")
			case verb == "QUIT":
				_ = tp.PrintfLine("221 bye")
				return
			default:
				_ = tp.PrintfLine("502 not implemented")
			}
		}
	}()

	return ln.Addr().(*net.TCPAddr).Port, done
}

func waitSession(t *testing.T, done <-chan smtpSession) smtpSession {
	t.Helper()
	select {
	case s := <-done:
		return s
	case <-time.After(5 * time.Second):
		t.Fatal("smtp session did not finish")
		return smtpSession{}
	}
}

func emailChannel(port int) config.Channel {
	return config.Channel{
		Type:     "email",
		SMTPHost: "127.0.0.1",
		SMTPPort: port,
		From:     "Waker <waker@example.com>",
		To:       []string{"ops@example.com", " ", "dev@example.com"},
	}
}

func TestSendEmail_DeliversDigest(t *testing.T) {
	port, done := fakeSMTP(t)
	ch := emailChannel(port)

	m, err := newDigestEmail(ch, "Waker", digestResults())
	if err != nil {
		t.Fatalf("newDigestEmail() error: %v", err)
	}
	e := NewEngine(config.NotifyConfig{}, "Waker", quietLogger())
	if err := e.sendEmail(context.Background(), ch, m); err != nil {
		t.Fatalf("sendEmail() error: %v", err)
	}

	s := waitSession(t, done)
	if s.from != "<waker@example.com>" {
		t.Errorf("MAIL FROM = %q", s.from)
	}
	if len(s.rcpts) != 2 || s.rcpts[0] != "<ops@example.com>" || s.rcpts[1] != "<dev@example.com>" {
		t.Errorf("RCPT TO = %q", s.rcpts)
	}
	for _, want := range []string{
		"Subject: [Waker] 1/2 okay\n",
		"To: ops@example.com, dev@example.com\n",
		"X-Waker-Summary: 1/2 okay\n",
		"X-Waker-Failing: Ingestion Service\n",
		"- API Service: Okay (0.84s)\n",
		"- Ingestion Service: Failed (60.01s)\n",
		"== Ingestion Service: Failed\n\"navigate to https://ingest: timeout of 60s exceeded\"\n",
		"Summary: 1/2 okay\n",
	} {
		if !strings.Contains(s.data, want) {
			t.Errorf("message missing %q:\n%s", want, s.data)
		}
	}
}

func TestSendEmail_RefusesAuthWithoutTLS(t *testing.T) {
	port, done := fakeSMTP(t)
	ch := emailChannel(port)
	ch.Username = "waker"
	ch.Password = "hunter2"

	m, err := newDigestEmail(ch, "Waker", digestResults())
	if err != nil {
		t.Fatalf("newDigestEmail() error: %v", err)
	}
	e := NewEngine(config.NotifyConfig{}, "Waker", quietLogger())
	err = e.sendEmail(context.Background(), ch, m)
	if err == nil || !strings.Contains(err.Error(), "refusing to authenticate without TLS") {
		t.Fatalf("sendEmail() error = %v, want TLS refusal", err)
	}

	s := waitSession(t, done)
	for _, cmd := range s.commands {
		if strings.HasPrefix(strings.ToUpper(cmd), "AUTH") || strings.HasPrefix(strings.ToUpper(cmd), "MAIL") {
			t.Errorf("client sent %q before refusing", cmd)
		}
	}
}

func TestEngine_Notify_EmailChannel(t *testing.T) {
	tgRec := &recorder{}
	tg := httptest.NewServer(tgRec.handler())
	defer tg.Close()

	port, done := fakeSMTP(t)
	cfg := telegramConfig(tg.URL)
	cfg.Channels = map[string]config.Channel{"mail": emailChannel(port)}

	e := NewEngine(cfg, "Waker", quietLogger())
	if err := e.Notify(context.Background(), digestResults()); err != nil {
		t.Fatalf("Notify() error: %v", err)
	}

	s := waitSession(t, done)
	if !strings.Contains(s.data, "X-Waker-Summary: 1/2 okay") {
		t.Errorf("email not delivered with digest headers:\n%s", s.data)
	}
}

func TestNewDigestEmail(t *testing.T) {
	tests := []struct {
		name    string
		ch      config.Channel
		wantErr string
	}{
		{name: "valid", ch: config.Channel{From: "waker@example.com", To: []string{"ops@example.com"}}},
		{name: "empty from", ch: config.Channel{To: []string{"ops@example.com"}}, wantErr: "from is empty"},
		{name: "bad from", ch: config.Channel{From: "not an address", To: []string{"ops@example.com"}}, wantErr: "parse from"},
		{name: "bad recipient", ch: config.Channel{From: "waker@example.com", To: []string{"@@"}}, wantErr: `parse to "@@"`},
		{name: "blank recipients", ch: config.Channel{From: "waker@example.com", To: []string{" "}}, wantErr: "no valid recipients"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := newDigestEmail(tt.ch, "Waker", digestResults())
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("error = %v, want containing %q", err, tt.wantErr)
			}
		})
	}
}

func TestDigestEmailBytes(t *testing.T) {
	m := &digestEmail{
		from:    "waker@example.com",
		to:      []string{"ops@example.com", "dev@example.com"},
		subject: "subj\r\nBcc: evil@example.com",
		summary: "2/2 okay",
		body:    "line1\nline2",
	}
	msg := string(m.bytes(time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)))

	if !strings.Contains(msg, "To: ops@example.com, dev@example.com\r\n") {
		t.Errorf("missing To header:\n%s", msg)
	}
	if !strings.Contains(msg, "Subject: subj  Bcc: evil@example.com\r\n") {
		t.Errorf("subject not sanitized:\n%s", msg)
	}
	if !strings.Contains(msg, "Date: Fri, 02 Jan 2026 03:04:05 +0000\r\n") {
		t.Errorf("missing Date header:\n%s", msg)
	}
	if strings.Contains(msg, "X-Waker-Failing") {
		t.Errorf("all-okay digest should not carry a failing header:\n%s", msg)
	}
	if !strings.HasSuffix(msg, "\r\n\r\nline1\r\nline2\r\n") {
		t.Errorf("body not CRLF normalized:\n%q", msg)
	}
}
