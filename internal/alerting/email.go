package alerting

import (
	"bytes"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"net/mail"
	"net/smtp"
	"strconv"
	"strings"
	"time"

	"waker/internal/checks"
	"waker/internal/config"
)

const smtpDialTimeout = 7 * time.Second

// digestEmail is the run digest addressed for one email channel. The summary
// and the names of failing targets travel as headers so mail filters can
// route on them without parsing the body.
type digestEmail struct {
	from     string
	fromAddr string
	to       []string
	toAddrs  []string
	subject  string
	summary  string
	failing  []string
	body     string
}

func newDigestEmail(ch config.Channel, title string, results []checks.Result) (*digestEmail, error) {
	if strings.TrimSpace(ch.From) == "" {
		return nil, errors.New("from is empty")
	}
	fromAddr, err := parseAddress(ch.From)
	if err != nil {
		return nil, fmt.Errorf("parse from: %w", err)
	}

	m := &digestEmail{
		from:     strings.TrimSpace(ch.From),
		fromAddr: fromAddr,
		summary:  summaryLine(results),
	}
	for _, t := range ch.To {
		t = strings.TrimSpace(t)
		if t == "" {
			continue
		}
		addr, err := parseAddress(t)
		if err != nil {
			return nil, fmt.Errorf("parse to %q: %w", t, err)
		}
		m.to = append(m.to, t)
		m.toAddrs = append(m.toAddrs, addr)
	}
	if len(m.toAddrs) == 0 {
		return nil, errors.New("no valid recipients in to list")
	}

	for _, r := range results {
		if r.Status != checks.StatusOkay {
			m.failing = append(m.failing, r.Name)
		}
	}
	m.subject = fmt.Sprintf("[%s] %s", title, m.summary)
	m.body = digestBody(title, results)
	return m, nil
}

// digestBody renders one line per target up front, then the responses.
func digestBody(title string, results []checks.Result) string {
	var sb strings.Builder
	sb.WriteString(strings.ToUpper(title))
	sb.WriteString("\n\n")
	for _, r := range results {
		fmt.Fprintf(&sb, "- %s: %s (%s)\n", r.Name, r.Status, r.TimeTaken)
	}
	for _, r := range results {
		fmt.Fprintf(&sb, "\n== %s: %s\n%s\n", r.Name, r.Status, prettyResponse(r.Response))
	}
	fmt.Fprintf(&sb, "\nSummary: %s\n", summaryLine(results))
	return sb.String()
}

// bytes renders the message as text/plain UTF-8 with CRLF line endings.
func (m *digestEmail) bytes(now time.Time) []byte {
	var b bytes.Buffer
	writeHeader(&b, "From", m.from)
	writeHeader(&b, "To", strings.Join(m.to, ", "))
	writeHeader(&b, "Subject", m.subject)
	writeHeader(&b, "Date", now.Format(time.RFC1123Z))
	writeHeader(&b, "X-Waker-Summary", m.summary)
	if len(m.failing) > 0 {
		writeHeader(&b, "X-Waker-Failing", strings.Join(m.failing, ", "))
	}
	writeHeader(&b, "MIME-Version", "1.0")
	writeHeader(&b, "Content-Type", `text/plain; charset="utf-8"`)
	writeHeader(&b, "Content-Transfer-Encoding", "8bit")
	b.WriteString("\r\n")

	body := strings.ReplaceAll(m.body, "\r\n", "\n")
	body = strings.ReplaceAll(body, "\r", "\n")
	body = strings.ReplaceAll(body, "\n", "\r\n")
	b.WriteString(body)
	if !strings.HasSuffix(body, "\r\n") {
		b.WriteString("\r\n")
	}
	return b.Bytes()
}

func (e *Engine) sendEmail(ctx context.Context, ch config.Channel, m *digestEmail) error {
	if strings.TrimSpace(ch.SMTPHost) == "" {
		return errors.New("smtp_host is empty")
	}
	if ch.SMTPPort == 0 {
		return errors.New("smtp_port is empty/0")
	}

	c, secure, err := dialSMTP(ctx, ch.SMTPHost, ch.SMTPPort)
	if err != nil {
		return err
	}
	defer func() { _ = c.Close() }()

	// never send credentials in the clear
	if strings.TrimSpace(ch.Username) != "" || strings.TrimSpace(ch.Password) != "" {
		if !secure {
			return errors.New("refusing to authenticate without TLS (enable STARTTLS or use port 465)")
		}
		if err := c.Auth(smtp.PlainAuth("", ch.Username, ch.Password, ch.SMTPHost)); err != nil {
			return fmt.Errorf("smtp auth: %w", err)
		}
	}

	if err := deliver(c, m, time.Now()); err != nil {
		return err
	}
	_ = c.Quit()
	return nil
}

// dialSMTP connects and upgrades to TLS where the server allows it. Port 465
// is implicit TLS; anything else uses STARTTLS when advertised.
func dialSMTP(ctx context.Context, host string, port int) (*smtp.Client, bool, error) {
	dialer := &net.Dialer{Timeout: smtpDialTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", net.JoinHostPort(host, strconv.Itoa(port)))
	if err != nil {
		return nil, false, fmt.Errorf("dial smtp: %w", err)
	}
	if dl, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(dl)
	}

	tlsConfig := &tls.Config{ServerName: host, MinVersion: tls.VersionTLS12}
	secure := port == 465
	if secure {
		tlsConn := tls.Client(conn, tlsConfig)
		if err := tlsConn.HandshakeContext(ctx); err != nil {
			_ = conn.Close()
			return nil, false, fmt.Errorf("tls handshake: %w", err)
		}
		conn = tlsConn
	}

	c, err := smtp.NewClient(conn, host)
	if err != nil {
		_ = conn.Close()
		return nil, false, fmt.Errorf("smtp client: %w", err)
	}

	if !secure {
		if ok, _ := c.Extension("STARTTLS"); ok {
			if err := c.StartTLS(tlsConfig); err != nil {
				_ = c.Close()
				return nil, false, fmt.Errorf("starttls: %w", err)
			}
			secure = true
		}
	}
	return c, secure, nil
}

func deliver(c *smtp.Client, m *digestEmail, now time.Time) error {
	if err := c.Mail(m.fromAddr); err != nil {
		return fmt.Errorf("mail from: %w", err)
	}
	for _, rcpt := range m.toAddrs {
		if err := c.Rcpt(rcpt); err != nil {
			return fmt.Errorf("rcpt to %s: %w", rcpt, err)
		}
	}

	w, err := c.Data()
	if err != nil {
		return fmt.Errorf("data: %w", err)
	}
	if _, err := w.Write(m.bytes(now)); err != nil {
		_ = w.Close()
		return fmt.Errorf("write data: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("close data: %w", err)
	}
	return nil
}

func parseAddress(s string) (string, error) {
	a, err := mail.ParseAddress(strings.TrimSpace(s))
	if err != nil {
		return "", err
	}
	return a.Address, nil
}

func writeHeader(b *bytes.Buffer, k, v string) {
	b.WriteString(k)
	b.WriteString(": ")
	b.WriteString(sanitizeHeader(v))
	b.WriteString("\r\n")
}

func sanitizeHeader(s string) string {
	s = strings.ReplaceAll(s, "\r", " ")
	s = strings.ReplaceAll(s, "\n", " ")
	return strings.TrimSpace(s)
}
