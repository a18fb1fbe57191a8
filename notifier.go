package main

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net"
	"net/smtp"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/tidwall/gjson"
)

// Notifier delivers a success message to the user. Delivery is best-effort;
// the caller only logs a returned error.
type Notifier interface {
	Notify(ctx context.Context, message string) error
}

// MultiNotifier fans a message out to every channel. Failures are joined
// and each one is a *NotificationError.
type MultiNotifier []namedNotifier

type namedNotifier struct {
	name string
	Notifier
}

func (m MultiNotifier) Notify(ctx context.Context, message string) error {
	var errs []error
	for _, n := range m {
		if err := n.Notify(ctx, message); err != nil {
			errs = append(errs, &NotificationError{Channel: n.name, Err: err})
		}
	}
	return errors.Join(errs...)
}

// NewNotifier builds the channels configured in cfg. With none configured
// it returns an empty MultiNotifier that does nothing.
func NewNotifier(cfg NotifyConfig) MultiNotifier {
	var m MultiNotifier
	if cfg.Slack.Token != "" || cfg.Slack.WebhookURL != "" {
		m = append(m, namedNotifier{"slack", NewSlackNotifier(cfg.Slack)})
	}
	if cfg.Email.Host != "" && len(cfg.Email.To) > 0 {
		m = append(m, namedNotifier{"email", NewEmailNotifier(cfg.Email)})
	}
	return m
}

// SlackNotifier posts through chat.postMessage with a bot token, or to an
// incoming webhook when WebhookURL is set.
type SlackNotifier struct {
	config SlackConfig
	client *retryablehttp.Client
}

func NewSlackNotifier(cfg SlackConfig) *SlackNotifier {
	client := retryablehttp.NewClient()
	client.RetryMax = 3
	client.RetryWaitMin = 500 * time.Millisecond
	client.RetryWaitMax = 3 * time.Second
	client.HTTPClient.Timeout = 10 * time.Second
	client.Logger = nil

	return &SlackNotifier{config: cfg, client: client}
}

func (s *SlackNotifier) Notify(ctx context.Context, message string) error {
	if s.config.WebhookURL != "" {
		return s.post(ctx, s.config.WebhookURL, "", map[string]string{"text": message})
	}
	return s.post(ctx, s.config.APIURL, s.config.Token, map[string]string{
		"channel": s.config.Channel,
		"text":    message,
	})
}

func (s *SlackNotifier) post(ctx context.Context, url, token string, payload map[string]string) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, "POST", url, body)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json; charset=utf-8")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("slack returned %s: %s", resp.Status, strings.TrimSpace(string(data)))
	}

	// Webhooks answer with plain "ok"; the Web API always answers JSON.
	if token == "" {
		return nil
	}
	if !gjson.ValidBytes(data) {
		return fmt.Errorf("slack returned a non-JSON body: %q", string(data))
	}
	if !gjson.GetBytes(data, "ok").Bool() {
		return fmt.Errorf("slack api error: %s", gjson.GetBytes(data, "error").String())
	}
	return nil
}

// EmailNotifier sends mail through an SMTP relay. Port 465 is implicit TLS;
// any other port is plain SMTP upgraded with STARTTLS when offered.
type EmailNotifier struct {
	config EmailConfig
	auth   smtp.Auth
}

// smtpTimeout bounds a delivery when ctx carries no deadline of its own.
const smtpTimeout = 30 * time.Second

func NewEmailNotifier(cfg EmailConfig) *EmailNotifier {
	var auth smtp.Auth
	if cfg.Username != "" {
		auth = smtp.PlainAuth("", cfg.Username, cfg.Password, cfg.Host)
	}
	return &EmailNotifier{config: cfg, auth: auth}
}

func (e *EmailNotifier) Notify(ctx context.Context, message string) error {
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, smtpTimeout)
		defer cancel()
	}

	addr := net.JoinHostPort(e.config.Host, fmt.Sprint(e.config.Port))
	conn, err := e.dial(ctx, addr)
	if err != nil {
		return fmt.Errorf("dial %s: %w", addr, err)
	}
	defer conn.Close()

	deadline, _ := ctx.Deadline()
	if err := conn.SetDeadline(deadline); err != nil {
		return err
	}
	stop := context.AfterFunc(ctx, func() { _ = conn.SetDeadline(time.Now()) })
	defer stop()

	if err := e.send(conn, e.buildMessage(message)); err != nil {
		if ctx.Err() != nil {
			return fmt.Errorf("smtp %s: %w", addr, ctx.Err())
		}
		return err
	}
	return nil
}

func (e *EmailNotifier) dial(ctx context.Context, addr string) (net.Conn, error) {
	if e.config.Port == 465 {
		d := &tls.Dialer{Config: &tls.Config{ServerName: e.config.Host}}
		return d.DialContext(ctx, "tcp", addr)
	}
	var d net.Dialer
	return d.DialContext(ctx, "tcp", addr)
}

func (e *EmailNotifier) send(conn net.Conn, msg []byte) error {
	c, err := smtp.NewClient(conn, e.config.Host)
	if err != nil {
		return err
	}
	defer c.Close()

	if _, isTLS := conn.(*tls.Conn); !isTLS {
		if ok, _ := c.Extension("STARTTLS"); ok {
			if err := c.StartTLS(&tls.Config{ServerName: e.config.Host}); err != nil {
				return fmt.Errorf("starttls: %w", err)
			}
		}
	}
	if e.auth != nil {
		if err := c.Auth(e.auth); err != nil {
			return fmt.Errorf("smtp auth: %w", err)
		}
	}
	if err := c.Mail(e.config.From); err != nil {
		return err
	}
	for _, to := range e.config.To {
		if err := c.Rcpt(to); err != nil {
			return fmt.Errorf("rcpt %s: %w", to, err)
		}
	}

	w, err := c.Data()
	if err != nil {
		return err
	}
	if _, err := w.Write(msg); err != nil {
		return err
	}
	if err := w.Close(); err != nil {
		return err
	}
	return c.Quit()
}

func (e *EmailNotifier) buildMessage(body string) []byte {
	var b bytes.Buffer
	fmt.Fprintf(&b, "From: %s\r\n", e.config.From)
	fmt.Fprintf(&b, "To: %s\r\n", strings.Join(e.config.To, ", "))
	fmt.Fprintf(&b, "Subject: %s\r\n", mime.BEncoding.Encode("UTF-8", e.config.Subject))
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/plain; charset=UTF-8\r\n")
	b.WriteString("\r\n")
	b.WriteString(strings.ReplaceAll(body, "\n", "\r\n"))
	b.WriteString("\r\n")
	return b.Bytes()
}
