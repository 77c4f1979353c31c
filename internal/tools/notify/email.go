// Package notify provides the send_email tool.
package notify

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"
	"time"

	"bobchad/internal/config"
	"bobchad/internal/jail"
	"bobchad/internal/logging"
	"bobchad/internal/tools"

	"github.com/wneessen/go-mail"
)

// ErrNotConfigured is returned when SMTP settings are incomplete.
var ErrNotConfigured = errors.New("smtp not configured")

// SendFunc delivers a composed message.
type SendFunc func(ctx context.Context, msg *mail.Msg) error

// Mailer sends mail using the SMTP config.
type Mailer struct {
	cfg     config.SMTPConfig
	timeout time.Duration
	jail    *jail.Jail
	send    SendFunc
	now     func() time.Time
}

// NewMailer creates a mailer. A nil send uses SMTP.
func NewMailer(cfg config.SMTPConfig, timeout time.Duration, j *jail.Jail, send SendFunc) *Mailer {
	m := &Mailer{cfg: cfg, timeout: timeout, jail: j, send: send, now: time.Now}
	if m.send == nil {
		m.send = m.sendSMTP
	}
	return m
}

// EmailTool returns the send_email tool.
func (m *Mailer) EmailTool() *tools.Tool {
	return &tools.Tool{
		Name:        "send_email",
		Description: "Send an email to the configured recipient, optionally attaching project files",
		SideEffect:  tools.ExternalEffect,
		Timeout:     m.timeout,
		Execute:     m.execute,
		Schema: tools.ToolSchema{
			Required: []string{"subject", "body"},
			Properties: map[string]tools.Property{
				"subject":     {Type: "string", Description: "Subject line"},
				"body":        {Type: "string", Description: "Plain-text body"},
				"attachments": {Type: "array", Description: "Project-relative files to attach", Items: &tools.PropertyItems{Type: "string"}},
			},
		},
	}
}

type attachment struct {
	name string
	data []byte
}

func (m *Mailer) execute(ctx context.Context, args map[string]any) (string, error) {
	from := m.cfg.From
	if from == "" {
		from = m.cfg.Username
	}
	if !m.cfg.Enabled() || from == "" {
		return "", fmt.Errorf("%w: need smtp.host, smtp.to and smtp.from (or smtp.username)", ErrNotConfigured)
	}

	paths, err := tools.StringSliceArg(args, "attachments")
	if err != nil {
		return "", err
	}
	var files []attachment
	for _, p := range paths {
		abs, err := m.jail.Resolve(p)
		if err != nil {
			return "", err
		}
		data, err := os.ReadFile(abs)
		if err != nil {
			return "", fmt.Errorf("attachment %s: %w", p, err)
		}
		files = append(files, attachment{name: filepath.Base(abs), data: data})
	}

	to := splitAddrs(m.cfg.To)
	subject := tools.StringArg(args, "subject", "")
	msg, err := compose(from, to, subject, tools.StringArg(args, "body", ""), files, m.now())
	if err != nil {
		return "", err
	}

	if err := m.send(ctx, msg); err != nil {
		if errors.Is(err, context.DeadlineExceeded) || isTimeout(err) {
			return "", fmt.Errorf("%w: %v", tools.ErrTimeout, err)
		}
		return "", fmt.Errorf("send mail: %w", err)
	}

	logging.Tools("send_email: %q to %s (%d attachments)", subject, strings.Join(to, ", "), len(files))
	return fmt.Sprintf("Sent email %q to %s.", subject, strings.Join(to, ", ")), nil
}

func splitAddrs(s string) []string {
	var out []string
	for _, a := range strings.Split(s, ",") {
		if a = strings.TrimSpace(a); a != "" {
			out = append(out, a)
		}
	}
	return out
}

func isTimeout(err error) bool {
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

func compose(from string, to []string, subject, body string, files []attachment, now time.Time) (*mail.Msg, error) {
	if subject == "" {
		subject = "(no subject)"
	}

	msg := mail.NewMsg()
	if err := msg.From(from); err != nil {
		return nil, fmt.Errorf("from address: %w", err)
	}
	if err := msg.To(to...); err != nil {
		return nil, fmt.Errorf("to address: %w", err)
	}
	msg.Subject(subject)
	msg.SetDateWithValue(now)
	msg.SetBodyString(mail.TypeTextPlain, body)
	for _, f := range files {
		if err := msg.AttachReader(f.name, bytes.NewReader(f.data)); err != nil {
			return nil, fmt.Errorf("attach %s: %w", f.name, err)
		}
	}
	return msg, nil
}

func (m *Mailer) sendSMTP(ctx context.Context, msg *mail.Msg) error {
	var opts []mail.Option
	if m.cfg.Port > 0 {
		opts = append(opts, mail.WithPort(m.cfg.Port))
	}
	if m.timeout > 0 {
		opts = append(opts, mail.WithTimeout(m.timeout))
	}
	switch strings.ToLower(m.cfg.Security) {
	case "ssl":
		opts = append(opts, mail.WithSSL())
	case "none":
		opts = append(opts, mail.WithTLSPolicy(mail.NoTLS))
	default:
		opts = append(opts, mail.WithTLSPolicy(mail.TLSMandatory))
	}
	if m.cfg.Username != "" && m.cfg.Password != "" {
		opts = append(opts,
			mail.WithSMTPAuth(mail.SMTPAuthPlain),
			mail.WithUsername(m.cfg.Username),
			mail.WithPassword(m.cfg.Password),
		)
	}

	client, err := mail.NewClient(m.cfg.Host, opts...)
	if err != nil {
		return fmt.Errorf("smtp client: %w", err)
	}
	return client.DialAndSendWithContext(ctx, msg)
}
