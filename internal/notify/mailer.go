package notify

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"net/http"
	"net/smtp"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/sendgrid/sendgrid-go"
	sgmail "github.com/sendgrid/sendgrid-go/helpers/mail"
	"github.com/sirupsen/logrus"

	"scanattend/internal/config"
)

// Mailer delivers one notification.
type Mailer interface {
	Send(ctx context.Context, n Notification) error
}

// LogMailer writes notifications to the log instead of sending them. It is
// the transport when no mail credentials are configured.
type LogMailer struct {
	log logrus.FieldLogger
}

func NewLogMailer(log logrus.FieldLogger) *LogMailer {
	return &LogMailer{log: log}
}

func (m *LogMailer) Send(_ context.Context, n Notification) error {
	m.log.WithFields(logrus.Fields{
		"guardian_email": n.To,
		"subject":        n.Subject,
	}).Info(n.Body)
	return nil
}

// SMTPConfig holds the relay settings.
type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
}

// SMTPMailer sends plain-text mail through an SMTP relay. Port 465 uses
// implicit TLS; other ports upgrade with STARTTLS when offered.
type SMTPMailer struct {
	cfg SMTPConfig
}

func NewSMTPMailer(cfg SMTPConfig) *SMTPMailer {
	return &SMTPMailer{cfg: cfg}
}

func (m *SMTPMailer) Send(ctx context.Context, n Notification) error {
	addr := fmt.Sprintf("%s:%d", m.cfg.Host, m.cfg.Port)
	client, err := m.dial(ctx, addr)
	if err != nil {
		return errors.Wrap(err, "smtp dial")
	}
	defer client.Close()

	if m.cfg.Username != "" {
		if ok, _ := client.Extension("AUTH"); ok {
			auth := smtp.PlainAuth("", m.cfg.Username, m.cfg.Password, m.cfg.Host)
			if err := client.Auth(auth); err != nil {
				return errors.Wrap(err, "smtp auth")
			}
		}
	}
	if err := client.Mail(parseAddress(m.cfg.From)); err != nil {
		return errors.Wrap(err, "smtp mail from")
	}
	if err := client.Rcpt(n.To); err != nil {
		return errors.Wrapf(err, "smtp rcpt %s", n.To)
	}
	w, err := client.Data()
	if err != nil {
		return errors.Wrap(err, "smtp data")
	}
	if _, err := w.Write([]byte(buildMessage(m.cfg.From, n.To, n.Subject, n.Body))); err != nil {
		_ = w.Close()
		return errors.Wrap(err, "smtp write")
	}
	if err := w.Close(); err != nil {
		return errors.Wrap(err, "smtp close data")
	}
	return client.Quit()
}

func (m *SMTPMailer) dial(ctx context.Context, addr string) (*smtp.Client, error) {
	var d net.Dialer
	var conn net.Conn
	var err error
	if m.cfg.Port == 465 {
		conn, err = (&tls.Dialer{NetDialer: &d, Config: &tls.Config{ServerName: m.cfg.Host}}).DialContext(ctx, "tcp", addr)
	} else {
		conn, err = d.DialContext(ctx, "tcp", addr)
	}
	if err != nil {
		return nil, err
	}
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}
	client, err := smtp.NewClient(conn, m.cfg.Host)
	if err != nil {
		_ = conn.Close()
		return nil, err
	}
	if m.cfg.Port != 465 {
		if ok, _ := client.Extension("STARTTLS"); ok {
			if err := client.StartTLS(&tls.Config{ServerName: m.cfg.Host}); err != nil {
				_ = client.Close()
				return nil, err
			}
		}
	}
	return client, nil
}

// headerSafe folds CR and LF so a value cannot start a new header.
var headerSafe = strings.NewReplacer("\r\n", " ", "\r", " ", "\n", " ")

func buildMessage(from, to, subject, body string) string {
	headers := []string{
		"From: " + headerSafe.Replace(from),
		"To: " + headerSafe.Replace(to),
		"Subject: " + headerSafe.Replace(subject),
		"Date: " + time.Now().Format(time.RFC1123Z),
		"MIME-Version: 1.0",
		"Content-Type: text/plain; charset=utf-8",
		"",
		body,
	}
	return strings.Join(headers, "\r\n")
}

func parseAddress(from string) string {
	start := strings.Index(from, "<")
	end := strings.Index(from, ">")
	if start >= 0 && end > start {
		return strings.TrimSpace(from[start+1 : end])
	}
	return strings.TrimSpace(from)
}

const sendgridEndpoint = "/v3/mail/send"

// SendgridMailer sends through the SendGrid v3 API.
type SendgridMailer struct {
	key  string
	host string
	from *sgmail.Email
}

// NewSendgridMailer builds the transport. from may be "Name <addr>" or a bare
// address.
func NewSendgridMailer(key, from string) *SendgridMailer {
	name := ""
	if i := strings.Index(from, "<"); i > 0 {
		name = strings.TrimSpace(from[:i])
	}
	return &SendgridMailer{
		key:  key,
		host: "https://api.sendgrid.com",
		from: sgmail.NewEmail(name, parseAddress(from)),
	}
}

func (m *SendgridMailer) prepare(n Notification) *sgmail.SGMailV3 {
	p := sgmail.NewPersonalization()
	p.Subject = n.Subject
	p.AddTos(sgmail.NewEmail(n.Guardian, n.To))

	msg := sgmail.NewV3Mail()
	msg.SetFrom(m.from)
	msg.AddPersonalizations(p)
	msg.AddContent(sgmail.NewContent("text/plain", n.Body))
	return msg
}

// Send posts the message. The SendGrid client takes no context, so the call
// runs aside and ctx only bounds how long Send waits for it.
func (m *SendgridMailer) Send(ctx context.Context, n Notification) error {
	req := sendgrid.GetRequest(m.key, sendgridEndpoint, m.host)
	req.Method = http.MethodPost
	req.Body = sgmail.GetRequestBody(m.prepare(n))

	done := make(chan error, 1)
	go func() {
		res, err := sendgrid.API(req)
		switch {
		case err != nil:
			done <- errors.Wrap(err, "sendgrid request")
		case res.StatusCode >= http.StatusBadRequest:
			done <- errors.Errorf("sendgrid status %d: %s", res.StatusCode, res.Body)
		default:
			done <- nil
		}
	}()
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return errors.Wrap(ctx.Err(), "sendgrid send")
	}
}

// NewMailer picks the transport named by cfg.MailBackend. Anything other than
// smtp or sendgrid logs instead of sending.
func NewMailer(cfg config.App, log logrus.FieldLogger) Mailer {
	switch cfg.MailBackend {
	case "smtp":
		return NewSMTPMailer(SMTPConfig{
			Host:     cfg.SMTPHost,
			Port:     cfg.SMTPPort,
			Username: cfg.SMTPUser,
			Password: cfg.SMTPPass,
			From:     cfg.MailFrom,
		})
	case "sendgrid":
		return NewSendgridMailer(cfg.SendgridAPIKey, cfg.MailFrom)
	default:
		return NewLogMailer(log)
	}
}
