package notify

import (
	"bytes"
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net"
	"net/smtp"
	"strconv"
	"time"

	"github.com/emersion/go-message/mail"
	"signflow/internal/common/errors"
	"signflow/internal/common/logging"
)

// SMTPConfig configures the mail sink
type SMTPConfig struct {
	Host       string
	Port       int
	Username   string
	Password   string
	From       string
	FromName   string
	UseSSL     bool
	SkipVerify bool
	// Recipient is used when the notification carries no signer email
	Recipient string
}

func (c *SMTPConfig) Validate() error {
	if c.Host == "" {
		return errors.ConfigError("SMTP host is required")
	}
	if c.From == "" {
		return errors.ConfigError("SMTP from address is required")
	}
	if c.Port <= 0 {
		c.Port = 587
	}
	return nil
}

type sendFunc func(addr string, auth smtp.Auth, from string, to []string, msg []byte) error

// SMTPSink mails rendered notifications to the signer
type SMTPSink struct {
	config *SMTPConfig
	logger logging.Logger
	send   sendFunc
	now    func() time.Time
}

func NewSMTPSink(config *SMTPConfig, logger logging.Logger) (*SMTPSink, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = logging.GetGlobalLogger()
	}

	s := &SMTPSink{config: config, logger: logger, now: time.Now}
	if config.UseSSL {
		s.send = s.sendWithSSL
	} else {
		s.send = smtp.SendMail
	}
	return s, nil
}

func (s *SMTPSink) Send(ctx context.Context, tmpl Template, orderRef string, data map[string]string) error {
	to := data[KeySignerEmail]
	if to == "" {
		to = s.config.Recipient
	}
	if to == "" {
		s.logger.WithContext(ctx).Warn("No recipient for notification, skipping",
			logging.String("template", string(tmpl)),
			logging.String("order_ref", orderRef))
		return nil
	}

	msg, err := Render(tmpl, orderRef, data)
	if err != nil {
		return err
	}

	raw, err := s.compose(to, data[KeySignerName], msg)
	if err != nil {
		return fmt.Errorf("compose %s: %w", tmpl, err)
	}

	var auth smtp.Auth
	if s.config.Username != "" {
		auth = smtp.PlainAuth("", s.config.Username, s.config.Password, s.config.Host)
	}

	addr := net.JoinHostPort(s.config.Host, strconv.Itoa(s.config.Port))
	if err := s.send(addr, auth, s.config.From, []string{to}, raw); err != nil {
		return errors.NetworkError("failed to send notification email", err).
			WithContext("template", string(tmpl))
	}

	s.logger.WithContext(ctx).Debug("Notification email sent",
		logging.String("template", string(tmpl)),
		logging.String("order_ref", orderRef))
	return nil
}

// compose builds a single-part text/plain MIME message
func (s *SMTPSink) compose(to, toName string, msg *Message) ([]byte, error) {
	var h mail.Header
	h.SetDate(s.now())
	h.SetAddressList("From", []*mail.Address{{Name: s.config.FromName, Address: s.config.From}})
	h.SetAddressList("To", []*mail.Address{{Name: toName, Address: to}})
	h.SetSubject(msg.Subject)
	if err := h.GenerateMessageID(); err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	mw, err := mail.CreateWriter(&buf, h)
	if err != nil {
		return nil, err
	}

	tw, err := mw.CreateInline()
	if err != nil {
		return nil, err
	}
	var th mail.InlineHeader
	th.SetContentType("text/plain", map[string]string{"charset": "utf-8"})
	w, err := tw.CreatePart(th)
	if err != nil {
		return nil, err
	}
	if _, err := io.WriteString(w, msg.Body); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	if err := tw.Close(); err != nil {
		return nil, err
	}
	if err := mw.Close(); err != nil {
		return nil, err
	}

	return buf.Bytes(), nil
}

// sendWithSSL sends over implicit TLS
func (s *SMTPSink) sendWithSSL(addr string, auth smtp.Auth, from string, to []string, msg []byte) error {
	tlsConfig := &tls.Config{
		ServerName:         s.config.Host,
		InsecureSkipVerify: s.config.SkipVerify,
	}

	conn, err := tls.Dial("tcp", addr, tlsConfig)
	if err != nil {
		return fmt.Errorf("failed to connect to SMTP server: %w", err)
	}
	defer conn.Close()

	client, err := smtp.NewClient(conn, s.config.Host)
	if err != nil {
		return fmt.Errorf("failed to create SMTP client: %w", err)
	}
	defer client.Close()

	if auth != nil {
		if err = client.Auth(auth); err != nil {
			return fmt.Errorf("SMTP authentication failed: %w", err)
		}
	}

	if err = client.Mail(from); err != nil {
		return err
	}
	for _, rcpt := range to {
		if err = client.Rcpt(rcpt); err != nil {
			return err
		}
	}

	w, err := client.Data()
	if err != nil {
		return err
	}
	if _, err = w.Write(msg); err != nil {
		return err
	}
	if err = w.Close(); err != nil {
		return err
	}

	return client.Quit()
}
