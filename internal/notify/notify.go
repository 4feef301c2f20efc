// Package notify delivers signing-session notifications to the host.
//
// Every state transition of a signing session produces exactly one Send call.
// Delivery is best effort: callers log a failed Send and carry on.
package notify

import (
	"bytes"
	"context"
	"fmt"
	"sort"
	"strings"
	"text/template"

	"signflow/internal/common/errors"
	"signflow/internal/common/logging"
	"signflow/internal/metrics"
)

// Template names a notification
type Template string

const (
	TemplateIdentityConfirmed Template = "identity_confirmed"
	TemplateIdentityFailed    Template = "identity_failed"
	TemplateIdentityCancelled Template = "identity_cancelled"
	TemplateAwaitingSignature Template = "awaiting_signature"
	TemplateDocumentSigned    Template = "document_signed"
	TemplateSigningFailed     Template = "signing_failed"
	TemplateSessionExpired    Template = "session_expired"
)

// Context keys the orchestrator fills in
const (
	KeySessionID   = "session_id"
	KeySignerName  = "signer_name"
	KeySignerEmail = "signer_email"
	KeyReason      = "reason"
	KeyDocumentURL = "document_url"
	KeyStep        = "step"
	KeyRetryable   = "retryable"
)

// Sink receives notifications
type Sink interface {
	Send(ctx context.Context, tmpl Template, orderRef string, data map[string]string) error
}

// Message is a rendered notification
type Message struct {
	Subject string
	Body    string
}

type messageTemplate struct {
	subject *template.Template
	body    *template.Template
}

var messages = map[Template]messageTemplate{
	TemplateIdentityConfirmed: parse(
		"Identity confirmed for order {{.order_ref}}",
		"Hello {{.signer_name}},\n\nYour identity has been confirmed. The document for order {{.order_ref}} is ready to sign.\n"),
	TemplateIdentityFailed: parse(
		"Identity verification failed for order {{.order_ref}}",
		"Hello {{.signer_name}},\n\nWe could not verify your identity{{if .reason}}: {{.reason}}{{end}}.\n{{if eq .retryable \"true\"}}You can start the signing again.\n{{end}}"),
	TemplateIdentityCancelled: parse(
		"Identity verification cancelled for order {{.order_ref}}",
		"Hello {{.signer_name}},\n\nThe identity verification for order {{.order_ref}} was cancelled.\n"),
	TemplateAwaitingSignature: parse(
		"Please sign the document for order {{.order_ref}}",
		"Hello {{.signer_name}},\n\nThe document for order {{.order_ref}} is waiting for your signature.\n"),
	TemplateDocumentSigned: parse(
		"Document signed for order {{.order_ref}}",
		"Hello {{.signer_name}},\n\nThe document for order {{.order_ref}} has been signed.\n{{if .document_url}}Signed copy: {{.document_url}}\n{{end}}"),
	TemplateSigningFailed: parse(
		"Signing failed for order {{.order_ref}}",
		"Hello {{.signer_name}},\n\nSigning failed at the {{.step}} step{{if .reason}}: {{.reason}}{{end}}.\n{{if eq .retryable \"true\"}}You can start the signing again.\n{{end}}"),
	TemplateSessionExpired: parse(
		"Signing session expired for order {{.order_ref}}",
		"Hello {{.signer_name}},\n\nThe signing session for order {{.order_ref}} expired before it was completed.\n"),
}

func parse(subject, body string) messageTemplate {
	return messageTemplate{
		subject: template.Must(template.New("subject").Option("missingkey=zero").Parse(subject)),
		body:    template.Must(template.New("body").Option("missingkey=zero").Parse(body)),
	}
}

// Templates lists every known template name, sorted
func Templates() []Template {
	names := make([]Template, 0, len(messages))
	for name := range messages {
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool { return names[i] < names[j] })
	return names
}

// Render fills tmpl with orderRef and data
func Render(tmpl Template, orderRef string, data map[string]string) (*Message, error) {
	mt, ok := messages[tmpl]
	if !ok {
		return nil, errors.ValidationError(fmt.Sprintf("unknown notification template %q", tmpl)).
			WithField("template", "unknown")
	}

	vars := make(map[string]string, len(data)+1)
	for k, v := range data {
		vars[k] = v
	}
	vars["order_ref"] = orderRef
	if vars[KeySignerName] == "" {
		vars[KeySignerName] = "customer"
	}

	var subject, body bytes.Buffer
	if err := mt.subject.Execute(&subject, vars); err != nil {
		return nil, fmt.Errorf("render subject of %s: %w", tmpl, err)
	}
	if err := mt.body.Execute(&body, vars); err != nil {
		return nil, fmt.Errorf("render body of %s: %w", tmpl, err)
	}

	return &Message{
		Subject: strings.TrimSpace(subject.String()),
		Body:    body.String(),
	}, nil
}

// LogSink writes notifications to the log
type LogSink struct {
	logger logging.Logger
}

func NewLogSink(logger logging.Logger) *LogSink {
	if logger == nil {
		logger = logging.GetGlobalLogger()
	}
	return &LogSink{logger: logger}
}

func (s *LogSink) Send(ctx context.Context, tmpl Template, orderRef string, data map[string]string) error {
	msg, err := Render(tmpl, orderRef, data)
	if err != nil {
		return err
	}
	s.logger.WithContext(ctx).Info("Notification",
		logging.String("template", string(tmpl)),
		logging.String("order_ref", orderRef),
		logging.String("subject", msg.Subject),
	)
	return nil
}

// MultiSink fans a notification out to every sink and joins their errors
type MultiSink []Sink

func (m MultiSink) Send(ctx context.Context, tmpl Template, orderRef string, data map[string]string) error {
	var failed []string
	for _, sink := range m {
		if err := sink.Send(ctx, tmpl, orderRef, data); err != nil {
			failed = append(failed, err.Error())
		}
	}
	if len(failed) > 0 {
		return fmt.Errorf("notification %s: %s", tmpl, strings.Join(failed, "; "))
	}
	return nil
}

// Instrumented counts deliveries per template and status
type Instrumented struct {
	next Sink
}

func NewInstrumented(next Sink) *Instrumented {
	return &Instrumented{next: next}
}

func (s *Instrumented) Send(ctx context.Context, tmpl Template, orderRef string, data map[string]string) error {
	err := s.next.Send(ctx, tmpl, orderRef, data)
	status := "sent"
	if err != nil {
		status = "failed"
	}
	metrics.Notifications.WithLabelValues(string(tmpl), status).Inc()
	return err
}
