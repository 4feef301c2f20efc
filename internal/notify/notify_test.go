package notify

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/smtp"
	"testing"
	"time"

	"github.com/emersion/go-message/mail"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "signflow/internal/common/errors"
	"signflow/internal/common/logging"
)

func TestRender_AllTemplates(t *testing.T) {
	for _, tmpl := range Templates() {
		t.Run(string(tmpl), func(t *testing.T) {
			msg, err := Render(tmpl, "order-1", map[string]string{KeySignerName: "Ada Lovelace"})
			require.NoError(t, err)
			assert.Contains(t, msg.Subject, "order-1")
			assert.Contains(t, msg.Body, "Ada Lovelace")
		})
	}
	assert.Len(t, Templates(), 7)
}

func TestRender_SigningFailedCarriesStepAndRetry(t *testing.T) {
	msg, err := Render(TemplateSigningFailed, "order-1", map[string]string{
		KeyStep:      "signature",
		KeyReason:    "rejected by signer",
		KeyRetryable: "true",
	})
	require.NoError(t, err)
	assert.Contains(t, msg.Body, "signature step: rejected by signer")
	assert.Contains(t, msg.Body, "start the signing again")
	assert.Contains(t, msg.Body, "Hello customer")
}

func TestRender_UnknownTemplate(t *testing.T) {
	_, err := Render("nope", "order-1", nil)
	require.Error(t, err)
	assert.True(t, apperrors.IsType(err, apperrors.ErrTypeValidation))
}

type failingSink struct{ err error }

func (f failingSink) Send(context.Context, Template, string, map[string]string) error { return f.err }

func TestMultiSink(t *testing.T) {
	ok := NewLogSink(logging.NewNopLogger())
	assert.NoError(t, MultiSink{ok, ok}.Send(context.Background(), TemplateDocumentSigned, "o", nil))

	err := MultiSink{ok, failingSink{errors.New("smtp down")}}.Send(context.Background(), TemplateDocumentSigned, "o", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "smtp down")
}

func TestInstrumented_PassesErrorThrough(t *testing.T) {
	sink := NewInstrumented(failingSink{errors.New("boom")})
	assert.EqualError(t, sink.Send(context.Background(), TemplateSessionExpired, "o", nil), "boom")
}

func TestSMTPConfig_Validate(t *testing.T) {
	_, err := NewSMTPSink(&SMTPConfig{From: "a@b.no"}, logging.NewNopLogger())
	assert.True(t, apperrors.IsType(err, apperrors.ErrTypeConfiguration))

	cfg := &SMTPConfig{Host: "mail.local", From: "a@b.no"}
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 587, cfg.Port)
}

func TestSMTPSink_ComposesMIMEMessage(t *testing.T) {
	sink, err := NewSMTPSink(&SMTPConfig{
		Host:     "mail.local",
		Port:     2525,
		Username: "user",
		Password: "pass",
		From:     "noreply@shop.no",
		FromName: "Shop",
	}, logging.NewNopLogger())
	require.NoError(t, err)
	sink.now = func() time.Time { return time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC) }

	var gotAddr, gotFrom string
	var gotTo []string
	var gotMsg []byte
	sink.send = func(addr string, auth smtp.Auth, from string, to []string, msg []byte) error {
		gotAddr, gotFrom, gotTo, gotMsg = addr, from, to, msg
		assert.NotNil(t, auth)
		return nil
	}

	err = sink.Send(context.Background(), TemplateDocumentSigned, "order-9", map[string]string{
		KeySignerEmail: "a@b.no",
		KeySignerName:  "Ada Lovelace",
		KeyDocumentURL: "https://files.example/signed.pdf",
	})
	require.NoError(t, err)

	assert.Equal(t, "mail.local:2525", gotAddr)
	assert.Equal(t, "noreply@shop.no", gotFrom)
	assert.Equal(t, []string{"a@b.no"}, gotTo)

	mr, err := mail.CreateReader(bytes.NewReader(gotMsg))
	require.NoError(t, err)
	subject, err := mr.Header.Subject()
	require.NoError(t, err)
	assert.Equal(t, "Document signed for order order-9", subject)

	to, err := mr.Header.AddressList("To")
	require.NoError(t, err)
	require.Len(t, to, 1)
	assert.Equal(t, "a@b.no", to[0].Address)

	part, err := mr.NextPart()
	require.NoError(t, err)
	body, err := io.ReadAll(part.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "https://files.example/signed.pdf")
}

func TestSMTPSink_RecipientFallbackAndSkip(t *testing.T) {
	sink, err := NewSMTPSink(&SMTPConfig{Host: "mail.local", From: "noreply@shop.no"}, logging.NewNopLogger())
	require.NoError(t, err)

	calls := 0
	sink.send = func(addr string, auth smtp.Auth, from string, to []string, msg []byte) error {
		calls++
		assert.Nil(t, auth)
		return nil
	}

	require.NoError(t, sink.Send(context.Background(), TemplateSessionExpired, "o", nil))
	assert.Equal(t, 0, calls)

	sink.config.Recipient = "ops@shop.no"
	require.NoError(t, sink.Send(context.Background(), TemplateSessionExpired, "o", nil))
	assert.Equal(t, 1, calls)
}

func TestSMTPSink_SendFailureIsNetworkError(t *testing.T) {
	sink, err := NewSMTPSink(&SMTPConfig{Host: "mail.local", From: "noreply@shop.no"}, logging.NewNopLogger())
	require.NoError(t, err)
	sink.send = func(string, smtp.Auth, string, []string, []byte) error {
		return errors.New("connection refused")
	}

	err = sink.Send(context.Background(), TemplateIdentityFailed, "o", map[string]string{KeySignerEmail: "a@b.no"})
	require.Error(t, err)
	assert.True(t, apperrors.IsType(err, apperrors.ErrTypeNetwork))
}
