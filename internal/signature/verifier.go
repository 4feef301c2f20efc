// Package signature authenticates inbound provider webhooks.
//
// The provider signs the raw request body with HMAC-SHA256 and sends the hex
// digest in a configurable header, optionally prefixed with "sha256=".
// Verification runs on the raw bytes before any JSON parsing.
package signature

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/http"
	"strings"

	"signflow/internal/common/errors"
	"signflow/internal/common/logging"
)

// DefaultHeader is used when no signature header is configured
const DefaultHeader = "X-Signature"

const prefix = "sha256="

// Mode selects whether signatures are checked
type Mode string

const (
	// ModeEnforce rejects deliveries without a valid signature
	ModeEnforce Mode = "enforce"
	// ModeDisabled accepts every delivery and logs a warning for each
	ModeDisabled Mode = "disabled"
)

// ParseMode parses a configured mode; empty means enforce
func ParseMode(s string) (Mode, error) {
	switch Mode(strings.ToLower(strings.TrimSpace(s))) {
	case "", ModeEnforce:
		return ModeEnforce, nil
	case ModeDisabled:
		return ModeDisabled, nil
	default:
		return "", fmt.Errorf("unknown webhook verification mode %q (want enforce or disabled)", s)
	}
}

// Sign returns the hex HMAC-SHA256 of body
func Sign(body []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// Verify reports whether signatureHeader carries the HMAC-SHA256 of rawBody
// under secret. An empty secret or header never verifies.
func Verify(rawBody []byte, signatureHeader, secret string) bool {
	if secret == "" {
		return false
	}
	sig := strings.TrimSpace(signatureHeader)
	if len(sig) >= len(prefix) && strings.EqualFold(sig[:len(prefix)], prefix) {
		sig = sig[len(prefix):]
	}
	if sig == "" {
		return false
	}

	provided, err := hex.DecodeString(sig)
	if err != nil {
		return false
	}

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(rawBody)
	return hmac.Equal(provided, mac.Sum(nil))
}

// Config configures the webhook verifier
type Config struct {
	Mode   Mode
	Secret string
	Header string
}

// Verifier checks inbound webhook requests
type Verifier struct {
	config Config
	logger logging.Logger
}

// NewVerifier validates config and creates a verifier. Enforce mode without a
// secret is a configuration error; disabled mode logs a warning once here.
func NewVerifier(config Config, logger logging.Logger) (*Verifier, error) {
	if logger == nil {
		logger = logging.GetGlobalLogger()
	}
	if config.Mode == "" {
		config.Mode = ModeEnforce
	}
	if config.Header == "" {
		config.Header = DefaultHeader
	}

	switch config.Mode {
	case ModeEnforce:
		if config.Secret == "" {
			return nil, errors.ConfigError("webhook secret is not configured while verification is enforced")
		}
	case ModeDisabled:
		logger.Warn("Webhook signature verification is DISABLED; unsigned deliveries will be accepted",
			logging.String("header", config.Header))
	default:
		return nil, errors.ConfigError(fmt.Sprintf("unknown webhook verification mode %q", config.Mode))
	}

	return &Verifier{config: config, logger: logger}, nil
}

// Mode returns the configured mode
func (v *Verifier) Mode() Mode {
	return v.config.Mode
}

// Header returns the signature header name
func (v *Verifier) Header() string {
	return v.config.Header
}

// VerifyRequest checks the signature of r over body, the already-read raw bytes.
func (v *Verifier) VerifyRequest(r *http.Request, body []byte) error {
	if v.config.Mode == ModeDisabled {
		v.logger.WithContext(r.Context()).Warn("Accepting unsigned webhook delivery, verification disabled",
			logging.String("path", r.URL.Path))
		return nil
	}

	header := r.Header.Get(v.config.Header)
	if header == "" {
		return VerificationError{Reason: ReasonMissing, Header: v.config.Header}
	}
	if !Verify(body, header, v.config.Secret) {
		return VerificationError{Reason: ReasonMismatch, Header: v.config.Header}
	}
	return nil
}
