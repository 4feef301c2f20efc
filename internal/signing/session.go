// Package signing runs the signing-session state machine.
//
// A session is created by StartSession and afterwards only moves in response
// to provider events (webhooks or the completion fallback):
//
//	created -> awaiting_identity -> identity_verified -> awaiting_signature -> signed
//	                             \-> identity_failed | identity_cancelled
//	                                                    awaiting_signature -> signature_failed
//	any non-terminal state -> expired
//
// Sessions live as fields on the host order record. Terminal sessions are
// never changed again.
package signing

import (
	"encoding/json"
	"strconv"
	"time"

	"signflow/internal/common/errors"
	"signflow/internal/storage"
)

// Status is the state of a signing session
type Status string

const (
	StatusCreated           Status = "created"
	StatusAwaitingIdentity  Status = "awaiting_identity"
	StatusIdentityVerified  Status = "identity_verified"
	StatusIdentityFailed    Status = "identity_failed"
	StatusIdentityCancelled Status = "identity_cancelled"
	StatusAwaitingSignature Status = "awaiting_signature"
	StatusSigned            Status = "signed"
	StatusSignatureFailed   Status = "signature_failed"
	StatusExpired           Status = "expired"
)

// IsTerminal reports whether no event may change s any more
func (s Status) IsTerminal() bool {
	switch s {
	case StatusIdentityFailed, StatusIdentityCancelled, StatusSigned, StatusSignatureFailed, StatusExpired:
		return true
	}
	return false
}

// Replaceable reports whether a new session may take the order over. Only
// sessions that ended without a signature qualify.
func (s Status) Replaceable() bool {
	return s.IsTerminal() && s != StatusSigned
}

// Signer is the person asked to identify and sign
type Signer struct {
	Email string `json:"email" validate:"required,email"`
	Name  string `json:"name" validate:"required,min=2,max=200"`
}

// SessionError is the last failure recorded on a session
type SessionError struct {
	Kind      string      `json:"kind"`
	Message   string      `json:"message"`
	Step      errors.Step `json:"step"`
	Retryable bool        `json:"retryable"`
}

// Session is one identity-plus-signature run for an order
type Session struct {
	SessionID         string               `json:"sessionId"`
	OrderRef          string               `json:"orderRef"`
	DocumentRef       string               `json:"documentRef"`
	Title             string               `json:"title,omitempty"`
	Signer            Signer               `json:"signer"`
	Status            Status               `json:"status"`
	SigningURL        string               `json:"signingUrl,omitempty"`
	IdentityID        string               `json:"identityId,omitempty"`
	IdentityURL       string               `json:"identityUrl,omitempty"`
	IdempotencyKey    string               `json:"-"`
	CreatedAt         time.Time            `json:"createdAt"`
	UpdatedAt         time.Time            `json:"updatedAt"`
	CompletedAt       *time.Time           `json:"completedAt,omitempty"`
	LastError         *SessionError        `json:"lastError,omitempty"`
	SignedDocumentURL string               `json:"signedDocumentUrl,omitempty"`
	IdentityClaims    map[string]string    `json:"identityClaims,omitempty"`
	Transitions       map[Status]time.Time `json:"transitions,omitempty"`
	// Previous holds the sessions this one replaced, oldest first
	Previous []Session `json:"previousSessions,omitempty"`
}

// replaced reports whether sessionID belongs to a session this one took over from
func (s *Session) replaced(sessionID string) bool {
	for _, p := range s.Previous {
		if p.SessionID == sessionID {
			return true
		}
	}
	return false
}

// retire returns the history a successor of s carries: s's own history
// followed by s itself
func (s *Session) retire() []Session {
	history := make([]Session, 0, len(s.Previous)+1)
	history = append(history, s.Previous...)
	snapshot := *s
	snapshot.Previous = nil
	return append(history, snapshot)
}

// Order field names. Every session field is prefixed so the host's own
// order fields are never touched.
const (
	FieldSessionID      = "signing_session_id"
	FieldStatus         = "signing_status"
	FieldDocumentRef    = "signing_document_ref"
	FieldTitle          = "signing_title"
	FieldSignerEmail    = "signing_signer_email"
	FieldSignerName     = "signing_signer_name"
	FieldSigningURL     = "signing_url"
	FieldIdempotencyKey = "signing_idempotency_key"
	FieldCreatedAt      = "signing_created_at"
	FieldUpdatedAt      = "signing_updated_at"
	FieldCompletedAt    = "signing_completed_at"
	FieldErrorKind      = "signing_error_kind"
	FieldErrorMessage   = "signing_error_message"
	FieldErrorStep      = "signing_error_step"
	FieldErrorRetryable = "signing_error_retryable"
	FieldDocumentURL    = "signing_document_url"
	FieldIdentityClaims = "signing_identity_claims"
	FieldIdentityID     = "signing_identity_id"
	FieldIdentityURL    = "signing_identity_url"
)

// FieldPreviousSessions is a JSON array of the sessions an order's current
// session replaced. Replaced sessions are kept for audit and replay detection.
const FieldPreviousSessions = "signing_previous_sessions"

var allStatuses = []Status{
	StatusCreated, StatusAwaitingIdentity, StatusIdentityVerified, StatusIdentityFailed,
	StatusIdentityCancelled, StatusAwaitingSignature, StatusSigned, StatusSignatureFailed, StatusExpired,
}

// TransitionField is the timestamp field written when a session enters s
func TransitionField(s Status) string {
	return "signing_" + string(s) + "_at"
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(v string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, v)
	if err != nil {
		return time.Time{}
	}
	return t
}

// sessionFromOrder reads the session stored on order, if there is one
func sessionFromOrder(order *storage.Order) (*Session, bool) {
	id := order.Field(FieldSessionID)
	if id == "" {
		return nil, false
	}

	s := &Session{
		SessionID:         id,
		OrderRef:          order.Ref,
		DocumentRef:       order.Field(FieldDocumentRef),
		Title:             order.Field(FieldTitle),
		Signer:            Signer{Email: order.Field(FieldSignerEmail), Name: order.Field(FieldSignerName)},
		Status:            Status(order.Field(FieldStatus)),
		SigningURL:        order.Field(FieldSigningURL),
		IdentityID:        order.Field(FieldIdentityID),
		IdentityURL:       order.Field(FieldIdentityURL),
		IdempotencyKey:    order.Field(FieldIdempotencyKey),
		CreatedAt:         parseTime(order.Field(FieldCreatedAt)),
		UpdatedAt:         parseTime(order.Field(FieldUpdatedAt)),
		SignedDocumentURL: order.Field(FieldDocumentURL),
	}
	if s.Status == "" {
		s.Status = StatusCreated
	}

	if v := order.Field(FieldCompletedAt); v != "" {
		t := parseTime(v)
		s.CompletedAt = &t
	}

	if kind := order.Field(FieldErrorKind); kind != "" {
		retryable, _ := strconv.ParseBool(order.Field(FieldErrorRetryable))
		s.LastError = &SessionError{
			Kind:      kind,
			Message:   order.Field(FieldErrorMessage),
			Step:      errors.Step(order.Field(FieldErrorStep)),
			Retryable: retryable,
		}
	}

	if raw := order.Field(FieldIdentityClaims); raw != "" {
		var claims map[string]string
		if err := json.Unmarshal([]byte(raw), &claims); err == nil {
			s.IdentityClaims = claims
		}
	}

	if raw := order.Field(FieldPreviousSessions); raw != "" {
		var previous []Session
		if err := json.Unmarshal([]byte(raw), &previous); err == nil {
			s.Previous = previous
		}
	}

	for _, st := range allStatuses {
		if v := order.Field(TransitionField(st)); v != "" {
			if s.Transitions == nil {
				s.Transitions = make(map[Status]time.Time)
			}
			s.Transitions[st] = parseTime(v)
		}
	}

	return s, true
}

// newSessionFields resets every session field for a freshly created session
// and records the sessions it replaces
func newSessionFields(s *Session) (map[string]string, error) {
	previous := ""
	if len(s.Previous) > 0 {
		raw, err := json.Marshal(s.Previous)
		if err != nil {
			return nil, err
		}
		previous = string(raw)
	}

	fields := map[string]string{
		FieldSessionID:      s.SessionID,
		FieldStatus:         string(s.Status),
		FieldDocumentRef:    s.DocumentRef,
		FieldTitle:          s.Title,
		FieldSignerEmail:    s.Signer.Email,
		FieldSignerName:     s.Signer.Name,
		FieldSigningURL:     s.SigningURL,
		FieldIdempotencyKey: s.IdempotencyKey,
		FieldCreatedAt:      formatTime(s.CreatedAt),
		FieldUpdatedAt:      formatTime(s.UpdatedAt),
		FieldCompletedAt:    "",
		FieldErrorKind:      "",
		FieldErrorMessage:   "",
		FieldErrorStep:      "",
		FieldErrorRetryable: "",
		FieldDocumentURL:    "",
		FieldIdentityClaims: "",
		FieldIdentityID:     "",
		FieldIdentityURL:    "",

		FieldPreviousSessions: previous,
	}
	for _, st := range allStatuses {
		fields[TransitionField(st)] = ""
	}
	fields[TransitionField(s.Status)] = formatTime(s.CreatedAt)
	return fields, nil
}
