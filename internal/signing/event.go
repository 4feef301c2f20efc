package signing

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"signflow/internal/common/errors"
)

// EventType discriminates Event variants
type EventType string

const (
	EventIdentitySucceeded  EventType = "authentication.succeeded"
	EventIdentityFailed     EventType = "authentication.failed"
	EventIdentityCancelled  EventType = "authentication.cancelled"
	EventSignatureCompleted EventType = "signature.completed"
	EventSignatureFailed    EventType = "signature.failed"
	EventSignatureRejected  EventType = "signature.rejected"
	EventSignatureExpired   EventType = "signature.expired"
	EventSessionExpired     EventType = "session.expired"
	EventCompletion         EventType = "completion"
)

// Payload is the variant-specific part of an event. The concrete type is
// fixed by Event.Type.
type Payload interface {
	eventPayload()
}

// IdentityVerified carries the identity claims of authentication.succeeded
type IdentityVerified struct {
	Claims map[string]string
}

// Failure carries the reason of a failed, rejected, cancelled or expired step
type Failure struct {
	Reason string
	Code   string
}

// Signed carries the signed document location of signature.completed
type Signed struct {
	DocumentURL string
}

// Completion is the terminal callback's view of the session
type Completion struct {
	Status      string
	DocumentURL string
}

func (IdentityVerified) eventPayload() {}
func (Failure) eventPayload()          {}
func (Signed) eventPayload()           {}
func (Completion) eventPayload()       {}

// Event is a provider notification about a session
type Event struct {
	Type         EventType
	SessionID    string
	OrderRefMeta string
	Payload      Payload
	ReceivedAt   time.Time
}

// UnrecognizedEventError is returned for a well-formed delivery with an
// unknown type. It is acknowledged, never failed.
type UnrecognizedEventError struct {
	Type string
}

func (e *UnrecognizedEventError) Error() string {
	return fmt.Sprintf("unrecognized event type %q", e.Type)
}

type lifecycleEnvelope struct {
	Type string                     `json:"type"`
	Data map[string]json.RawMessage `json:"data"`
}

// ParseLifecycleEvent decodes {type, data: {session_id, ...}}. Malformed
// bodies yield a validation AppError; unknown types an *UnrecognizedEventError.
func ParseLifecycleEvent(body []byte, receivedAt time.Time) (Event, error) {
	var env lifecycleEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return Event{}, errors.ValidationError("malformed event payload").WithField("body", err.Error())
	}
	if env.Type == "" {
		return Event{}, errors.ValidationError("event type is required").WithField("type", "required")
	}

	ev := Event{
		Type:         EventType(env.Type),
		SessionID:    dataString(env.Data, "session_id"),
		OrderRefMeta: dataString(env.Data, "order_ref"),
		ReceivedAt:   receivedAt,
	}

	switch ev.Type {
	case EventIdentitySucceeded:
		ev.Payload = IdentityVerified{Claims: claims(env.Data)}
	case EventIdentityFailed, EventIdentityCancelled,
		EventSignatureFailed, EventSignatureRejected, EventSignatureExpired, EventSessionExpired:
		ev.Payload = Failure{
			Reason: firstString(env.Data, "reason", "message", "error"),
			Code:   firstString(env.Data, "code", "error_code"),
		}
	case EventSignatureCompleted:
		ev.Payload = Signed{DocumentURL: firstString(env.Data, "document_url", "signed_document_url", "url")}
	default:
		return Event{}, &UnrecognizedEventError{Type: env.Type}
	}

	if ev.SessionID == "" && ev.OrderRefMeta == "" {
		return Event{}, errors.ValidationError("event does not reference a session").
			WithField("data.session_id", "required")
	}
	return ev, nil
}

type completionEnvelope struct {
	ID       string `json:"id"`
	Status   string `json:"status"`
	Metadata struct {
		OrderRef     string `json:"orderRef"`
		HostOrderRef string `json:"hostOrderRef"`
	} `json:"metadata"`
	DocumentURL string `json:"documentUrl"`
}

// ParseCompletionEvent decodes {id, status, metadata: {orderRef, hostOrderRef}, documentUrl?}
func ParseCompletionEvent(body []byte, receivedAt time.Time) (Event, error) {
	var env completionEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return Event{}, errors.ValidationError("malformed completion payload").WithField("body", err.Error())
	}
	if env.Status == "" {
		return Event{}, errors.ValidationError("completion status is required").WithField("status", "required")
	}

	orderRef := env.Metadata.OrderRef
	if orderRef == "" {
		orderRef = env.Metadata.HostOrderRef
	}
	if env.ID == "" && orderRef == "" {
		return Event{}, errors.ValidationError("completion does not reference a session").
			WithField("id", "required")
	}

	return Event{
		Type:         EventCompletion,
		SessionID:    env.ID,
		OrderRefMeta: orderRef,
		Payload:      Completion{Status: strings.ToLower(strings.TrimSpace(env.Status)), DocumentURL: env.DocumentURL},
		ReceivedAt:   receivedAt,
	}, nil
}

func dataString(data map[string]json.RawMessage, key string) string {
	raw, ok := data[key]
	if !ok {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return ""
	}
	return strings.TrimSpace(s)
}

func firstString(data map[string]json.RawMessage, keys ...string) string {
	for _, k := range keys {
		if v := dataString(data, k); v != "" {
			return v
		}
	}
	return ""
}

// claims collects identity claims from data.claims, falling back to the
// scalar string fields of data itself
func claims(data map[string]json.RawMessage) map[string]string {
	out := make(map[string]string)
	if raw, ok := data["claims"]; ok {
		var nested map[string]interface{}
		if err := json.Unmarshal(raw, &nested); err == nil {
			for k, v := range nested {
				out[k] = fmt.Sprint(v)
			}
			return out
		}
	}
	for k := range data {
		if k == "session_id" || k == "order_ref" {
			continue
		}
		if v := dataString(data, k); v != "" {
			out[k] = v
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}
