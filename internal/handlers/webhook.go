package handlers

import (
	stderrors "errors"
	"io"
	"net/http"
	"time"

	"signflow/internal/common/errors"
	"signflow/internal/common/logging"
	"signflow/internal/metrics"
	"signflow/internal/signature"
	"signflow/internal/signing"
)

// WebhookResponse acknowledges a delivery the provider should not retry
type WebhookResponse struct {
	Status  string          `json:"status"`
	Outcome signing.Outcome `json:"outcome,omitempty"`
	Type    string          `json:"type,omitempty"`
}

type parseFunc func(body []byte, receivedAt time.Time) (signing.Event, error)

// HandleLifecycleWebhook receives authentication.* / signature.* / session.* events
func (h *Handlers) HandleLifecycleWebhook(w http.ResponseWriter, r *http.Request) {
	h.handleWebhook(w, r, signing.ParseLifecycleEvent)
}

// HandleCompletionWebhook receives the provider's completion callback
func (h *Handlers) HandleCompletionWebhook(w http.ResponseWriter, r *http.Request) {
	h.handleWebhook(w, r, signing.ParseCompletionEvent)
}

func (h *Handlers) handleWebhook(w http.ResponseWriter, r *http.Request, parse parseFunc) {
	log := h.logger.WithContext(r.Context())

	// Read the raw body once; the signature covers these exact bytes
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, h.maxBodyBytes))
	if err != nil {
		metrics.WebhookEvents.WithLabelValues("unknown", "malformed").Inc()
		h.writeError(w, r, errors.ValidationError("failed to read request body"))
		return
	}

	if err := h.verifier.VerifyRequest(r, body); err != nil {
		reason := err.Error()
		var verr signature.VerificationError
		if stderrors.As(err, &verr) {
			reason = string(verr.Reason)
		}
		log.Warn("Webhook signature rejected",
			logging.String("path", r.URL.Path),
			logging.String("reason", reason))
		metrics.WebhookEvents.WithLabelValues("unknown", "rejected").Inc()
		writeJSON(w, http.StatusUnauthorized, ErrorResponse{
			Kind:    errors.ErrTypeIntegrity,
			Message: "invalid webhook signature",
		})
		return
	}

	ev, err := parse(body, h.now())
	if err != nil {
		var unknown *signing.UnrecognizedEventError
		if stderrors.As(err, &unknown) {
			log.Warn("Ignoring unrecognized webhook event", logging.String("event_type", unknown.Type))
			metrics.WebhookEvents.WithLabelValues("unrecognized", "ignored").Inc()
			writeJSON(w, http.StatusOK, WebhookResponse{Status: "ignored", Type: unknown.Type})
			return
		}
		metrics.WebhookEvents.WithLabelValues("unknown", "malformed").Inc()
		h.writeError(w, r, err)
		return
	}

	outcome, err := h.signing.ApplyEvent(r.Context(), ev)
	if err != nil {
		metrics.WebhookEvents.WithLabelValues(string(ev.Type), string(errors.GetType(err))).Inc()
		if errors.IsType(err, errors.ErrTypeIntegrity) {
			log.Error("Webhook integrity mismatch", err,
				logging.String("event_type", string(ev.Type)),
				logging.String("session_id", ev.SessionID),
				logging.String("order_ref", ev.OrderRefMeta))
		}
		h.writeError(w, r, err)
		return
	}

	metrics.WebhookEvents.WithLabelValues(string(ev.Type), string(outcome)).Inc()
	status := "processed"
	if outcome != signing.OutcomeApplied {
		status = "ignored"
	}
	writeJSON(w, http.StatusOK, WebhookResponse{Status: status, Outcome: outcome, Type: string(ev.Type)})
}
