package handlers

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"io"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"signflow/internal/common/errors"
	"signflow/internal/common/logging"
	"signflow/internal/signing"
)

// IdempotencyHeader lets clients key a start request without a body field
const IdempotencyHeader = "Idempotency-Key"

const healthTimeout = 5 * time.Second

type startSessionBody struct {
	DocumentRef    string            `json:"documentRef"`
	Signer         signing.Signer    `json:"signer"`
	Title          string            `json:"title,omitempty"`
	ExtraClaims    map[string]string `json:"extraClaims,omitempty"`
	IdempotencyKey string            `json:"idempotencyKey,omitempty"`
}

// StartSession handles POST /api/orders/{orderRef}/signing
func (h *Handlers) StartSession(w http.ResponseWriter, r *http.Request) {
	orderRef := mux.Vars(r)["orderRef"]

	var body startSessionBody
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, h.maxBodyBytes))
	if err := dec.Decode(&body); err != nil {
		h.writeError(w, r, errors.ValidationError("invalid JSON body"))
		return
	}

	key := body.IdempotencyKey
	if key == "" {
		key = strings.TrimSpace(r.Header.Get(IdempotencyHeader))
	}

	session, err := h.signing.StartSession(r.Context(), signing.StartRequest{
		OrderRef:       orderRef,
		DocumentRef:    body.DocumentRef,
		Signer:         body.Signer,
		Title:          body.Title,
		ExtraClaims:    body.ExtraClaims,
		IdempotencyKey: key,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, session)
}

// GetSession handles GET /api/orders/{orderRef}/signing
func (h *Handlers) GetSession(w http.ResponseWriter, r *http.Request) {
	session, err := h.signing.GetSession(r.Context(), mux.Vars(r)["orderRef"])
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, session)
}

// CompleteSession handles POST /api/orders/{orderRef}/signing/complete, the
// fallback for a missed completion callback
func (h *Handlers) CompleteSession(w http.ResponseWriter, r *http.Request) {
	session, err := h.signing.TriggerCompletion(r.Context(), mux.Vars(r)["orderRef"])
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, session)
}

type identityBody struct {
	RedirectURL string `json:"redirectUrl,omitempty"`
}

// InitiateIdentity handles POST /api/orders/{orderRef}/signing/identity. The
// body is optional.
func (h *Handlers) InitiateIdentity(w http.ResponseWriter, r *http.Request) {
	var body identityBody
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, h.maxBodyBytes))
	if err := dec.Decode(&body); err != nil && !stderrors.Is(err, io.EOF) {
		h.writeError(w, r, errors.ValidationError("invalid JSON body"))
		return
	}

	session, err := h.signing.InitiateIdentity(r.Context(), mux.Vars(r)["orderRef"], strings.TrimSpace(body.RedirectURL))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, session)
}

// CancelSession handles POST /api/sessions/{sessionId}/cancel
func (h *Handlers) CancelSession(w http.ResponseWriter, r *http.Request) {
	sessionID := mux.Vars(r)["sessionId"]
	if err := h.signing.CancelSession(r.Context(), sessionID); err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{
		"status":    "cancel_requested",
		"sessionId": sessionID,
	})
}

// GatewayMetrics handles GET /api/gateway/metrics
func (h *Handlers) GatewayMetrics(w http.ResponseWriter, r *http.Request) {
	if h.gateway == nil {
		h.writeError(w, r, errors.NotFoundError("gateway metrics"))
		return
	}
	writeJSON(w, http.StatusOK, h.gateway.Metrics())
}

// HealthResponse is the body of GET /health
type HealthResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

// Health runs every registered check and answers 503 if any fails
func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), healthTimeout)
	defer cancel()

	names := make([]string, 0, len(h.checks))
	for name := range h.checks {
		names = append(names, name)
	}
	sort.Strings(names)

	resp := HealthResponse{Status: "ok", Checks: make(map[string]string, len(names))}
	for _, name := range names {
		if err := h.checks[name](ctx); err != nil {
			h.logger.WithContext(ctx).Warn("Health check failed",
				logging.String("check", name),
				logging.Err(err))
			resp.Status = "degraded"
			resp.Checks[name] = err.Error()
			continue
		}
		resp.Checks[name] = "ok"
	}

	status := http.StatusOK
	if resp.Status != "ok" {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, resp)
}
