package gateway

import (
	"context"
	"net/http"
	"net/url"
	"strings"

	"signflow/internal/common/errors"
)

// Signer is the person asked to identify and sign
type Signer struct {
	Email string `json:"email"`
	Name  string `json:"name"`
}

// Document is the backend's view of a document attached to an order
type Document struct {
	ID          string `json:"id"`
	OrderRef    string `json:"orderRef,omitempty"`
	Title       string `json:"title"`
	ContentType string `json:"contentType,omitempty"`
	URL         string `json:"url,omitempty"`
	Checksum    string `json:"checksum,omitempty"`
}

// CreateSessionRequest is sent to the provider to open a signing session
type CreateSessionRequest struct {
	OrderRef    string            `json:"orderRef"`
	DocumentRef string            `json:"documentRef"`
	Title       string            `json:"title"`
	Signer      Signer            `json:"signer"`
	ExtraClaims map[string]string `json:"extraClaims,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

// SigningSession is the provider's answer to CreateSigningSession
type SigningSession struct {
	ID         string `json:"id"`
	Status     string `json:"status"`
	SigningURL string `json:"url,omitempty"`
	ExpiresAt  string `json:"expiresAt,omitempty"`
}

// SessionMetadata echoes the references given at creation
type SessionMetadata struct {
	OrderRef     string `json:"orderRef,omitempty"`
	HostOrderRef string `json:"hostOrderRef,omitempty"`
}

// SessionStatus is the polled state of a signing session
type SessionStatus struct {
	ID          string          `json:"id"`
	Status      string          `json:"status"`
	DocumentURL string          `json:"documentUrl,omitempty"`
	Metadata    SessionMetadata `json:"metadata"`
}

// IdentityRequest starts an identity verification for a signing session
type IdentityRequest struct {
	SessionID   string `json:"sessionId"`
	Signer      Signer `json:"signer"`
	RedirectURL string `json:"redirectUrl,omitempty"`
}

// IdentitySession is an identity verification in progress
type IdentitySession struct {
	ID        string            `json:"id"`
	SessionID string            `json:"sessionId,omitempty"`
	Status    string            `json:"status"`
	URL       string            `json:"url,omitempty"`
	Claims    map[string]string `json:"claims,omitempty"`
}

// decode turns a result into a typed value; the error is always an *errors.AppError
func decode[T any](res Result) (*T, error) {
	if !res.Success {
		return nil, res.Error
	}
	var out T
	if err := res.Decode(&out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (g *Gateway) backendURL(parts ...string) (string, error) {
	if g.config.BackendBaseURL == "" {
		return "", errors.ConfigError("backend base url is not configured")
	}
	return joinURL(g.config.BackendBaseURL, parts...), nil
}

func joinURL(base string, parts ...string) string {
	escaped := make([]string, 0, len(parts))
	for _, p := range parts {
		escaped = append(escaped, url.PathEscape(p))
	}
	return strings.TrimRight(base, "/") + "/" + strings.Join(escaped, "/")
}

func requireRef(name, value string) error {
	if strings.TrimSpace(value) == "" {
		return errors.ValidationError(name+" is required").WithField(name, "required")
	}
	return nil
}

// FetchDocument reads document metadata from the order backend. Reads are cached.
func (g *Gateway) FetchDocument(ctx context.Context, documentRef string) (*Document, error) {
	if err := requireRef("documentRef", documentRef); err != nil {
		return nil, err
	}
	endpoint, err := g.backendURL("documents", documentRef)
	if err != nil {
		return nil, err
	}
	return decode[Document](g.Request(ctx, endpoint, RequestOptions{
		Method:    http.MethodGet,
		Operation: "fetch_document",
	}))
}

// CreateSigningSession opens a signing session at the provider. Retries of
// the same logical call must pass the same idempotencyKey.
func (g *Gateway) CreateSigningSession(ctx context.Context, req CreateSessionRequest, idempotencyKey string) (*SigningSession, error) {
	if err := requireRef("orderRef", req.OrderRef); err != nil {
		return nil, err
	}
	return decode[SigningSession](g.Request(ctx, "signing/sessions", RequestOptions{
		Method:         http.MethodPost,
		Body:           req,
		IdempotencyKey: idempotencyKey,
		Operation:      "create_signing_session",
	}))
}

// GetSessionStatus polls a signing session, bypassing the cache
func (g *Gateway) GetSessionStatus(ctx context.Context, sessionID string) (*SessionStatus, error) {
	if err := requireRef("sessionId", sessionID); err != nil {
		return nil, err
	}
	return decode[SessionStatus](g.Request(ctx, joinURL("signing/sessions", sessionID), RequestOptions{
		Method:    http.MethodGet,
		SkipCache: true,
		Operation: "get_session_status",
	}))
}

// InitiateIdentity starts identity verification for a signing session
func (g *Gateway) InitiateIdentity(ctx context.Context, req IdentityRequest) (*IdentitySession, error) {
	if err := requireRef("sessionId", req.SessionID); err != nil {
		return nil, err
	}
	return decode[IdentitySession](g.Request(ctx, "identity/sessions", RequestOptions{
		Method:    http.MethodPost,
		Body:      req,
		Operation: "initiate_identity",
	}))
}

// GetIdentityStatus polls an identity verification, bypassing the cache
func (g *Gateway) GetIdentityStatus(ctx context.Context, identityID string) (*IdentitySession, error) {
	if err := requireRef("identityId", identityID); err != nil {
		return nil, err
	}
	return decode[IdentitySession](g.Request(ctx, joinURL("identity/sessions", identityID), RequestOptions{
		Method:    http.MethodGet,
		SkipCache: true,
		Operation: "get_identity_status",
	}))
}

// CancelIdentity asks the provider to cancel an in-flight identity
// verification. It does not interrupt a call already in progress.
func (g *Gateway) CancelIdentity(ctx context.Context, sessionID string) error {
	if err := requireRef("sessionId", sessionID); err != nil {
		return err
	}
	res := g.Request(ctx, joinURL("identity/sessions", sessionID, "cancel"), RequestOptions{
		Method:    http.MethodPost,
		Operation: "cancel_identity",
	})
	if !res.Success {
		return res.Error
	}
	return nil
}
