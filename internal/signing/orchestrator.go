package signing

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"signflow/internal/common/errors"
	"signflow/internal/common/logging"
	"signflow/internal/common/utils"
	"signflow/internal/common/validation"
	"signflow/internal/correlation"
	"signflow/internal/gateway"
	"signflow/internal/locks"
	"signflow/internal/metrics"
	"signflow/internal/notify"
	"signflow/internal/storage"
)

// MaxTitleLength bounds the title sent to the provider, in runes
const MaxTitleLength = 100

// Provider is the part of the gateway the orchestrator drives
type Provider interface {
	FetchDocument(ctx context.Context, documentRef string) (*gateway.Document, error)
	CreateSigningSession(ctx context.Context, req gateway.CreateSessionRequest, idempotencyKey string) (*gateway.SigningSession, error)
	GetSessionStatus(ctx context.Context, sessionID string) (*gateway.SessionStatus, error)
	InitiateIdentity(ctx context.Context, req gateway.IdentityRequest) (*gateway.IdentitySession, error)
	GetIdentityStatus(ctx context.Context, identityID string) (*gateway.IdentitySession, error)
	CancelIdentity(ctx context.Context, sessionID string) error
}

// StartRequest asks for a new signing session on an order
type StartRequest struct {
	OrderRef    string            `json:"orderRef" validate:"required"`
	DocumentRef string            `json:"documentRef" validate:"required"`
	Signer      Signer            `json:"signer"`
	Title       string            `json:"title,omitempty"`
	ExtraClaims map[string]string `json:"extraClaims,omitempty"`
	// IdempotencyKey identifies a logical submission; repeats return the
	// session the first submission created
	IdempotencyKey string `json:"idempotencyKey,omitempty"`
}

// Outcome says what ApplyEvent did with an event
type Outcome string

const (
	OutcomeApplied        Outcome = "applied"
	OutcomeUnknownSession Outcome = "unknown_session"
	OutcomeTerminal       Outcome = "terminal"
	OutcomeNotApplicable  Outcome = "not_applicable"
)

// errReplacedSession marks an event for a session a newer one took over from
var errReplacedSession = stderrors.New("event for a replaced session")

// Option configures an Orchestrator
type Option func(*Orchestrator)

// WithLockManager replaces the in-process lock manager
func WithLockManager(m locks.Manager) Option {
	return func(o *Orchestrator) { o.locks = m }
}

func WithLogger(l logging.Logger) Option {
	return func(o *Orchestrator) { o.logger = l }
}

// WithClock overrides time.Now
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) { o.now = now }
}

// Orchestrator owns session creation and event application
type Orchestrator struct {
	store     storage.OrderStore
	provider  Provider
	sink      notify.Sink
	locks     locks.Manager
	validator *validation.Validator
	logger    logging.Logger
	now       func() time.Time
}

func New(store storage.OrderStore, provider Provider, sink notify.Sink, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		store:     store,
		provider:  provider,
		sink:      sink,
		locks:     locks.NewLocalManager(),
		validator: validation.New(),
		logger:    logging.GetGlobalLogger(),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

func (o *Orchestrator) lock(ctx context.Context, orderRef string) (locks.Lock, error) {
	l, err := o.locks.AcquireLock(ctx, "order:"+orderRef, locks.DefaultExpiration)
	if err != nil {
		return nil, errors.UnknownError("failed to lock order", err).WithContext("order_ref", orderRef)
	}
	return l, nil
}

func (o *Orchestrator) release(ctx context.Context, l locks.Lock) {
	if err := l.Release(context.WithoutCancel(ctx)); err != nil {
		o.logger.WithContext(ctx).Warn("Failed to release order lock",
			logging.String("lock", l.Key()), logging.Err(err))
	}
}

// StartSession validates the signer, opens a provider session and stores
// it on the order as awaiting_identity. Gateway errors are returned as-is.
// An order whose session is in progress or signed is refused; a session
// that ended unsigned is moved into the new session's history.
func (o *Orchestrator) StartSession(ctx context.Context, req StartRequest) (*Session, error) {
	ctx, corr := correlation.Ensure(ctx)
	log := o.logger.WithContext(ctx).WithFields(logging.String("order_ref", req.OrderRef))

	req.OrderRef = strings.TrimSpace(req.OrderRef)
	req.DocumentRef = strings.TrimSpace(req.DocumentRef)
	req.Signer.Name = strings.TrimSpace(req.Signer.Name)
	req.Signer.Email = strings.TrimSpace(req.Signer.Email)
	if err := o.validator.Struct(req); err != nil {
		return nil, err
	}

	idemKey := req.IdempotencyKey
	if idemKey == "" {
		idemKey = utils.IdempotencyKey("POST", corr.ID)
	}

	l, err := o.lock(ctx, req.OrderRef)
	if err != nil {
		return nil, err
	}
	defer o.release(ctx, l)

	order, err := o.store.Get(ctx, req.OrderRef)
	if err != nil && !storage.IsNotFound(err) {
		return nil, errors.UnknownError("failed to load order", err).WithContext("order_ref", req.OrderRef)
	}
	var previous []Session
	if order != nil {
		if existing, ok := sessionFromOrder(order); ok {
			if existing.IdempotencyKey == idemKey {
				log.Info("Signing session already started for this submission",
					logging.String("session_id", existing.SessionID),
					logging.String("status", string(existing.Status)))
				return existing, nil
			}
			if !existing.Status.Replaceable() {
				log.Warn("Refused to replace signing session",
					logging.String("session_id", existing.SessionID),
					logging.String("status", string(existing.Status)))
				return nil, sessionExistsError(existing)
			}
			previous = existing.retire()
		}
	}

	title := utils.Truncate(o.title(ctx, req), MaxTitleLength)

	created, err := o.provider.CreateSigningSession(ctx, gateway.CreateSessionRequest{
		OrderRef:    req.OrderRef,
		DocumentRef: req.DocumentRef,
		Title:       title,
		Signer:      gateway.Signer{Email: req.Signer.Email, Name: req.Signer.Name},
		ExtraClaims: req.ExtraClaims,
		Metadata: map[string]string{
			"orderRef":     req.OrderRef,
			"hostOrderRef": req.OrderRef,
		},
	}, idemKey)
	if err != nil {
		log.Warn("Provider refused signing session", logging.Err(err))
		return nil, err
	}
	if created.ID == "" {
		return nil, errors.UnknownError("provider returned a session without id", nil)
	}

	now := o.now().UTC()
	session := &Session{
		SessionID:      created.ID,
		OrderRef:       req.OrderRef,
		DocumentRef:    req.DocumentRef,
		Title:          title,
		Signer:         req.Signer,
		Status:         StatusAwaitingIdentity,
		SigningURL:     created.SigningURL,
		IdempotencyKey: idemKey,
		CreatedAt:      now,
		UpdatedAt:      now,
		Transitions:    map[Status]time.Time{StatusAwaitingIdentity: now},
		Previous:       previous,
	}

	fields, err := newSessionFields(session)
	if err != nil {
		return nil, errors.UnknownError("failed to encode session history", err).
			WithContext("session_id", created.ID)
	}
	if err := o.store.UpdateFields(ctx, req.OrderRef, fields); err != nil {
		log.Error("Failed to persist signing session", err, logging.String("session_id", created.ID))
		return nil, errors.UnknownError("failed to persist signing session", err).
			WithContext("session_id", created.ID)
	}

	metrics.SessionTransitions.WithLabelValues(string(StatusCreated), string(StatusAwaitingIdentity)).Inc()
	log.Info("Signing session started",
		logging.String("session_id", session.SessionID),
		logging.String("correlation_id", corr.ID))

	return session, nil
}

// sessionExistsError refuses a new session while s is in progress or signed
func sessionExistsError(s *Session) *errors.AppError {
	msg := fmt.Sprintf("order already has a signing session in progress (%s)", s.Status)
	stepOf := errors.StepSignature
	switch s.Status {
	case StatusCreated, StatusAwaitingIdentity:
		stepOf = errors.StepIdentity
	case StatusSigned:
		msg = "order is already signed"
	}
	return errors.ValidationError(msg).
		WithField("orderRef", "has an active or signed signing session").
		WithStep(stepOf).
		WithContext("session_id", s.SessionID).
		WithContext("status", string(s.Status))
}

// title returns the caller's title, or one built from the document
func (o *Orchestrator) title(ctx context.Context, req StartRequest) string {
	if t := strings.TrimSpace(req.Title); t != "" {
		return t
	}
	doc, err := o.provider.FetchDocument(ctx, req.DocumentRef)
	if err != nil || doc.Title == "" {
		if err != nil {
			o.logger.WithContext(ctx).Debug("Document title unavailable", logging.Err(err))
		}
		return fmt.Sprintf("Order %s", req.OrderRef)
	}
	return fmt.Sprintf("Order %s: %s", req.OrderRef, doc.Title)
}

// GetSession returns the session stored on orderRef
func (o *Orchestrator) GetSession(ctx context.Context, orderRef string) (*Session, error) {
	order, err := o.store.Get(ctx, orderRef)
	if err != nil {
		return nil, err
	}
	s, ok := sessionFromOrder(order)
	if !ok {
		return nil, errors.NotFoundError(fmt.Sprintf("signing session for order %s", orderRef))
	}
	return s, nil
}

// resolve finds the order an event belongs to. SessionID is looked up
// first, then OrderRefMeta. Both resolving to different sessions is an
// integrity error.
func (o *Orchestrator) resolve(ctx context.Context, ev Event) (*storage.Order, error) {
	var bySession, byRef *storage.Order

	if ev.SessionID != "" {
		order, err := o.store.GetByField(ctx, FieldSessionID, ev.SessionID)
		switch {
		case err == nil:
			bySession = order
		case !storage.IsNotFound(err):
			return nil, err
		}
	}

	if ev.OrderRefMeta != "" {
		order, err := o.store.Get(ctx, ev.OrderRefMeta)
		switch {
		case err == nil:
			if _, ok := sessionFromOrder(order); ok {
				byRef = order
			}
		case !storage.IsNotFound(err):
			return nil, err
		}
	}

	switch {
	case bySession != nil && byRef != nil && bySession.Ref != byRef.Ref:
		return nil, errors.IntegrityError("event session and order reference point to different sessions").
			WithContext("session_id", ev.SessionID).
			WithContext("order_ref", ev.OrderRefMeta).
			WithContext("session_order_ref", bySession.Ref)
	case bySession != nil:
		return bySession, nil
	case byRef != nil:
		if ev.SessionID != "" && byRef.Field(FieldSessionID) != ev.SessionID {
			if current, ok := sessionFromOrder(byRef); ok && current.replaced(ev.SessionID) {
				return nil, errReplacedSession
			}
			return nil, errors.IntegrityError("event session does not match the session on the order").
				WithContext("session_id", ev.SessionID).
				WithContext("order_ref", ev.OrderRefMeta)
		}
		return byRef, nil
	}
	return nil, nil
}

// ApplyEvent moves the referenced session according to ev. Unknown
// sessions, terminal sessions and events that do not fit the current state
// are acknowledged without change. Only integrity and store failures
// return an error.
func (o *Orchestrator) ApplyEvent(ctx context.Context, ev Event) (Outcome, error) {
	ctx, _ = correlation.Ensure(ctx)
	log := o.logger.WithContext(ctx).WithFields(
		logging.String("event_type", string(ev.Type)),
		logging.String("session_id", ev.SessionID),
	)
	if ev.ReceivedAt.IsZero() {
		ev.ReceivedAt = o.now()
	}

	order, err := o.resolve(ctx, ev)
	if stderrors.Is(err, errReplacedSession) {
		log.Info("Event for replaced session ignored", logging.String("order_ref", ev.OrderRefMeta))
		return OutcomeTerminal, nil
	}
	if err != nil {
		if errors.IsType(err, errors.ErrTypeIntegrity) {
			log.Error("Rejected event with mismatched references", err)
		}
		return "", err
	}
	if order == nil {
		log.Warn("Event for unknown session ignored", logging.String("order_ref", ev.OrderRefMeta))
		return OutcomeUnknownSession, nil
	}

	l, err := o.lock(ctx, order.Ref)
	if err != nil {
		return "", err
	}
	defer o.release(ctx, l)

	// reload under the lock, a concurrent delivery may have moved the session
	order, err = o.store.Get(ctx, order.Ref)
	if err != nil {
		return "", err
	}
	session, ok := sessionFromOrder(order)
	if !ok {
		return OutcomeUnknownSession, nil
	}
	log = log.WithFields(logging.String("order_ref", session.OrderRef))

	if session.Status.IsTerminal() {
		log.Info("Event for terminal session ignored", logging.String("status", string(session.Status)))
		return OutcomeTerminal, nil
	}

	steps := plan(session.Status, ev)
	if len(steps) == 0 {
		log.Info("Event does not apply to current state, ignored", logging.String("status", string(session.Status)))
		return OutcomeNotApplicable, nil
	}

	for _, st := range steps {
		if err := o.transition(ctx, session, st, ev.ReceivedAt); err != nil {
			log.Error("Failed to apply transition", err,
				logging.String("from", string(session.Status)),
				logging.String("to", string(st.to)))
			return "", err
		}
	}
	return OutcomeApplied, nil
}

// step is one transition the event causes
type step struct {
	to          Status
	template    notify.Template
	failure     *SessionError
	claims      map[string]string
	documentURL string
}

// plan maps the current status and an event to the transitions to apply.
// An empty plan means the event does not apply.
func plan(from Status, ev Event) []step {
	identityStep := from == StatusAwaitingIdentity

	switch p := ev.Payload.(type) {
	case IdentityVerified:
		if ev.Type != EventIdentitySucceeded {
			return nil
		}
		switch from {
		case StatusAwaitingIdentity:
			return []step{
				{to: StatusIdentityVerified, template: notify.TemplateIdentityConfirmed, claims: p.Claims},
				{to: StatusAwaitingSignature, template: notify.TemplateAwaitingSignature},
			}
		case StatusIdentityVerified:
			return []step{{to: StatusAwaitingSignature, template: notify.TemplateAwaitingSignature}}
		}

	case Failure:
		switch ev.Type {
		case EventIdentityFailed:
			if identityStep {
				return []step{{to: StatusIdentityFailed, template: notify.TemplateIdentityFailed,
					failure: failure("identity_failed", p, errors.StepIdentity)}}
			}
		case EventIdentityCancelled:
			if identityStep {
				return []step{{to: StatusIdentityCancelled, template: notify.TemplateIdentityCancelled,
					failure: failure("identity_cancelled", p, errors.StepIdentity)}}
			}
		case EventSignatureFailed, EventSignatureRejected, EventSignatureExpired:
			if from == StatusAwaitingSignature {
				kind := strings.TrimPrefix(string(ev.Type), "signature.")
				return []step{{to: StatusSignatureFailed, template: notify.TemplateSigningFailed,
					failure: failure("signature_"+kind, p, errors.StepSignature)}}
			}
		case EventSessionExpired:
			return []step{expiredStep(from, p.Reason)}
		}

	case Signed:
		if ev.Type == EventSignatureCompleted && from == StatusAwaitingSignature {
			return []step{{to: StatusSigned, template: notify.TemplateDocumentSigned, documentURL: p.DocumentURL}}
		}

	case Completion:
		return planCompletion(from, p)
	}
	return nil
}

// planCompletion handles the terminal callback, which may arrive before the
// lifecycle events it summarizes
func planCompletion(from Status, c Completion) []step {
	stepOf := errors.StepSignature
	if from == StatusAwaitingIdentity || from == StatusCreated {
		stepOf = errors.StepIdentity
	}

	switch c.Status {
	case "completed", "complete", "signed", "success", "succeeded":
		return []step{{to: StatusSigned, template: notify.TemplateDocumentSigned, documentURL: c.DocumentURL}}
	case "failed", "error", "rejected", "declined":
		f := Failure{Reason: "provider reported " + c.Status}
		if stepOf == errors.StepIdentity {
			return []step{{to: StatusIdentityFailed, template: notify.TemplateIdentityFailed,
				failure: failure("identity_failed", f, stepOf)}}
		}
		return []step{{to: StatusSignatureFailed, template: notify.TemplateSigningFailed,
			failure: failure("signature_"+c.Status, f, stepOf)}}
	case "cancelled", "canceled", "aborted":
		f := Failure{Reason: "cancelled"}
		if stepOf == errors.StepIdentity {
			return []step{{to: StatusIdentityCancelled, template: notify.TemplateIdentityCancelled,
				failure: failure("identity_cancelled", f, stepOf)}}
		}
		return []step{{to: StatusSignatureFailed, template: notify.TemplateSigningFailed,
			failure: failure("signature_cancelled", f, stepOf)}}
	case "expired", "timeout", "timed_out":
		return []step{expiredStep(from, "")}
	}
	return nil
}

func expiredStep(from Status, reason string) step {
	stepOf := errors.StepSignature
	if from == StatusAwaitingIdentity || from == StatusCreated {
		stepOf = errors.StepIdentity
	}
	if reason == "" {
		reason = "session expired"
	}
	return step{to: StatusExpired, template: notify.TemplateSessionExpired,
		failure: &SessionError{Kind: "expired", Message: reason, Step: stepOf, Retryable: true}}
}

func failure(kind string, f Failure, stepOf errors.Step) *SessionError {
	msg := f.Reason
	if msg == "" {
		msg = strings.ReplaceAll(kind, "_", " ")
	}
	if f.Code != "" {
		msg = fmt.Sprintf("%s (%s)", msg, f.Code)
	}
	return &SessionError{Kind: kind, Message: msg, Step: stepOf, Retryable: true}
}

// transition writes one state change in a single UpdateFields call, then
// sends its notification. A failed notification does not undo the change.
func (o *Orchestrator) transition(ctx context.Context, s *Session, st step, at time.Time) error {
	at = at.UTC()
	from := s.Status

	fields := map[string]string{
		FieldStatus:            string(st.to),
		FieldUpdatedAt:         formatTime(at),
		TransitionField(st.to): formatTime(at),
	}
	if st.to.IsTerminal() {
		fields[FieldCompletedAt] = formatTime(at)
	}
	if st.failure != nil {
		fields[FieldErrorKind] = st.failure.Kind
		fields[FieldErrorMessage] = st.failure.Message
		fields[FieldErrorStep] = string(st.failure.Step)
		fields[FieldErrorRetryable] = strconv.FormatBool(st.failure.Retryable)
	}
	if st.documentURL != "" {
		fields[FieldDocumentURL] = st.documentURL
	}
	if len(st.claims) > 0 {
		raw, err := json.Marshal(st.claims)
		if err != nil {
			return errors.UnknownError("failed to encode identity claims", err)
		}
		fields[FieldIdentityClaims] = string(raw)
	}

	if err := o.store.UpdateFields(ctx, s.OrderRef, fields); err != nil {
		return errors.UnknownError("failed to persist session transition", err).
			WithContext("order_ref", s.OrderRef).
			WithContext("to", string(st.to))
	}

	s.Status = st.to
	s.UpdatedAt = at
	if s.Transitions == nil {
		s.Transitions = make(map[Status]time.Time)
	}
	s.Transitions[st.to] = at
	if st.to.IsTerminal() {
		completed := at
		s.CompletedAt = &completed
	}
	if st.failure != nil {
		s.LastError = st.failure
	}
	if st.documentURL != "" {
		s.SignedDocumentURL = st.documentURL
	}
	if len(st.claims) > 0 {
		s.IdentityClaims = st.claims
	}

	metrics.SessionTransitions.WithLabelValues(string(from), string(st.to)).Inc()
	o.logger.WithContext(ctx).Info("Signing session transitioned",
		logging.String("order_ref", s.OrderRef),
		logging.String("session_id", s.SessionID),
		logging.String("from", string(from)),
		logging.String("to", string(st.to)))

	o.notify(ctx, s, st)
	return nil
}

func (o *Orchestrator) notify(ctx context.Context, s *Session, st step) {
	data := map[string]string{
		notify.KeySessionID:   s.SessionID,
		notify.KeySignerName:  s.Signer.Name,
		notify.KeySignerEmail: s.Signer.Email,
	}
	if s.SignedDocumentURL != "" {
		data[notify.KeyDocumentURL] = s.SignedDocumentURL
	}
	if st.failure != nil {
		data[notify.KeyReason] = st.failure.Message
		data[notify.KeyStep] = string(st.failure.Step)
		data[notify.KeyRetryable] = strconv.FormatBool(st.failure.Retryable)
	}

	if err := o.sink.Send(ctx, st.template, s.OrderRef, data); err != nil {
		o.logger.WithContext(ctx).Warn("Notification failed",
			logging.String("template", string(st.template)),
			logging.String("order_ref", s.OrderRef),
			logging.Err(err))
	}
}

// TriggerCompletion polls the provider for the order's session and applies
// what it reports. Terminal sessions are returned without a provider call.
func (o *Orchestrator) TriggerCompletion(ctx context.Context, orderRef string) (*Session, error) {
	ctx, _ = correlation.Ensure(ctx)

	session, err := o.GetSession(ctx, orderRef)
	if err != nil {
		return nil, err
	}
	if session.Status.IsTerminal() {
		return session, nil
	}

	if session.Status == StatusAwaitingIdentity && session.IdentityID != "" {
		if session, err = o.pollIdentity(ctx, session); err != nil {
			return nil, err
		}
		if session.Status.IsTerminal() {
			return session, nil
		}
	}

	status, err := o.provider.GetSessionStatus(ctx, session.SessionID)
	if err != nil {
		return nil, err
	}

	outcome, err := o.ApplyEvent(ctx, Event{
		Type:         EventCompletion,
		SessionID:    session.SessionID,
		OrderRefMeta: orderRef,
		Payload:      Completion{Status: strings.ToLower(strings.TrimSpace(status.Status)), DocumentURL: status.DocumentURL},
		ReceivedAt:   o.now(),
	})
	if err != nil {
		return nil, err
	}
	o.logger.WithContext(ctx).Debug("Completion check applied",
		logging.String("order_ref", orderRef),
		logging.String("provider_status", status.Status),
		logging.String("outcome", string(outcome)))

	return o.GetSession(ctx, orderRef)
}

// CancelSession asks the provider to cancel identity verification. The
// identity.cancelled webhook that follows performs the transition.
func (o *Orchestrator) CancelSession(ctx context.Context, sessionID string) error {
	ctx, _ = correlation.Ensure(ctx)

	if strings.TrimSpace(sessionID) == "" {
		return errors.ValidationError("sessionId is required").WithField("sessionId", "required")
	}

	order, err := o.store.GetByField(ctx, FieldSessionID, sessionID)
	if err != nil {
		if storage.IsNotFound(err) {
			return errors.NotFoundError(fmt.Sprintf("signing session %s", sessionID))
		}
		return err
	}
	session, _ := sessionFromOrder(order)
	if session.Status != StatusAwaitingIdentity {
		return errors.ValidationError(fmt.Sprintf("session is %s, only identity verification can be cancelled", session.Status)).
			WithField("status", string(session.Status)).
			WithStep(errors.StepIdentity)
	}

	if err := o.provider.CancelIdentity(ctx, sessionID); err != nil {
		return err
	}
	o.logger.WithContext(ctx).Info("Identity verification cancel requested",
		logging.String("session_id", sessionID),
		logging.String("order_ref", order.Ref))
	return nil
}

// InitiateIdentity starts identity verification for the order's session and
// stores the provider's verification id and URL on it. A session that
// already has a verification returns it unchanged.
func (o *Orchestrator) InitiateIdentity(ctx context.Context, orderRef, redirectURL string) (*Session, error) {
	ctx, _ = correlation.Ensure(ctx)
	log := o.logger.WithContext(ctx).WithFields(logging.String("order_ref", orderRef))

	l, err := o.lock(ctx, orderRef)
	if err != nil {
		return nil, err
	}
	defer o.release(ctx, l)

	session, err := o.GetSession(ctx, orderRef)
	if err != nil {
		return nil, err
	}
	if session.Status != StatusAwaitingIdentity {
		return nil, errors.ValidationError(fmt.Sprintf("session is %s, identity verification is not expected", session.Status)).
			WithField("status", string(session.Status)).
			WithStep(errors.StepIdentity)
	}
	if session.IdentityID != "" {
		return session, nil
	}

	identity, err := o.provider.InitiateIdentity(ctx, gateway.IdentityRequest{
		SessionID:   session.SessionID,
		Signer:      gateway.Signer{Email: session.Signer.Email, Name: session.Signer.Name},
		RedirectURL: redirectURL,
	})
	if err != nil {
		log.Warn("Provider refused identity verification", logging.Err(err))
		return nil, err
	}
	if identity.ID == "" {
		return nil, errors.UnknownError("provider returned an identity verification without id", nil)
	}

	now := o.now().UTC()
	if err := o.store.UpdateFields(ctx, orderRef, map[string]string{
		FieldIdentityID:  identity.ID,
		FieldIdentityURL: identity.URL,
		FieldUpdatedAt:   formatTime(now),
	}); err != nil {
		return nil, errors.UnknownError("failed to persist identity verification", err).
			WithContext("session_id", session.SessionID)
	}

	log.Info("Identity verification started",
		logging.String("session_id", session.SessionID),
		logging.String("identity_id", identity.ID))

	session.IdentityID = identity.ID
	session.IdentityURL = identity.URL
	session.UpdatedAt = now
	return session, nil
}

// pollIdentity asks the provider how the session's identity verification
// went and applies the matching lifecycle event. Pending verifications
// leave the session as it is.
func (o *Orchestrator) pollIdentity(ctx context.Context, session *Session) (*Session, error) {
	identity, err := o.provider.GetIdentityStatus(ctx, session.IdentityID)
	if err != nil {
		return nil, err
	}

	ev := Event{SessionID: session.SessionID, OrderRefMeta: session.OrderRef, ReceivedAt: o.now()}
	switch strings.ToLower(strings.TrimSpace(identity.Status)) {
	case "verified", "succeeded", "success", "completed":
		ev.Type, ev.Payload = EventIdentitySucceeded, IdentityVerified{Claims: identity.Claims}
	case "failed", "rejected", "error":
		ev.Type, ev.Payload = EventIdentityFailed, Failure{Reason: "provider reported " + identity.Status}
	case "cancelled", "canceled", "aborted":
		ev.Type, ev.Payload = EventIdentityCancelled, Failure{Reason: "cancelled"}
	default:
		return session, nil
	}

	if _, err := o.ApplyEvent(ctx, ev); err != nil {
		return nil, err
	}
	return o.GetSession(ctx, session.OrderRef)
}
