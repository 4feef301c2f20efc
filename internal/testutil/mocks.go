// Package testutil holds fakes and shared test suites for the signing flow.
package testutil

import (
	"context"
	"sync"

	"github.com/stretchr/testify/mock"

	"signflow/internal/gateway"
	"signflow/internal/notify"
	"signflow/internal/storage"
)

// MockProvider is a testify mock of the provider operations the
// orchestrator calls
type MockProvider struct {
	mock.Mock
}

func (m *MockProvider) FetchDocument(ctx context.Context, documentRef string) (*gateway.Document, error) {
	args := m.Called(ctx, documentRef)
	doc, _ := args.Get(0).(*gateway.Document)
	return doc, args.Error(1)
}

func (m *MockProvider) CreateSigningSession(ctx context.Context, req gateway.CreateSessionRequest, idempotencyKey string) (*gateway.SigningSession, error) {
	args := m.Called(ctx, req, idempotencyKey)
	s, _ := args.Get(0).(*gateway.SigningSession)
	return s, args.Error(1)
}

func (m *MockProvider) GetSessionStatus(ctx context.Context, sessionID string) (*gateway.SessionStatus, error) {
	args := m.Called(ctx, sessionID)
	s, _ := args.Get(0).(*gateway.SessionStatus)
	return s, args.Error(1)
}

func (m *MockProvider) InitiateIdentity(ctx context.Context, req gateway.IdentityRequest) (*gateway.IdentitySession, error) {
	args := m.Called(ctx, req)
	s, _ := args.Get(0).(*gateway.IdentitySession)
	return s, args.Error(1)
}

func (m *MockProvider) GetIdentityStatus(ctx context.Context, identityID string) (*gateway.IdentitySession, error) {
	args := m.Called(ctx, identityID)
	s, _ := args.Get(0).(*gateway.IdentitySession)
	return s, args.Error(1)
}

func (m *MockProvider) CancelIdentity(ctx context.Context, sessionID string) error {
	args := m.Called(ctx, sessionID)
	return args.Error(0)
}

// Notification is one recorded Send call
type Notification struct {
	Template notify.Template
	OrderRef string
	Data     map[string]string
}

// RecordingSink records notifications. Err, when set, is returned from
// every Send after recording.
type RecordingSink struct {
	mu   sync.Mutex
	sent []Notification
	Err  error
}

func NewRecordingSink() *RecordingSink {
	return &RecordingSink{}
}

func (s *RecordingSink) Send(ctx context.Context, tmpl notify.Template, orderRef string, data map[string]string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	copied := make(map[string]string, len(data))
	for k, v := range data {
		copied[k] = v
	}
	s.sent = append(s.sent, Notification{Template: tmpl, OrderRef: orderRef, Data: copied})
	return s.Err
}

// Sent returns a copy of the recorded notifications
func (s *RecordingSink) Sent() []Notification {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Notification(nil), s.sent...)
}

// Templates returns the recorded template names in order
func (s *RecordingSink) Templates() []notify.Template {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]notify.Template, 0, len(s.sent))
	for _, n := range s.sent {
		out = append(out, n.Template)
	}
	return out
}

// CountingStore wraps a store, counting UpdateFields calls and injecting
// errors per method name
type CountingStore struct {
	storage.OrderStore

	mu            sync.Mutex
	updates       int
	ErrorOnMethod map[string]error
}

func NewCountingStore(inner storage.OrderStore) *CountingStore {
	return &CountingStore{OrderStore: inner, ErrorOnMethod: make(map[string]error)}
}

func (s *CountingStore) failure(method string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ErrorOnMethod[method]
}

// SetError makes method fail with err; nil clears it
func (s *CountingStore) SetError(method string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err == nil {
		delete(s.ErrorOnMethod, method)
		return
	}
	s.ErrorOnMethod[method] = err
}

func (s *CountingStore) Get(ctx context.Context, orderRef string) (*storage.Order, error) {
	if err := s.failure("Get"); err != nil {
		return nil, err
	}
	return s.OrderStore.Get(ctx, orderRef)
}

func (s *CountingStore) GetByField(ctx context.Context, key, value string) (*storage.Order, error) {
	if err := s.failure("GetByField"); err != nil {
		return nil, err
	}
	return s.OrderStore.GetByField(ctx, key, value)
}

func (s *CountingStore) UpdateFields(ctx context.Context, orderRef string, fields map[string]string) error {
	if err := s.failure("UpdateFields"); err != nil {
		return err
	}
	s.mu.Lock()
	s.updates++
	s.mu.Unlock()
	return s.OrderStore.UpdateFields(ctx, orderRef, fields)
}

// Updates returns how many UpdateFields calls succeeded
func (s *CountingStore) Updates() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.updates
}
