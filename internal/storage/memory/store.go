// Package memory is an in-process OrderStore for development and tests.
package memory

import (
	"context"
	"sort"
	"sync"

	"signflow/internal/storage"
)

// Store keeps orders in a map
type Store struct {
	mu     sync.RWMutex
	orders map[string]map[string]string
}

// New creates an empty store
func New() *Store {
	return &Store{orders: make(map[string]map[string]string)}
}

func (s *Store) Get(ctx context.Context, orderRef string) (*storage.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	fields, ok := s.orders[orderRef]
	if !ok {
		return nil, storage.ErrOrderNotFound("ref " + orderRef)
	}
	return snapshot(orderRef, fields), nil
}

// GetByField scans orders in ref order so the result is deterministic
func (s *Store) GetByField(ctx context.Context, key, value string) (*storage.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	refs := make([]string, 0, len(s.orders))
	for ref := range s.orders {
		refs = append(refs, ref)
	}
	sort.Strings(refs)

	for _, ref := range refs {
		if v, ok := s.orders[ref][key]; ok && v == value {
			return snapshot(ref, s.orders[ref]), nil
		}
	}
	return nil, storage.ErrOrderNotFound(key + "=" + value)
}

func (s *Store) UpdateFields(ctx context.Context, orderRef string, fields map[string]string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.orders[orderRef]
	if !ok {
		existing = make(map[string]string, len(fields))
		s.orders[orderRef] = existing
	}
	for k, v := range fields {
		existing[k] = v
	}
	return nil
}

func (s *Store) Health(ctx context.Context) error {
	return nil
}

func (s *Store) Close() error {
	return nil
}

func snapshot(ref string, fields map[string]string) *storage.Order {
	out := make(map[string]string, len(fields))
	for k, v := range fields {
		out[k] = v
	}
	return &storage.Order{Ref: ref, Fields: out}
}

func init() {
	storage.Register("memory", storage.FactoryFunc(func(config storage.Config) (storage.OrderStore, error) {
		return New(), nil
	}))
}

var _ storage.OrderStore = (*Store)(nil)
