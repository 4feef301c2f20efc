// Package storage defines the order record store that signing sessions are
// persisted into. Sessions are kept as plain string fields on the order so the
// host's existing order model does not need a new table.
//
// Backends register themselves with the default registry from their init
// functions; import the backend package for its side effect:
//
//	import _ "signflow/internal/storage/sqlite"
package storage

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"signflow/internal/common/errors"
)

// Order is an order record with its fields
type Order struct {
	Ref    string            `json:"ref"`
	Fields map[string]string `json:"fields"`
}

// Field returns the value of key, or "" when unset
func (o *Order) Field(key string) string {
	if o == nil || o.Fields == nil {
		return ""
	}
	return o.Fields[key]
}

// OrderStore is the host's order record store
type OrderStore interface {
	// Get returns the order or a not_found AppError
	Get(ctx context.Context, orderRef string) (*Order, error)
	// GetByField returns the first order whose field key equals value, or a not_found AppError
	GetByField(ctx context.Context, key, value string) (*Order, error)
	// UpdateFields writes every field in one atomic operation, creating the order if needed
	UpdateFields(ctx context.Context, orderRef string, fields map[string]string) error
	Health(ctx context.Context) error
	Close() error
}

// ErrOrderNotFound builds the not-found error for an order lookup
func ErrOrderNotFound(what string) error {
	return errors.NotFoundError(fmt.Sprintf("order with %s", what))
}

// IsNotFound reports whether err is a not-found lookup
func IsNotFound(err error) bool {
	return errors.IsType(err, errors.ErrTypeNotFound)
}

// Config selects and configures a backend
type Config struct {
	Type string

	// SQLite
	Path string

	// PostgreSQL
	Host     string
	Port     int
	Database string
	Username string
	Password string
	SSLMode  string
}

// Factory creates a store from config
type Factory interface {
	Create(config Config) (OrderStore, error)
}

// FactoryFunc adapts a function to Factory
type FactoryFunc func(config Config) (OrderStore, error)

// Create calls f
func (f FactoryFunc) Create(config Config) (OrderStore, error) {
	return f(config)
}

type Registry struct {
	factories map[string]Factory
	mu        sync.RWMutex
}

func NewRegistry() *Registry {
	return &Registry{
		factories: make(map[string]Factory),
	}
}

func (r *Registry) Register(storageType string, factory Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[storageType] = factory
}

func (r *Registry) Create(config Config) (OrderStore, error) {
	r.mu.RLock()
	factory, exists := r.factories[config.Type]
	r.mu.RUnlock()

	if !exists {
		return nil, errors.ConfigError(fmt.Sprintf("storage type %q is not registered", config.Type))
	}

	return factory.Create(config)
}

func (r *Registry) GetAvailableTypes() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	types := make([]string, 0, len(r.factories))
	for storageType := range r.factories {
		types = append(types, storageType)
	}
	sort.Strings(types)
	return types
}

var DefaultRegistry = NewRegistry()

func Register(storageType string, factory Factory) {
	DefaultRegistry.Register(storageType, factory)
}

func Create(config Config) (OrderStore, error) {
	return DefaultRegistry.Create(config)
}

func GetAvailableTypes() []string {
	return DefaultRegistry.GetAvailableTypes()
}
