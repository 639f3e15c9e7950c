package composer

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/SashaZezulinsky/cellframe-composer/ledger"
	"github.com/SashaZezulinsky/cellframe-composer/wallet"
)

// ErrUnknownComposer is returned by Registry.Get for names never opened.
var ErrUnknownComposer = errors.New("unknown composer")

// Registry holds named composers so callers can share one per wallet and
// network without package-level state.
type Registry struct {
	mu        sync.Mutex
	composers map[string]*Composer
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{composers: make(map[string]*Composer)}
}

// Open creates the composer called name, or returns the open one.
func (r *Registry) Open(name string, cfg ComposeConfig, signer wallet.Signer, l ledger.Ledger, opts ...Option) (*Composer, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if c, ok := r.composers[name]; ok {
		return c, nil
	}
	c, err := New(cfg, signer, l, opts...)
	if err != nil {
		return nil, fmt.Errorf("open composer %s: %w", name, err)
	}
	r.composers[name] = c
	return c, nil
}

// Get returns the composer called name.
func (r *Registry) Get(name string) (*Composer, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.composers[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownComposer, name)
	}
	return c, nil
}

// Names lists open composers in sorted order.
func (r *Registry) Names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	names := make([]string, 0, len(r.composers))
	for n := range r.composers {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Close closes and forgets the composer called name.
func (r *Registry) Close(name string) error {
	r.mu.Lock()
	c, ok := r.composers[name]
	delete(r.composers, name)
	r.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownComposer, name)
	}
	return c.Close()
}

// CloseAll closes every composer.
func (r *Registry) CloseAll() error {
	r.mu.Lock()
	open := r.composers
	r.composers = make(map[string]*Composer)
	r.mu.Unlock()

	var errs []error
	for _, c := range open {
		if err := c.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
