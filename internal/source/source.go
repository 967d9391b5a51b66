// Package source defines the adapter boundary between external contact
// systems and the sync pipeline. Adapters are unreliable: an unavailable
// source is skipped with a warning, never fatal to syncing the others.
package source

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/basket/shadowbook/internal/identity"
)

// ErrUnavailable means the external system behind an adapter could not be
// reached or read. The sync pass skips that source and continues.
var ErrUnavailable = errors.New("source unavailable")

// Adapter reads one external system's raw contact records.
type Adapter interface {
	Source() identity.Source
	Read(ctx context.Context, userID string) ([]identity.RawContact, error)
}

// Registry holds the adapters available to sync, keyed by source tag.
// Safe for concurrent use.
type Registry struct {
	mu       sync.RWMutex
	adapters map[identity.Source]Adapter
}

func NewRegistry() *Registry {
	return &Registry{adapters: make(map[identity.Source]Adapter)}
}

// Register adds an adapter. Import is not a syncable source and is rejected,
// as is a second adapter for a source already registered.
func (r *Registry) Register(a Adapter) error {
	src := a.Source()
	if src == identity.SourceImport {
		return fmt.Errorf("source %q is not syncable", src)
	}
	if !src.Valid() {
		return fmt.Errorf("unknown source %q", src)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.adapters[src]; ok {
		return fmt.Errorf("source %q already registered", src)
	}
	r.adapters[src] = a
	return nil
}

// Get returns the adapter for a source, or false when none is registered.
func (r *Registry) Get(src identity.Source) (Adapter, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.adapters[src]
	return a, ok
}

// Sources lists the registered source tags in a stable order.
func (r *Registry) Sources() []identity.Source {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]identity.Source, 0, len(r.adapters))
	for src := range r.adapters {
		out = append(out, src)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
