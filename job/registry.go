package job

import (
	"context"
	"sort"
	"sync"
)

// HandlerFunc is a type-erased job handler over an encoded payload. The
// typed Definition[T] is converted to a HandlerFunc at registration time
// by closing over the codec and the typed handler.
type HandlerFunc func(ctx context.Context, invocationID string, payload []byte) error

// Entry describes one registered definition.
type Entry struct {
	Name        string
	Description string
	Mode        Mode
	Opts        Options
	Handler     HandlerFunc
}

// Registry maps job names to registered entries.
// It is safe for concurrent use.
type Registry struct {
	codec Codec

	mu      sync.RWMutex
	entries map[string]Entry
}

// NewRegistry creates an empty registry that decodes payloads as JSON.
func NewRegistry() *Registry {
	return NewRegistryWithCodec(JSONCodec{})
}

// NewRegistryWithCodec creates an empty registry using c for payloads.
func NewRegistryWithCodec(c Codec) *Registry {
	if c == nil {
		c = JSONCodec{}
	}
	return &Registry{
		codec:   c,
		entries: make(map[string]Entry),
	}
}

// Codec returns the payload codec shared by every registered handler.
func (r *Registry) Codec() Codec { return r.codec }

// RegisterDefinition registers a typed definition. Registering a name
// twice replaces the earlier entry.
//
// This is a package-level generic function because Go does not allow
// generic methods on non-generic receiver types.
func RegisterDefinition[T any](r *Registry, def *Definition[T]) {
	codec := r.codec
	handler := func(ctx context.Context, invocationID string, payload []byte) error {
		params, err := Decode[T](codec, payload)
		if err != nil {
			return err
		}
		return def.Execute(ctx, invocationID, params)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[def.Name] = Entry{
		Name:        def.Name,
		Description: def.Description,
		Mode:        def.Mode,
		Opts:        def.Opts,
		Handler:     handler,
	}
}

// Get returns the handler for the given job name.
// Returns false if no handler is registered.
func (r *Registry) Get(name string) (HandlerFunc, bool) {
	e, ok := r.Lookup(name)
	return e.Handler, ok
}

// Lookup returns the full entry for name.
func (r *Registry) Lookup(name string) (Entry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[name]
	return e, ok
}

// Names returns all registered job names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.entries))
	for name := range r.entries {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
