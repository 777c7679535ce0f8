// Package generators implements the closed set of deterministic payload
// generators used by delivery behaviors and $generate config directives.
package generators

import (
	"fmt"
	"sort"
	"sync"
)

// Generator produces a byte payload deterministically from a seed. Two
// calls to Generate with the same seed on the same Generator value must
// return identical output; this is what lets $generate payloads be
// reproduced across config reloads and test runs.
type Generator interface {
	// Generate returns the payload for the given seed.
	Generate(seed int64) ([]byte, error)

	// EstimatedSize returns a cheap upper-bound byte estimate without
	// running Generate, so the config loader can reject oversized
	// generators before ever producing their output.
	EstimatedSize() int64
}

// Factory builds a Generator from a $generate block's params.
type Factory func(params map[string]interface{}) (Generator, error)

// Registry holds the closed set of known generator type names. Unlike a
// plugin registry that accepts arbitrary runtime registrations, this one is
// seeded once with the six built-in types in init and never mutated outside
// tests, but keeps the same Register/Get/List shape for consistency with
// the rest of the codebase.
type Registry struct {
	mu    sync.RWMutex
	types map[string]Factory
}

// NewRegistry returns a Registry pre-populated with the six built-in
// generator types.
func NewRegistry() *Registry {
	r := &Registry{types: make(map[string]Factory)}
	r.MustRegister("nested_json", newNestedJSON)
	r.MustRegister("garbage", newGarbage)
	r.MustRegister("repeated_keys", newRepeatedKeys)
	r.MustRegister("unicode_spam", newUnicodeSpam)
	r.MustRegister("ansi_escape", newANSIEscape)
	r.MustRegister("batch_notifications", newBatchNotifications)
	return r
}

// Register adds a factory under the given type name. Returns an error if
// the name is already registered.
func (r *Registry) Register(name string, f Factory) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.types[name]; exists {
		return &GeneratorError{Type: name, Reason: "already registered"}
	}
	r.types[name] = f
	return nil
}

// MustRegister is like Register but panics on error. Only safe to call
// during package init with statically known names.
func (r *Registry) MustRegister(name string, f Factory) {
	if err := r.Register(name, f); err != nil {
		panic(fmt.Sprintf("generators: %v", err))
	}
}

// Build constructs a Generator of the named type with the given params.
func (r *Registry) Build(name string, params map[string]interface{}) (Generator, error) {
	r.mu.RLock()
	f, ok := r.types[name]
	r.mu.RUnlock()
	if !ok {
		return nil, &GeneratorError{Type: name, Reason: fmt.Sprintf("unknown generator type (known: %v)", r.List())}
	}
	return f(params)
}

// List returns the registered type names in sorted order.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.types))
	for n := range r.types {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Default is the process-wide registry of built-in generator types.
var Default = NewRegistry()
