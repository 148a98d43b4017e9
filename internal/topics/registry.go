package topics

import (
	"sync"
	"time"
)

// Topic documents a channel on the bus: who owns it, what flows over it and
// what a payload looks like. Descriptors exist for discoverability; the bus
// itself routes on topic strings and does not require registration.
type Topic struct {
	// Name is the dotted topic name, e.g. "pet.state.changed".
	Name string
	// Module is the owning module id, empty for framework topics.
	Module string
	// Description is human-readable documentation.
	Description string
	// Pattern is the routing pattern, which may end in ".*".
	Pattern string
	// Example shows a concrete topic name or payload.
	Example string
}

// Registry holds registered topic descriptors in registration order.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]entry
	order   []string
}

type entry struct {
	topic        Topic
	registeredAt time.Time
}

// NewRegistry creates an empty topic registry.
func NewRegistry() *Registry {
	return &Registry{entries: make(map[string]entry)}
}

// Register adds a topic descriptor. Registering the same name twice is an
// error so that two modules cannot silently claim the same channel.
func (r *Registry) Register(t Topic) error {
	if err := t.Validate(); err != nil {
		return &Error{Topic: t.Name, Message: "invalid topic", Cause: err}
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.entries[t.Name]; exists {
		return &Error{Topic: t.Name, Message: "topic already registered"}
	}
	r.entries[t.Name] = entry{topic: t, registeredAt: time.Now()}
	r.order = append(r.order, t.Name)
	return nil
}

// MustRegister registers a topic and panics on error. Intended for static
// topic declarations where a failure is a configuration bug.
func (r *Registry) MustRegister(t Topic) {
	if err := r.Register(t); err != nil {
		panic("topics: " + err.Error())
	}
}

// Get returns a topic descriptor by name.
func (r *Registry) Get(name string) (Topic, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.entries[name]
	return e.topic, ok
}

// List returns all registered topics in registration order.
func (r *Registry) List() []Topic {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Topic, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.entries[name].topic)
	}
	return out
}

// ListByModule returns the topics owned by a module, in registration order.
func (r *Registry) ListByModule(module string) []Topic {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []Topic
	for _, name := range r.order {
		if r.entries[name].topic.Module == module {
			out = append(out, r.entries[name].topic)
		}
	}
	return out
}

// Count returns the number of registered topics.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

// Reset removes all registered topics. Primarily for tests.
func (r *Registry) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = make(map[string]entry)
	r.order = nil
}

var (
	defaultRegistry     *Registry
	defaultRegistryOnce sync.Once
)

// Default returns the process-wide registry used by static topic
// declarations.
func Default() *Registry {
	defaultRegistryOnce.Do(func() {
		defaultRegistry = NewRegistry()
	})
	return defaultRegistry
}

// Register registers a topic with the default registry.
func Register(t Topic) error {
	return Default().Register(t)
}

// MustRegister registers a topic with the default registry, panicking on
// error.
func MustRegister(t Topic) {
	Default().MustRegister(t)
}

// Get returns a topic from the default registry.
func Get(name string) (Topic, bool) {
	return Default().Get(name)
}

// List returns all topics from the default registry.
func List() []Topic {
	return Default().List()
}

// Error is a structured topic registry error.
type Error struct {
	Topic   string
	Message string
	Cause   error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Cause != nil {
		return e.Message + ": " + e.Cause.Error()
	}
	return e.Message
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error {
	return e.Cause
}
