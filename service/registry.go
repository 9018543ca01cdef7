package service

import "sync"

// Registry is a named, mutex-protected slot per running Service. There is
// exactly one reactor goroutine in this design, so the slot isn't
// protecting against concurrent Service access from multiple reactor
// goroutines; it exists so code outside the reactor tick (an admin HTTP
// handler, a signal handler, a cmd/ binary's main goroutine) has a name
// to look a running *Service up by.
type Registry struct {
	mu    sync.Mutex
	slots map[string]any
}

func NewRegistry() *Registry {
	return &Registry{slots: make(map[string]any)}
}

// Put stores svc under name, overwriting whatever was there.
func (r *Registry) Put(name string, svc any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.slots[name] = svc
}

// Get returns the raw value stored under name.
func (r *Registry) Get(name string) (any, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	svc, ok := r.slots[name]
	return svc, ok
}

// Remove withdraws the slot for name.
func (r *Registry) Remove(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.slots, name)
}

// Lookup fetches the slot for name and type-asserts it to *Service[P]. A
// mismatched P or a missing name both report ok=false.
func Lookup[P any](r *Registry, name string) (*Service[P], bool) {
	raw, ok := r.Get(name)
	if !ok {
		return nil, false
	}
	svc, ok := raw.(*Service[P])
	return svc, ok
}
