package call

import "sync"

// Registry holds the single active call. The service handles one call at a
// time; a new incoming call replaces the slot and the previous call, if any,
// is handed back to the caller of Swap for teardown.
type Registry struct {
	mu      sync.Mutex
	current *Call
}

func NewRegistry() *Registry {
	return &Registry{}
}

// Swap installs c as the current call and returns the call it displaced,
// or nil.
func (r *Registry) Swap(c *Call) *Call {
	r.mu.Lock()
	defer r.mu.Unlock()
	prev := r.current
	r.current = c
	return prev
}

// Current returns the active call, or nil when idle.
func (r *Registry) Current() *Call {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.current
}

// Clear empties the slot only if c is still the current call, so a stale
// teardown can never evict a newer call.
func (r *Registry) Clear(c *Call) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.current == c {
		r.current = nil
	}
}
