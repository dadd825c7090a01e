package registry

import "sync"

// Registry maps device identifiers (MAC tokens) to human aliases. Devices
// listed at construction are the "known" set used for consensus membership;
// identifiers seen for the first time at runtime are auto-registered with
// the identifier itself as the alias.
type Registry struct {
	mu      sync.Mutex
	aliases map[string]string
	known   []string
	auto    map[string]bool
}

func New(devices map[string]string) *Registry {
	r := &Registry{
		aliases: make(map[string]string, len(devices)),
		known:   make([]string, 0, len(devices)),
		auto:    make(map[string]bool),
	}
	for id, alias := range devices {
		if alias == "" {
			alias = id
		}
		r.aliases[id] = alias
		r.known = append(r.known, id)
	}
	return r
}

// Alias resolves the alias for id, auto-registering unknown identifiers as
// alias == id. Never fails.
func (r *Registry) Alias(id string) string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if alias, ok := r.aliases[id]; ok {
		return alias
	}
	r.aliases[id] = id
	r.auto[id] = true
	return id
}

// Known returns the configured device set. Auto-registered devices are not
// part of it: consensus membership is decided against the static fleet.
func (r *Registry) Known() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.known))
	copy(out, r.known)
	return out
}

func (r *Registry) AutoRegistered(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.auto[id]
}

// All returns every identifier ever seen, known first.
func (r *Registry) All() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.aliases))
	out = append(out, r.known...)
	for id := range r.aliases {
		if !r.auto[id] {
			continue
		}
		out = append(out, id)
	}
	return out
}
