package circuitbreaker

import "sync"

// Registry hands out one Breaker per capability, created on first use.
type Registry struct {
	cfg Config

	mu       sync.Mutex
	breakers map[string]*Breaker
}

// NewRegistry creates an empty registry whose breakers share cfg.
func NewRegistry(cfg Config) *Registry {
	return &Registry{cfg: cfg, breakers: make(map[string]*Breaker)}
}

// For returns the breaker guarding capability.
func (r *Registry) For(capability string) *Breaker {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.breakers[capability]
	if !ok {
		b = NewBreaker(capability, r.cfg)
		r.breakers[capability] = b
	}
	return b
}

// States reports the state of every capability that has been called.
func (r *Registry) States() map[string]string {
	r.mu.Lock()
	bs := make([]*Breaker, 0, len(r.breakers))
	for _, b := range r.breakers {
		bs = append(bs, b)
	}
	r.mu.Unlock()

	out := make(map[string]string, len(bs))
	for _, b := range bs {
		out[b.name] = b.State().String()
	}
	return out
}
