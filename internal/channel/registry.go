package channel

import (
	"fmt"
	"sync"

	"github.com/unclebandit/followup-engine/internal/model"
)

// Registry resolves providers by channel (for sends) and by name (for webhooks).
type Registry struct {
	mu        sync.RWMutex
	byChannel map[model.Channel]Provider
	byName    map[string]Provider
}

func NewRegistry(providers ...Provider) *Registry {
	r := &Registry{
		byChannel: make(map[model.Channel]Provider),
		byName:    make(map[string]Provider),
	}
	for _, p := range providers {
		r.Register(p)
	}
	return r
}

// Register adds p, replacing any provider already bound to its channel or name.
func (r *Registry) Register(p Provider) {
	if p == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byChannel[p.Channel()] = p
	r.byName[p.Name()] = p
}

func (r *Registry) ForChannel(ch model.Channel) (Provider, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.byChannel[ch]
	if !ok {
		return nil, fmt.Errorf("no provider registered for channel %q", ch)
	}
	return p, nil
}

func (r *Registry) ByName(name string) (Provider, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.byName[name]
	return p, ok
}
