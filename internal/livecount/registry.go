package livecount

import (
	"sync"

	"github.com/arfve/launchsite/internal/metrics"
)

// Registry is the set of open channels. Adding a channel twice is a no-op.
type Registry struct {
	mu       sync.RWMutex
	channels map[Channel]struct{}
}

func NewRegistry() *Registry {
	return &Registry{channels: make(map[Channel]struct{})}
}

// Add registers ch.
func (r *Registry) Add(ch Channel) {
	r.mu.Lock()
	r.channels[ch] = struct{}{}
	n := len(r.channels)
	r.mu.Unlock()

	metrics.LiveClients.Set(float64(n))
}

// Remove unregisters ch and reports whether it was registered.
func (r *Registry) Remove(ch Channel) bool {
	r.mu.Lock()
	_, ok := r.channels[ch]
	delete(r.channels, ch)
	n := len(r.channels)
	r.mu.Unlock()

	if ok {
		metrics.LiveClients.Set(float64(n))
	}
	return ok
}

// Snapshot returns the channels registered at the time of the call.
func (r *Registry) Snapshot() []Channel {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Channel, 0, len(r.channels))
	for ch := range r.channels {
		out = append(out, ch)
	}
	return out
}

// Len returns the number of registered channels.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.channels)
}
