package livecount

import (
	"encoding/json"
	"sync"

	"go.uber.org/zap"

	"github.com/arfve/launchsite/internal/metrics"
)

// Update is the payload pushed to every channel.
type Update struct {
	Count int `json:"count"`
	Total int `json:"total"`
}

// ObserverFunc is called after every broadcast.
type ObserverFunc func(count, total int)

// Broadcaster pushes count updates to every registered channel.
type Broadcaster struct {
	store    *Store
	registry *Registry
	logger   *zap.Logger

	mu        sync.RWMutex
	observers []ObserverFunc
}

func NewBroadcaster(store *Store, registry *Registry, logger *zap.Logger) *Broadcaster {
	return &Broadcaster{
		store:    store,
		registry: registry,
		logger:   logger,
	}
}

// Observe registers fn to run after each broadcast.
func (b *Broadcaster) Observe(fn ObserverFunc) {
	b.mu.Lock()
	b.observers = append(b.observers, fn)
	b.mu.Unlock()
}

// Broadcast stores count and sends it to every channel. A channel whose send
// fails is removed and closed; the rest still receive the update. Returns the
// number of channels that accepted the payload.
func (b *Broadcaster) Broadcast(count, total int) int {
	b.store.Set(count)

	payload, err := json.Marshal(Update{Count: count, Total: total})
	if err != nil {
		b.logger.Error("failed to marshal count update", zap.Error(err))
		return 0
	}

	delivered := 0
	for _, ch := range b.registry.Snapshot() {
		if err := ch.Send(payload); err != nil {
			if b.registry.Remove(ch) {
				metrics.PrunedChannels.Inc()
			}
			ch.Close()
			b.logger.Debug("pruned live-count channel",
				zap.String("channel", ch.ID()),
				zap.Error(err),
			)
			continue
		}
		delivered++
	}

	metrics.Broadcasts.Inc()
	metrics.SubscriberCount.Set(float64(count))

	b.logger.Info("broadcast count update",
		zap.Int("count", count),
		zap.Int("total", total),
		zap.Int("clients", delivered),
	)

	b.mu.RLock()
	observers := b.observers
	b.mu.RUnlock()
	for _, fn := range observers {
		fn(count, total)
	}

	return delivered
}
