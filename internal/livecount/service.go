// Package livecount pushes the subscriber count to connected browsers over
// Server-Sent Events and WebSocket.
package livecount

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/arfve/launchsite/internal/config"
)

// Counter supplies the authoritative count.
type Counter interface {
	GetCount(ctx context.Context) (int, error)
	RefreshCount(ctx context.Context) (int, error)
}

// Service ties the count store, channel registry, and broadcaster together.
type Service struct {
	store       *Store
	registry    *Registry
	broadcaster *Broadcaster
	counter     Counter

	total     int
	fallback  int
	heartbeat time.Duration
	logger    *zap.Logger
}

// NewService creates the live-count service. The store starts at the
// configured fallback count.
func NewService(counter Counter, cfg config.LiveCountConfig, logger *zap.Logger) *Service {
	store := NewStore(cfg.Fallback)
	registry := NewRegistry()

	return &Service{
		store:       store,
		registry:    registry,
		broadcaster: NewBroadcaster(store, registry, logger),
		counter:     counter,
		total:       cfg.Total,
		fallback:    cfg.Fallback,
		heartbeat:   cfg.Heartbeat,
		logger:      logger,
	}
}

func (s *Service) Store() *Store             { return s.store }
func (s *Service) Registry() *Registry       { return s.registry }
func (s *Service) Broadcaster() *Broadcaster { return s.broadcaster }

// Total is the fixed capacity displayed next to the count.
func (s *Service) Total() int { return s.total }

// Fallback is the count shown when nothing better is known.
func (s *Service) Fallback() int { return s.fallback }

// CurrentCount returns the cached or freshly fetched count. On failure the
// stored count is returned together with the error.
func (s *Service) CurrentCount(ctx context.Context) (int, error) {
	count, err := s.counter.GetCount(ctx)
	if err != nil {
		return s.store.Get(), err
	}
	s.store.Set(count)
	return count, nil
}

type recountResult struct {
	count int
	err   error
}

// Recount forces a fresh upstream count and broadcasts it. If the count does
// not complete within timeout, nothing is broadcast and an error is returned.
func (s *Service) Recount(ctx context.Context, timeout time.Duration) (int, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	done := make(chan recountResult, 1)
	go func() {
		count, err := s.counter.RefreshCount(ctx)
		done <- recountResult{count: count, err: err}
	}()

	select {
	case <-ctx.Done():
		return 0, fmt.Errorf("recount timed out after %s: %w", timeout, ctx.Err())
	case res := <-done:
		if res.err != nil {
			return 0, res.err
		}
		s.broadcaster.Broadcast(res.count, s.total)
		return res.count, nil
	}
}

// Shutdown closes every open channel so streaming handlers return.
func (s *Service) Shutdown() {
	for _, ch := range s.registry.Snapshot() {
		s.registry.Remove(ch)
		ch.Close()
	}
}
