// Package subscribers computes the authoritative active-subscriber count from
// MailerLite, with a short-lived cache in front of the paginated recount.
package subscribers

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/arfve/launchsite/internal/mailerlite"
	"github.com/arfve/launchsite/internal/metrics"
)

// Strategy is one way of paginating the subscriber list.
type Strategy struct {
	Name     string
	PageSize int
	MaxPages int
}

var (
	// ExactStrategy uses large pages to keep the number of requests low.
	ExactStrategy = Strategy{Name: "exact", PageSize: 250, MaxPages: 50}
	// FallbackStrategy uses smaller pages and a higher page cap.
	FallbackStrategy = Strategy{Name: "fallback", PageSize: 100, MaxPages: 100}
)

const progressEvery = 5

// Counter is the upstream count fetcher.
type Counter struct {
	client mailerlite.Client
	cache  *CountCache
	group  singleflight.Group
	now    func() time.Time
	logger *zap.Logger
}

func NewCounter(client mailerlite.Client, ttl time.Duration, logger *zap.Logger) *Counter {
	return &Counter{
		client: client,
		cache:  NewCountCache(ttl),
		now:    time.Now,
		logger: logger,
	}
}

// GetCount returns the cached count while fresh, otherwise recounts. When the
// recount fails, any cached count is returned instead, however old.
func (c *Counter) GetCount(ctx context.Context) (int, error) {
	if !c.client.Configured() {
		c.logger.Error("mailerlite API key not configured")
		return 0, mailerlite.ErrNotConfigured
	}

	if entry, ok := c.cache.Get(); ok && entry.Fresh(c.now()) {
		c.logger.Debug("returning cached count", zap.Int("count", entry.Count))
		return entry.Count, nil
	}

	// Concurrent misses share one recount; it outlives any single caller.
	ch := c.group.DoChan("count", func() (any, error) {
		return c.recount(context.WithoutCancel(ctx))
	})

	var err error
	select {
	case <-ctx.Done():
		err = ctx.Err()
	case res := <-ch:
		if res.Err == nil {
			return res.Val.(int), nil
		}
		err = res.Err
	}

	if entry, ok := c.cache.Get(); ok {
		c.logger.Warn("returning stale cached count after recount failure",
			zap.Int("count", entry.Count),
			zap.Time("cachedAt", entry.Timestamp),
			zap.Error(err),
		)
		return entry.Count, nil
	}

	return 0, err
}

// RefreshCount expires the cache and always performs a live recount.
func (c *Counter) RefreshCount(ctx context.Context) (int, error) {
	if !c.client.Configured() {
		return 0, mailerlite.ErrNotConfigured
	}

	c.cache.Invalidate()
	return c.recount(ctx)
}

// Cached returns the last successful count, if any.
func (c *Counter) Cached() (int, bool) {
	entry, ok := c.cache.Get()
	return entry.Count, ok
}

// recount runs the exact strategy and, for transient failures, the
// fallback strategy. Successful results are written to the cache.
func (c *Counter) recount(ctx context.Context) (int, error) {
	count, err := c.paginate(ctx, ExactStrategy)
	if err != nil {
		if errors.Is(err, mailerlite.ErrUnauthenticated) || errors.Is(err, mailerlite.ErrNotConfigured) || ctx.Err() != nil {
			return 0, err
		}

		c.logger.Warn("exact count failed, using fallback pagination", zap.Error(err))
		count, err = c.paginate(ctx, FallbackStrategy)
		if err != nil {
			c.logger.Error("fallback count failed", zap.Error(err))
			return 0, err
		}
	}

	c.cache.Set(count, c.now())
	metrics.SubscriberCount.Set(float64(count))
	return count, nil
}

// paginate sums page sizes until a short page, an exhausted cursor, or the
// strategy's page cap.
func (c *Counter) paginate(ctx context.Context, s Strategy) (int, error) {
	total := 0
	cursor := ""

	for page := 1; page <= s.MaxPages; page++ {
		resp, err := c.client.ListSubscribers(ctx, mailerlite.ListParams{
			Limit:  s.PageSize,
			Status: mailerlite.StatusActive,
			Cursor: cursor,
		})
		if err != nil {
			metrics.UpstreamFetches.WithLabelValues(s.Name, "error").Inc()
			return 0, fmt.Errorf("%s count page %d: %w", s.Name, page, err)
		}

		batch := len(resp.Data)
		total += batch

		if page%progressEvery == 0 {
			c.logger.Debug("count progress",
				zap.String("strategy", s.Name),
				zap.Int("pages", page),
				zap.Int("subscribers", total),
			)
		}

		if batch < s.PageSize || resp.Meta.NextCursor == "" {
			metrics.UpstreamFetches.WithLabelValues(s.Name, "ok").Inc()
			c.logger.Info("count completed",
				zap.String("strategy", s.Name),
				zap.Int("count", total),
				zap.Int("pages", page),
			)
			return total, nil
		}
		cursor = resp.Meta.NextCursor
	}

	metrics.UpstreamFetches.WithLabelValues(s.Name, "page_cap").Inc()
	c.logger.Warn("count stopped at page cap",
		zap.String("strategy", s.Name),
		zap.Int("maxPages", s.MaxPages),
		zap.Int("count", total),
	)
	return total, nil
}
