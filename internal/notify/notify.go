package notify

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/arfve/launchsite/internal/config"
)

// Notifier is the interface for sending subscriber milestone notifications.
type Notifier interface {
	SendMilestone(ctx context.Context, count, total int) error
	SendSoldOut(ctx context.Context, count, total int) error
}

// Client implements the ntfy notification client.
type Client struct {
	httpClient *http.Client
	config     *config.NotifyConfig
	logger     *zap.Logger
}

// NewClient creates a new ntfy client.
func NewClient(cfg *config.NotifyConfig, logger *zap.Logger) *Client {
	return &Client{
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		config: cfg,
		logger: logger,
	}
}

// SendMilestone sends a milestone notification.
func (c *Client) SendMilestone(ctx context.Context, count, total int) error {
	if !c.config.Enabled {
		return nil
	}

	title := fmt.Sprintf("Launch list reached %d", count)
	message := FormatMilestoneMessage(count, total)
	tags := c.config.Tags + ",chart_with_upwards_trend"

	return c.send(ctx, title, message, tags, c.config.Priority)
}

// SendSoldOut sends the capacity-reached notification.
func (c *Client) SendSoldOut(ctx context.Context, count, total int) error {
	if !c.config.Enabled {
		return nil
	}

	title := "Launch list is full"
	message := FormatSoldOutMessage(count, total)
	tags := c.config.Tags + ",tada"
	priority := "high" // Override to high priority for capacity

	return c.send(ctx, title, message, tags, priority)
}

func (c *Client) send(ctx context.Context, title, message, tags, priority string) error {
	url := fmt.Sprintf("%s/%s", strings.TrimSuffix(c.config.Server, "/"), c.config.Topic)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, strings.NewReader(message))
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}

	req.Header.Set("Title", title)
	req.Header.Set("Priority", priority)
	req.Header.Set("Tags", tags)

	if c.config.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.config.Token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Warn("failed to send notification", zap.Error(err))
		return fmt.Errorf("sending notification: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	// Drain response body to allow connection reuse
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		c.logger.Warn("notification failed",
			zap.Int("status", resp.StatusCode),
			zap.String("url", url),
		)
		return fmt.Errorf("notification failed with status: %d", resp.StatusCode)
	}

	c.logger.Debug("notification sent", zap.String("title", title))
	return nil
}

// NoopNotifier is a no-op implementation for when notifications are disabled.
type NoopNotifier struct{}

// SendMilestone is a no-op.
func (n *NoopNotifier) SendMilestone(_ context.Context, _, _ int) error {
	return nil
}

// SendSoldOut is a no-op.
func (n *NoopNotifier) SendSoldOut(_ context.Context, _, _ int) error {
	return nil
}

// New creates the appropriate notifier based on config.
func New(cfg *config.NotifyConfig, logger *zap.Logger) Notifier {
	if !cfg.Enabled {
		return &NoopNotifier{}
	}
	return NewClient(cfg, logger)
}
