package mailerlite

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/arfve/launchsite/internal/config"
)

const (
	StatusActive = "active"

	defaultRetryCount = 2
	defaultRetryDelay = 500 * time.Millisecond
)

// Client interface for testability
type Client interface {
	ListSubscribers(ctx context.Context, params ListParams) (*SubscriberPage, error)
	Subscribe(ctx context.Context, params SubscribeParams) (*Subscriber, error)
	Configured() bool
}

type ListParams struct {
	Limit  int
	Status string
	Cursor string
}

type SubscribeParams struct {
	Email  string
	Name   string
	Fields map[string]string
	// GroupID overrides the configured default group.
	GroupID string
}

type Subscriber struct {
	ID     string         `json:"id"`
	Email  string         `json:"email"`
	Status string         `json:"status"`
	Fields map[string]any `json:"fields,omitempty"`
}

type PageMeta struct {
	NextCursor string `json:"next_cursor"`
	PerPage    int    `json:"per_page"`
}

type SubscriberPage struct {
	Data []Subscriber
	Meta PageMeta
}

type HTTPClient struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
	groupID    string
	limiter    *rate.Limiter
	retryCount int
	retryDelay time.Duration
	logger     *zap.Logger
}

func NewClient(cfg config.MailerLiteConfig, logger *zap.Logger) *HTTPClient {
	transport := &http.Transport{
		MaxIdleConns:       100,
		MaxConnsPerHost:    10,
		IdleConnTimeout:    90 * time.Second,
		DisableCompression: false,
	}

	ratePerSec := cfg.RatePerSecond
	if ratePerSec < 1 {
		ratePerSec = 1
	}

	return &HTTPClient{
		httpClient: &http.Client{
			Transport: transport,
			Timeout:   cfg.Timeout,
		},
		baseURL:    strings.TrimSuffix(cfg.BaseURL, "/"),
		apiKey:     cfg.APIKey,
		groupID:    cfg.GroupID,
		limiter:    rate.NewLimiter(rate.Limit(ratePerSec), ratePerSec*2),
		retryCount: defaultRetryCount,
		retryDelay: defaultRetryDelay,
		logger:     logger,
	}
}

// Configured reports whether an API key is available.
func (c *HTTPClient) Configured() bool {
	return c.apiKey != ""
}

// ListSubscribers fetches one cursor page of subscribers.
func (c *HTTPClient) ListSubscribers(ctx context.Context, params ListParams) (*SubscriberPage, error) {
	q := url.Values{}
	q.Set("limit", strconv.Itoa(params.Limit))
	if params.Status != "" {
		q.Set("filter[status]", params.Status)
	}
	if params.Cursor != "" {
		q.Set("cursor", params.Cursor)
	}

	body, err := c.do(ctx, http.MethodGet, "/subscribers?"+q.Encode(), nil)
	if err != nil {
		return nil, err
	}

	var raw struct {
		Data json.RawMessage `json:"data"`
		Meta PageMeta        `json:"meta"`
	}
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("%w: decoding page: %v", ErrMalformedResponse, err)
	}
	if len(raw.Data) == 0 || string(raw.Data) == "null" {
		return nil, fmt.Errorf("%w: missing data array", ErrMalformedResponse)
	}

	page := &SubscriberPage{Meta: raw.Meta}
	if err := json.Unmarshal(raw.Data, &page.Data); err != nil {
		return nil, fmt.Errorf("%w: decoding subscribers: %v", ErrMalformedResponse, err)
	}

	return page, nil
}

// Subscribe creates or updates an active subscriber in the given group,
// falling back to the configured default group.
func (c *HTTPClient) Subscribe(ctx context.Context, params SubscribeParams) (*Subscriber, error) {
	payload := struct {
		Email  string            `json:"email"`
		Status string            `json:"status"`
		Fields map[string]string `json:"fields,omitempty"`
		Groups []string          `json:"groups,omitempty"`
	}{
		Email:  params.Email,
		Status: StatusActive,
	}

	if params.Name != "" || len(params.Fields) > 0 {
		payload.Fields = make(map[string]string, len(params.Fields)+1)
		for k, v := range params.Fields {
			payload.Fields[k] = v
		}
		if params.Name != "" {
			payload.Fields["name"] = params.Name
		}
	}

	group := params.GroupID
	if group == "" {
		group = c.groupID
	}
	if group != "" {
		payload.Groups = []string{group}
	}

	reqBody, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encoding subscriber: %w", err)
	}

	body, err := c.do(ctx, http.MethodPost, "/subscribers", reqBody)
	if err != nil {
		return nil, err
	}

	var resp struct {
		Data Subscriber `json:"data"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("%w: decoding subscriber: %v", ErrMalformedResponse, err)
	}

	return &resp.Data, nil
}

// do performs an authenticated request. Rate-limited responses are retried
// with exponential backoff; every other failure is returned immediately.
func (c *HTTPClient) do(ctx context.Context, method, path string, reqBody []byte) ([]byte, error) {
	if c.apiKey == "" {
		return nil, ErrNotConfigured
	}

	// Wait for rate limiter
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("%w: rate limiter: %w", ErrUnreachable, err)
	}

	endpoint := c.baseURL + path
	c.logger.Debug("requesting", zap.String("method", method), zap.String("url", endpoint))

	var lastErr error
	for attempt := 0; attempt <= c.retryCount; attempt++ {
		if attempt > 0 {
			delay := c.retryDelay * time.Duration(1<<(attempt-1)) // Exponential backoff
			c.logger.Debug("retrying request", zap.Int("attempt", attempt), zap.Duration("delay", delay))

			select {
			case <-ctx.Done():
				return nil, fmt.Errorf("%w: %w", ErrUnreachable, ctx.Err())
			case <-time.After(delay):
			}
		}

		var bodyReader io.Reader
		if reqBody != nil {
			bodyReader = bytes.NewReader(reqBody)
		}

		req, err := http.NewRequestWithContext(ctx, method, endpoint, bodyReader)
		if err != nil {
			return nil, fmt.Errorf("creating request: %w", err)
		}

		req.Header.Set("Authorization", "Bearer "+c.apiKey)
		req.Header.Set("Accept", "application/json")
		if reqBody != nil {
			req.Header.Set("Content-Type", "application/json")
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrUnreachable, err)
		}

		// Read body before closing for error messages
		body, readErr := io.ReadAll(resp.Body)
		_ = resp.Body.Close()

		if readErr != nil {
			return nil, fmt.Errorf("%w: reading body: %w", ErrUnreachable, readErr)
		}

		switch {
		case resp.StatusCode == http.StatusUnauthorized, resp.StatusCode == http.StatusForbidden:
			return nil, fmt.Errorf("%w: status %d", ErrUnauthenticated, resp.StatusCode)
		case resp.StatusCode == http.StatusTooManyRequests:
			lastErr = ErrRateLimited
			continue
		case resp.StatusCode == http.StatusUnprocessableEntity:
			return nil, fmt.Errorf("%w: %s", ErrInvalidSubscriber, upstreamMessage(body, resp.StatusCode))
		case resp.StatusCode < 200 || resp.StatusCode >= 300:
			return nil, fmt.Errorf("%w: %s", ErrUnreachable, upstreamMessage(body, resp.StatusCode))
		}

		return body, nil
	}

	return nil, fmt.Errorf("%w: max retries exceeded: %w", ErrUnreachable, lastErr)
}

// upstreamMessage extracts the "message" field MailerLite puts on error bodies.
func upstreamMessage(body []byte, status int) string {
	var errBody struct {
		Message string `json:"message"`
	}
	if err := json.Unmarshal(body, &errBody); err == nil && errBody.Message != "" {
		return fmt.Sprintf("HTTP %d: %s", status, errBody.Message)
	}
	return fmt.Sprintf("HTTP %d", status)
}
