// Package rates fetches daily currency-indicator values used to price fines.
package rates

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	jsoniter "github.com/json-iterator/go"

	"lending/internal/metrics"
	"lending/internal/models"
)

const (
	DefaultBaseURL = "https://mindicador.cl/api"
	DefaultCode    = "uf"
	DefaultTimeout = 3 * time.Second

	maxBodyBytes = 1 << 20
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Source returns the current value of an indicator
type Source interface {
	DailyRate(ctx context.Context, code string) (float64, error)
}

type indicatorResponse struct {
	Serie []struct {
		Fecha string  `json:"fecha"`
		Valor float64 `json:"valor"`
	} `json:"serie"`
}

// Client reads indicators from an HTTP endpoint serving {base}/{code}
type Client struct {
	baseURL string
	timeout time.Duration
	client  *http.Client
}

// ClientOption configures a Client
type ClientOption func(*Client)

// WithHTTPClient replaces the underlying HTTP client
func WithHTTPClient(c *http.Client) ClientOption {
	return func(cl *Client) {
		cl.client = c
	}
}

// NewClient creates a Client. Empty baseURL and non-positive timeout fall back to defaults.
func NewClient(baseURL string, timeout time.Duration, opts ...ClientOption) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		timeout: timeout,
		client: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				DialContext: (&net.Dialer{
					Timeout:   timeout,
					KeepAlive: 30 * time.Second,
				}).DialContext,
				MaxIdleConnsPerHost: 2,
				IdleConnTimeout:     90 * time.Second,
			},
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// DailyRate fetches the latest value of code. Every failure wraps models.ErrUnavailable.
func (c *Client) DailyRate(ctx context.Context, code string) (rate float64, err error) {
	start := time.Now()
	defer func() {
		metrics.RateFetchDuration.WithLabelValues(metrics.Outcome(err)).Observe(time.Since(start).Seconds())
	}()

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	endpoint := c.baseURL + "/" + url.PathEscape(code)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to build indicator request: %v: %w", err, models.ErrUnavailable)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("failed to fetch indicator %s: %v: %w", code, err, models.ErrUnavailable)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return 0, fmt.Errorf("indicator %s returned %s: %w", code, resp.Status, models.ErrUnavailable)
	}

	var out indicatorResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxBodyBytes)).Decode(&out); err != nil {
		return 0, fmt.Errorf("failed to decode indicator %s: %v: %w", code, err, models.ErrUnavailable)
	}
	if len(out.Serie) == 0 {
		return 0, fmt.Errorf("indicator %s has an empty series: %w", code, models.ErrUnavailable)
	}

	value := out.Serie[0].Valor
	if value <= 0 {
		return 0, fmt.Errorf("indicator %s has non-positive value %v: %w", code, value, models.ErrUnavailable)
	}
	return value, nil
}

type cacheKey struct {
	code string
	day  time.Time
}

// Cache memoises one value per indicator and calendar day. Failures are not cached.
type Cache struct {
	source Source
	now    func() time.Time

	mu     sync.Mutex
	values map[cacheKey]float64
}

// NewCache wraps source
func NewCache(source Source, now func() time.Time) *Cache {
	if now == nil {
		now = time.Now
	}
	return &Cache{
		source: source,
		now:    now,
		values: make(map[cacheKey]float64),
	}
}

// DailyRate returns today's cached value or fetches it
func (c *Cache) DailyRate(ctx context.Context, code string) (float64, error) {
	key := cacheKey{code: code, day: models.Day(c.now())}

	c.mu.Lock()
	value, ok := c.values[key]
	c.mu.Unlock()
	if ok {
		return value, nil
	}

	value, err := c.source.DailyRate(ctx, code)
	if err != nil {
		return 0, err
	}

	c.mu.Lock()
	// keep only today's entries
	for k := range c.values {
		if !k.day.Equal(key.day) {
			delete(c.values, k)
		}
	}
	c.values[key] = value
	c.mu.Unlock()
	return value, nil
}
