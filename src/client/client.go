package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"personal/discord_gateway/src/ratelimit"

	"github.com/rs/zerolog"
)

// DiscordAPI is the default REST base URL.
const DiscordAPI = "https://discord.com/api/v10"

// Client defaults.
const (
	DefaultTimeout     = 30 * time.Second
	DefaultMaxRetries  = 3
	DefaultGlobalLimit = 50
	userAgent          = "DiscordBot (personal/discord_gateway, 0.1)"
)

// Client is a REST client. Every request passes the global bucket and,
// once the server has named one, its route bucket; 429s, 5xx and network
// errors are retried.
type Client struct {
	token      string
	baseURL    string
	httpClient *http.Client
	global     *ratelimit.Bucket
	maxRetries int
	backoff    time.Duration
	logger     zerolog.Logger

	mu      sync.Mutex
	routes  map[string]string // route -> bucket key
	buckets map[string]*ratelimit.Bucket
}

// Option configures a Client.
type Option func(*Client)

// WithBaseURL points the client at another API root.
func WithBaseURL(u string) Option {
	return func(c *Client) { c.baseURL = strings.TrimRight(u, "/") }
}

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) { c.httpClient = h }
}

// WithGlobalBucket shares b as the global request bucket.
func WithGlobalBucket(b *ratelimit.Bucket) Option {
	return func(c *Client) { c.global = b }
}

// WithMaxRetries sets how many times a transient failure is retried.
func WithMaxRetries(n int) Option {
	return func(c *Client) { c.maxRetries = n }
}

// WithRetryBackoff sets the base delay between retries of server and
// network errors. It doubles on every attempt.
func WithRetryBackoff(d time.Duration) Option {
	return func(c *Client) { c.backoff = d }
}

// WithLogger sets the parent logger.
func WithLogger(l zerolog.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// New returns a client authenticating as the bot with token.
func New(token string, opts ...Option) *Client {
	c := &Client{
		token:      token,
		baseURL:    DiscordAPI,
		httpClient: &http.Client{Timeout: DefaultTimeout},
		maxRetries: DefaultMaxRetries,
		backoff:    time.Second,
		logger:     zerolog.Nop(),
		routes:     make(map[string]string),
		buckets:    make(map[string]*ratelimit.Bucket),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.global == nil {
		c.global = ratelimit.NewBucket(DefaultGlobalLimit, time.Second)
	}
	c.logger = c.logger.With().Str("component", "rest").Logger()
	return c
}

// Global returns the bucket shared by every request.
func (c *Client) Global() *ratelimit.Bucket { return c.global }

// Get decodes the response of a GET into out.
func (c *Client) Get(ctx context.Context, path string, out any) error {
	return c.Do(ctx, http.MethodGet, path, nil, out)
}

// Post sends body as JSON and decodes the response into out.
func (c *Client) Post(ctx context.Context, path string, body, out any) error {
	return c.Do(ctx, http.MethodPost, path, body, out)
}

// Do performs one API call with rate limiting and retries. body, when
// non-nil, is sent as JSON; out, when non-nil, receives the decoded
// response.
func (c *Client) Do(ctx context.Context, method, path string, body, out any) error {
	var payload []byte
	if body != nil {
		var err error
		if payload, err = json.Marshal(body); err != nil {
			return fmt.Errorf("could not marshal request body: %w", err)
		}
	}

	route := routeKey(method, path)
	var lastErr error
	var wait time.Duration

	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			c.logger.Warn().
				Err(lastErr).
				Str("route", route).
				Int("attempt", attempt+1).
				Dur("wait", wait).
				Msg("retrying request")
			if err := sleep(ctx, wait); err != nil {
				return err
			}
		}

		if err := c.global.Acquire(ctx); err != nil {
			return err
		}
		if b := c.bucket(route); b != nil {
			if err := b.Acquire(ctx); err != nil {
				return err
			}
		}

		res, err := c.send(ctx, method, path, payload)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			lastErr = err
			wait = c.backoff << attempt
			continue
		}

		c.updateBucket(route, path, res.Header)
		resBody, err := io.ReadAll(res.Body)
		res.Body.Close()
		if err != nil {
			lastErr = fmt.Errorf("could not read response body: %w", err)
			wait = c.backoff << attempt
			continue
		}

		if res.StatusCode >= 200 && res.StatusCode < 300 {
			if out == nil || len(resBody) == 0 || res.StatusCode == http.StatusNoContent {
				return nil
			}
			if err := json.Unmarshal(resBody, out); err != nil {
				return fmt.Errorf("could not unmarshal response body: %w", err)
			}
			return nil
		}

		apiErr := parseError(res, resBody)
		if !apiErr.Temporary() {
			return apiErr
		}
		lastErr = apiErr

		if res.StatusCode == http.StatusTooManyRequests {
			wait = apiErr.RetryAfter
			until := time.Now().Add(wait)
			if apiErr.Global {
				c.global.Exhaust(until)
			} else if b := c.bucket(route); b != nil {
				b.Exhaust(until)
			}
			continue
		}
		wait = c.backoff << attempt
	}

	return fmt.Errorf("giving up on %s after %d attempts: %w", route, c.maxRetries+1, lastErr)
}

func (c *Client) send(ctx context.Context, method, path string, payload []byte) (*http.Response, error) {
	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("could not create request: %w", err)
	}
	req.Header.Set("Authorization", "Bot "+c.token)
	req.Header.Set("User-Agent", userAgent)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	res, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("error making http request: %w", err)
	}
	return res, nil
}

func (c *Client) bucket(route string) *ratelimit.Bucket {
	c.mu.Lock()
	defer c.mu.Unlock()
	key, ok := c.routes[route]
	if !ok {
		return nil
	}
	return c.buckets[key]
}

// updateBucket records the route bucket state the server reported.
// Buckets are keyed by the server's bucket hash and the route's major
// parameter.
func (c *Client) updateBucket(route, path string, h http.Header) {
	hash := h.Get("X-RateLimit-Bucket")
	if hash == "" {
		return
	}
	limit, err := strconv.Atoi(h.Get("X-RateLimit-Limit"))
	if err != nil {
		return
	}
	remaining, err := strconv.Atoi(h.Get("X-RateLimit-Remaining"))
	if err != nil {
		return
	}
	resetAfter, err := strconv.ParseFloat(h.Get("X-RateLimit-Reset-After"), 64)
	if err != nil {
		return
	}
	window := time.Duration(resetAfter * float64(time.Second))

	key := hash + ":" + majorParameter(path)
	c.mu.Lock()
	c.routes[route] = key
	b, ok := c.buckets[key]
	if !ok {
		b = ratelimit.NewBucket(limit, window)
		c.buckets[key] = b
	}
	c.mu.Unlock()

	b.Update(limit, remaining, time.Now().Add(window))
}

type apiError struct {
	Message    string  `json:"message"`
	Code       int     `json:"code"`
	RetryAfter float64 `json:"retry_after"`
	Global     bool    `json:"global"`
}

func parseError(res *http.Response, body []byte) *HTTPError {
	e := &HTTPError{StatusCode: res.StatusCode}

	var decoded apiError
	if err := json.Unmarshal(body, &decoded); err == nil {
		e.Message = decoded.Message
		e.Code = decoded.Code
		e.Global = decoded.Global
		e.RetryAfter = time.Duration(decoded.RetryAfter * float64(time.Second))
	}
	if res.Header.Get("X-RateLimit-Global") == "true" {
		e.Global = true
	}
	if e.RetryAfter <= 0 {
		if seconds, err := strconv.ParseFloat(res.Header.Get("Retry-After"), 64); err == nil && seconds > 0 {
			e.RetryAfter = time.Duration(seconds * float64(time.Second))
		}
	}
	if e.StatusCode == http.StatusTooManyRequests && e.RetryAfter <= 0 {
		e.RetryAfter = time.Second
	}
	return e
}

// routeKey groups requests that share a rate limit: ids that are not a
// major parameter are collapsed so /channels/1/messages/2 and
// /channels/1/messages/3 land in the same route.
func routeKey(method, path string) string {
	parts := strings.Split(strings.Trim(path, "/"), "/")
	for i := 1; i < len(parts); i++ {
		switch {
		case isMajor(parts[i-1]) && isSnowflake(parts[i]):
		case isSnowflake(parts[i]):
			parts[i] = ":id"
		case i >= 2 && (parts[i-2] == "interactions" || parts[i-2] == "webhooks"):
			parts[i] = ":token"
		}
	}
	return method + " /" + strings.Join(parts, "/")
}

func majorParameter(path string) string {
	parts := strings.Split(strings.Trim(path, "/"), "/")
	for i := 1; i < len(parts); i++ {
		if isMajor(parts[i-1]) && isSnowflake(parts[i]) {
			return parts[i]
		}
	}
	return ""
}

func isMajor(segment string) bool {
	switch segment {
	case "channels", "guilds", "webhooks":
		return true
	}
	return false
}

func isSnowflake(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// IsNotFound reports whether err is a 404 from the API.
func IsNotFound(err error) bool {
	var he *HTTPError
	return errors.As(err, &he) && he.StatusCode == http.StatusNotFound
}
