package menusync

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"strings"
	"time"

	"github.com/boilerfuel/menu_backend/config"
)

const (
	defaultMenuAPIBaseURL   = "https://api.hfs.purdue.edu/menus/v2/locations"
	defaultMenuItemsBaseURL = "https://api.hfs.purdue.edu/menus/v2/items"
	defaultFallbackBaseURL  = "https://dining.purdue.edu/menus"
	maxResponseBytes        = 8 << 20
)

type httpStatusError struct {
	code int
	body string
}

func (e *httpStatusError) Error() string {
	return fmt.Sprintf("upstream error %d: %s", e.code, e.body)
}

type ClientOptions struct {
	Timeout         time.Duration
	MaxRetries      int
	RetryBaseDelay  time.Duration
	RateLimitPerMin int
	UserAgent       string
	HTTPClient      *http.Client
}

// ClientOptionsFromEnv reads MENU_API_TIMEOUT_SECONDS, MENU_API_MAX_RETRIES and MENU_API_RATE_LIMIT_PER_MIN.
func ClientOptionsFromEnv() ClientOptions {
	return ClientOptions{
		Timeout:         time.Duration(config.IntFromEnv("MENU_API_TIMEOUT_SECONDS", 15)) * time.Second,
		MaxRetries:      config.IntFromEnv("MENU_API_MAX_RETRIES", 2),
		RetryBaseDelay:  500 * time.Millisecond,
		RateLimitPerMin: config.IntFromEnv("MENU_API_RATE_LIMIT_PER_MIN", 0),
		UserAgent:       config.EnvString("MENU_API_USER_AGENT", "menu-sync/1.0"),
	}
}

// menuHTTPClient is shared by the primary and fallback sources.
type menuHTTPClient struct {
	http       *http.Client
	maxRetries int
	baseDelay  time.Duration
	userAgent  string
	limiter    <-chan time.Time
}

func newMenuHTTPClient(opts ClientOptions) *menuHTTPClient {
	if opts.Timeout <= 0 {
		opts.Timeout = 15 * time.Second
	}
	if opts.MaxRetries < 0 {
		opts.MaxRetries = 0
	}
	if opts.RetryBaseDelay <= 0 {
		opts.RetryBaseDelay = 500 * time.Millisecond
	}
	hc := opts.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: opts.Timeout}
	}
	c := &menuHTTPClient{
		http:       hc,
		maxRetries: opts.MaxRetries,
		baseDelay:  opts.RetryBaseDelay,
		userAgent:  opts.UserAgent,
	}
	if opts.RateLimitPerMin > 0 {
		c.limiter = time.Tick(time.Minute / time.Duration(opts.RateLimitPerMin))
	}
	return c
}

// get fetches url and returns the body. Retries network errors, 408, 429 and 5xx.
// Every failure is wrapped in ErrTransientFetch.
func (c *menuHTTPClient) get(ctx context.Context, url string, accept string) ([]byte, error) {
	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			if err := sleepCtx(ctx, jitter(c.baseDelay*time.Duration(1<<(attempt-1)))); err != nil {
				return nil, err
			}
		}
		body, err := c.getOnce(ctx, url, accept)
		if err == nil {
			return body, nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		lastErr = err
		if !isRetryable(err) {
			break
		}
	}
	return nil, fmt.Errorf("%w: GET %s: %v", ErrTransientFetch, url, lastErr)
}

func (c *menuHTTPClient) getOnce(ctx context.Context, url string, accept string) ([]byte, error) {
	if c.limiter != nil {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-c.limiter:
		}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", accept)
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet := strings.TrimSpace(string(body))
		if len(snippet) > 200 {
			snippet = snippet[:200]
		}
		return nil, &httpStatusError{code: resp.StatusCode, body: snippet}
	}
	return body, nil
}

// getJSON decodes the body into dest; a decode failure is ErrParse.
func (c *menuHTTPClient) getJSON(ctx context.Context, url string, dest interface{}) error {
	body, err := c.get(ctx, url, "application/json")
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, dest); err != nil {
		return fmt.Errorf("%w: decode %s: %v", ErrParse, url, err)
	}
	return nil
}

func isRetryable(err error) bool {
	var se *httpStatusError
	if errors.As(err, &se) {
		return se.code == http.StatusRequestTimeout || se.code == http.StatusTooManyRequests || (se.code >= 500 && se.code <= 599)
	}
	// transport-level failure
	return true
}

func jitter(base time.Duration) time.Duration {
	if base <= 0 {
		return 0
	}
	delta := float64(base) * 0.2
	return time.Duration(float64(base) - delta + rand.Float64()*2*delta)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
