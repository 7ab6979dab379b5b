// Package github is a read-only GitHub API caller with a persistent
// conditional-GET response cache, two-bucket client-side rate limiting, and
// upstream backoff. It never writes to GitHub.
package github

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/scoutworks/cscout/internal/storage"
	"github.com/scoutworks/cscout/internal/types"
)

const (
	// DefaultBaseURL is the public GitHub API root.
	DefaultBaseURL = "https://api.github.com"
	// AcceptJSON is the default GitHub JSON media type.
	AcceptJSON = "application/vnd.github+json"
	// AcceptRaw fetches file content verbatim (README hydration).
	AcceptRaw = "application/vnd.github.raw+json"
	// APIVersion is sent on every request.
	APIVersion = "2022-11-28"

	maxRateLimitRetries = 3
	maxServerRetries    = 3
)

// Throttle reason codes, recorded verbatim in audit events.
const (
	ReasonTokenBucketEmpty   = "token_bucket_empty"
	ReasonRateLimit429       = "rate_limit_429"
	ReasonSecondaryLimit403  = "secondary_rate_limit_403"
)

// ThrottleEvent describes one client-side wait, delivered through the
// OnThrottle callback before sleeping.
type ThrottleEvent struct {
	Bucket  string
	WaitMS  int64
	Reason  string
	ResetAt time.Time
}

// Request describes one API call.
type Request struct {
	Path   string
	Accept string
	Bucket BucketName
	Query  url.Values
}

// Response carries the body plus cache provenance. Status is normalized to
// 200 on a cache revalidation.
type Response struct {
	Status    int
	Body      []byte
	ETag      string
	FromCache bool
	URL       string
}

// JSON decodes the body into v.
func (r *Response) JSON(v any) error {
	if err := json.Unmarshal(r.Body, v); err != nil {
		return fmt.Errorf("failed to decode response from %s: %w", r.URL, err)
	}
	return nil
}

// Client issues read-only GitHub API requests. The clock, sleeper, and
// transport are injectable; zero values get production defaults.
type Client struct {
	baseURL    string
	token      string
	userAgent  string
	store      *storage.Store
	buckets    *Buckets
	do         func(*http.Request) (*http.Response, error)
	now        func() time.Time
	sleep      func(context.Context, time.Duration) error
	onThrottle func(ThrottleEvent)
}

// Options configures a Client. Store is required; everything else has a
// production default.
type Options struct {
	BaseURL    string
	Token      string
	UserAgent  string
	Store      *storage.Store
	Do         func(*http.Request) (*http.Response, error)
	Now        func() time.Time
	Sleep      func(context.Context, time.Duration) error
	OnThrottle func(ThrottleEvent)
}

// NewClient builds a client.
func NewClient(opts Options) (*Client, error) {
	if opts.Store == nil {
		return nil, fmt.Errorf("storage is required")
	}
	c := &Client{
		baseURL:    opts.BaseURL,
		token:      opts.Token,
		userAgent:  opts.UserAgent,
		store:      opts.Store,
		do:         opts.Do,
		now:        opts.Now,
		sleep:      opts.Sleep,
		onThrottle: opts.OnThrottle,
	}
	if c.baseURL == "" {
		c.baseURL = DefaultBaseURL
	}
	if c.userAgent == "" {
		c.userAgent = "cscout"
	}
	if c.now == nil {
		c.now = time.Now
	}
	if c.do == nil {
		httpClient := &http.Client{Timeout: 30 * time.Second}
		c.do = httpClient.Do
	}
	if c.sleep == nil {
		c.sleep = func(ctx context.Context, d time.Duration) error {
			timer := time.NewTimer(d)
			defer timer.Stop()
			select {
			case <-timer.C:
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
	c.buckets = NewBuckets(c.now)
	return c, nil
}

func (c *Client) emitThrottle(ev ThrottleEvent) {
	if c.onThrottle != nil {
		c.onThrottle(ev)
	}
}

// CacheKey derives the cache row key for a request.
func CacheKey(method, fullURL, accept string) string {
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s %s accept=%s", method, fullURL, accept)))
	return hex.EncodeToString(sum[:])
}

func (c *Client) fullURL(req Request) string {
	u := c.baseURL + req.Path
	if len(req.Query) > 0 {
		u += "?" + req.Query.Encode()
	}
	return u
}

// Get performs a cached, rate-limited, retrying GET.
func (c *Client) Get(ctx context.Context, req Request) (*Response, error) {
	accept := req.Accept
	if accept == "" {
		accept = AcceptJSON
	}
	fullURL := c.fullURL(req)
	key := CacheKey(http.MethodGet, fullURL, accept)

	cached, err := c.store.GetCacheEntry(ctx, key)
	if err != nil {
		return nil, err
	}

	var rateRetries, serverRetries int
	for {
		if err := c.consume(ctx, req.Bucket); err != nil {
			return nil, err
		}

		httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, fullURL, nil)
		if err != nil {
			return nil, fmt.Errorf("failed to build request: %w", err)
		}
		httpReq.Header.Set("Accept", accept)
		httpReq.Header.Set("User-Agent", c.userAgent)
		httpReq.Header.Set("X-GitHub-Api-Version", APIVersion)
		if c.token != "" {
			httpReq.Header.Set("Authorization", "Bearer "+c.token)
		}
		if cached != nil {
			if cached.ETag != "" {
				httpReq.Header.Set("If-None-Match", cached.ETag)
			}
			if cached.LastModified != "" {
				httpReq.Header.Set("If-Modified-Since", cached.LastModified)
			}
		}

		resp, err := c.do(httpReq)
		if err != nil {
			return nil, &Error{Kind: KindNetwork, Err: err}
		}
		body, readErr := io.ReadAll(resp.Body)
		resp.Body.Close()
		if readErr != nil {
			return nil, &Error{Kind: KindNetwork, Err: readErr}
		}

		switch {
		case resp.StatusCode == http.StatusNotModified:
			if cached == nil {
				return nil, &Error{Kind: KindHTTPStatus, Status: resp.StatusCode, Body: "304 without cache entry"}
			}
			if err := c.store.TouchCacheEntry(ctx, key, c.now().UTC()); err != nil {
				return nil, err
			}
			return &Response{Status: http.StatusOK, Body: cached.Body, ETag: cached.ETag, FromCache: true, URL: fullURL}, nil

		case resp.StatusCode >= 200 && resp.StatusCode < 300:
			entry := &types.HTTPCacheEntry{
				Key:          key,
				Method:       http.MethodGet,
				URL:          fullURL,
				Status:       resp.StatusCode,
				ETag:         resp.Header.Get("ETag"),
				LastModified: resp.Header.Get("Last-Modified"),
				Body:         body,
				FetchedAt:    c.now().UTC(),
			}
			if err := c.store.UpsertCacheEntry(ctx, entry); err != nil {
				return nil, err
			}
			return &Response{Status: resp.StatusCode, Body: body, ETag: entry.ETag, URL: fullURL}, nil

		case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode == http.StatusForbidden:
			rateRetries++
			if rateRetries > maxRateLimitRetries {
				return nil, &Error{Kind: KindRateLimited, Status: resp.StatusCode, Body: string(body)}
			}
			wait, resetAt := backoffWait(resp.Header, c.now())
			reason := ReasonRateLimit429
			if resp.StatusCode == http.StatusForbidden {
				reason = ReasonSecondaryLimit403
			}
			c.emitThrottle(ThrottleEvent{
				Bucket:  string(req.Bucket),
				WaitMS:  ceilMS(wait),
				Reason:  reason,
				ResetAt: resetAt,
			})
			if err := c.sleep(ctx, wait); err != nil {
				return nil, err
			}

		case resp.StatusCode >= 500:
			serverRetries++
			if serverRetries >= maxServerRetries {
				return nil, &Error{Kind: KindHTTPStatus, Status: resp.StatusCode, Body: string(body)}
			}
			wait := time.Duration(1<<serverRetries) * time.Second
			if err := c.sleep(ctx, wait); err != nil {
				return nil, err
			}

		default:
			return nil, &Error{Kind: KindHTTPStatus, Status: resp.StatusCode, Body: string(body)}
		}
	}
}

// backoffWait derives the upstream-mandated wait: Retry-After seconds when
// present, else the X-RateLimit-Reset epoch plus a one-second buffer, else
// sixty seconds.
func backoffWait(h http.Header, now time.Time) (time.Duration, time.Time) {
	if ra := h.Get("Retry-After"); ra != "" {
		if secs, err := strconv.Atoi(strings.TrimSpace(ra)); err == nil && secs >= 0 {
			return time.Duration(secs) * time.Second, now.Add(time.Duration(secs) * time.Second)
		}
	}
	if reset := h.Get("X-RateLimit-Reset"); reset != "" {
		if epoch, err := strconv.ParseInt(strings.TrimSpace(reset), 10, 64); err == nil {
			resetAt := time.Unix(epoch, 0)
			wait := resetAt.Sub(now)
			if wait < 0 {
				wait = 0
			}
			return wait + time.Second, resetAt
		}
	}
	return 60 * time.Second, time.Time{}
}
