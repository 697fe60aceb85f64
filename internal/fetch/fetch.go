// Package fetch performs polite, browser-shaped HTTP fetching with
// per-domain rate limiting, retrying with backoff, proxy rotation and
// optional authenticated sessions.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/net/html/charset"
)

const (
	// DefaultUserAgent is a current desktop Chrome identity.
	DefaultUserAgent = "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/122.0.0.0 Safari/537.36"

	// MobileUserAgent is used by the mobile fetch strategy; many sites
	// serve a lighter, fully rendered page to phones.
	MobileUserAgent = "Mozilla/5.0 (iPhone; CPU iPhone OS 17_0 like Mac OS X) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.0 Mobile/15E148 Safari/604.1"

	defaultTimeout  = 30 * time.Second
	defaultRetries  = 3
	maxRedirects    = 10
	maxBodyBytes    = 10 << 20
	fieldURL        = "url"
	fieldStatus     = "status"
	fieldAttempt    = "attempt"
	fieldRetryAfter = "retry_after"
)

// Errors returned by the client.
var (
	ErrTooManyRedirects = errors.New("too many redirects")
	ErrUnsupportedBody  = errors.New("unsupported response encoding")
)

// Retryable HTTP status codes.
var retryStatuses = map[int]struct{}{
	http.StatusTooManyRequests:     {},
	http.StatusInternalServerError: {},
	http.StatusBadGateway:          {},
	http.StatusServiceUnavailable:  {},
	http.StatusGatewayTimeout:      {},
}

// userAgentPool backs RotatingUserAgent.
var userAgentPool = []string{
	DefaultUserAgent,
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/122.0.0.0 Safari/537.36",
	"Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/122.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64; rv:123.0) Gecko/20100101 Firefox/123.0",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.3 Safari/605.1.15",
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/122.0.0.0 Safari/537.36 Edg/122.0.0.0",
}

// RotatingUserAgent returns a random entry from the browser pool.
func RotatingUserAgent() string {
	return userAgentPool[rand.Intn(len(userAgentPool))]
}

// FetchError reports a non-2xx response that survived retries. The body
// snippet lets callers run block detection on it.
type FetchError struct {
	URL        string
	Status     int
	Body       string
	RetryAfter time.Duration
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetch %s: HTTP %d", e.URL, e.Status)
}

// Response is a successful fetch.
type Response struct {
	URL        string // final URL after redirects
	Status     int
	Body       string
	Header     http.Header
	FetchedVia string // user agent actually sent
	Elapsed    time.Duration
}

// Options tune a single request.
type Options struct {
	UserAgent   string
	Headers     map[string]string
	Timeout     time.Duration
	Retries     int
	Auth        *AuthSession
	Conditional *ConditionalHeaders
}

// ConditionalHeaders carry cache validators for delta fetching.
type ConditionalHeaders struct {
	ETag         string
	LastModified string
}

// ErrNotModified signals a 304 on a conditional request.
var ErrNotModified = errors.New("not modified")

// Client is the HTTP fetcher.
type Client struct {
	http    *http.Client
	limiter *DomainLimiter
	proxies *ProxyRotator
	log     *zerolog.Logger
}

// NewClient builds a fetcher. limiter and proxies may be nil.
func NewClient(limiter *DomainLimiter, proxies *ProxyRotator, log *zerolog.Logger) *Client {
	transport := &http.Transport{
		Proxy:               proxyFunc(proxies),
		MaxIdleConnsPerHost: 4,
	}

	return &Client{
		http: &http.Client{
			Transport: transport,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				if len(via) >= maxRedirects {
					return ErrTooManyRedirects
				}

				return nil
			},
		},
		limiter: limiter,
		proxies: proxies,
		log:     log,
	}
}

// Proxies exposes the rotator for block-aware retry loops.
func (c *Client) Proxies() *ProxyRotator { return c.proxies }

func proxyFunc(proxies *ProxyRotator) func(*http.Request) (*url.URL, error) {
	if proxies == nil {
		return nil
	}

	return func(*http.Request) (*url.URL, error) {
		raw, ok := proxies.Get()
		if !ok {
			return nil, nil
		}

		return url.Parse(raw)
	}
}

// Get fetches a URL with browser headers, honoring per-domain rate
// limits and retrying transient failures with exponential backoff.
func (c *Client) Get(ctx context.Context, rawURL string, opts Options) (*Response, error) {
	if opts.Timeout <= 0 {
		opts.Timeout = defaultTimeout
	}

	retries := opts.Retries
	if retries <= 0 {
		retries = defaultRetries
	}

	authRetried := false

	var lastErr error

	for attempt := 0; attempt <= retries; attempt++ {
		if c.limiter != nil {
			if err := c.limiter.Wait(ctx, rawURL); err != nil {
				return nil, err
			}
		}

		resp, err := c.do(ctx, rawURL, opts)
		if err == nil {
			return resp, nil
		}

		lastErr = err

		if errors.Is(err, ErrNotModified) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil, err
		}

		var fe *FetchError
		if errors.As(err, &fe) {
			// An expired session gets one refresh before giving up.
			if fe.Status == http.StatusUnauthorized && opts.Auth != nil && opts.Auth.CanRefresh() && !authRetried {
				if rerr := opts.Auth.RefreshNow(ctx); rerr == nil {
					authRetried = true
					attempt--

					continue
				}
			}

			if _, retryable := retryStatuses[fe.Status]; !retryable {
				return nil, err
			}
		}

		if attempt == retries {
			break
		}

		delay := backoff(attempt, retryAfterHint(err))

		c.log.Debug().
			Str(fieldURL, rawURL).
			Int(fieldAttempt, attempt+1).
			Dur(fieldRetryAfter, delay).
			Msg("Retrying fetch")

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(delay):
		}
	}

	return nil, lastErr
}

func (c *Client) do(ctx context.Context, rawURL string, opts Options) (*Response, error) {
	reqCtx, cancel := context.WithTimeout(ctx, opts.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}

	ua := opts.UserAgent
	if ua == "" {
		ua = DefaultUserAgent
	}

	setBrowserHeaders(req, ua)

	for k, v := range opts.Headers {
		req.Header.Set(k, v)
	}

	if opts.Auth != nil {
		opts.Auth.Apply(req)
	}

	if opts.Conditional != nil {
		if opts.Conditional.ETag != "" {
			req.Header.Set("If-None-Match", opts.Conditional.ETag)
		}

		if opts.Conditional.LastModified != "" {
			req.Header.Set("If-Modified-Since", opts.Conditional.LastModified)
		}
	}

	start := time.Now()

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request %s: %w", rawURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotModified {
		return nil, ErrNotModified
	}

	body, err := decodeBody(resp)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &FetchError{
			URL:        rawURL,
			Status:     resp.StatusCode,
			Body:       body,
			RetryAfter: ParseRetryAfter(resp.Header.Get("Retry-After")),
		}
	}

	return &Response{
		URL:        resp.Request.URL.String(),
		Status:     resp.StatusCode,
		Body:       body,
		Header:     resp.Header,
		FetchedVia: ua,
		Elapsed:    time.Since(start),
	}, nil
}

// setBrowserHeaders shapes the request like a real navigation so basic
// bot filters stay quiet.
func setBrowserHeaders(req *http.Request, ua string) {
	req.Header.Set("User-Agent", ua)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,image/avif,image/webp,*/*;q=0.8")
	req.Header.Set("Accept-Language", "en-US,en;q=0.9")
	req.Header.Set("DNT", "1")
	req.Header.Set("Upgrade-Insecure-Requests", "1")
	req.Header.Set("Sec-Fetch-Dest", "document")
	req.Header.Set("Sec-Fetch-Mode", "navigate")
	req.Header.Set("Sec-Fetch-Site", "none")
	req.Header.Set("Sec-Fetch-User", "?1")
	req.Header.Set("Cache-Control", "max-age=0")
}

// decodeBody converts the response to UTF-8 based on the declared
// charset, replacing undecodable bytes rather than failing. The standard
// transport already transparently handles gzip.
func decodeBody(resp *http.Response) (string, error) {
	if enc := resp.Header.Get("Content-Encoding"); enc != "" && enc != "identity" && enc != "gzip" {
		return "", fmt.Errorf("%w: %s", ErrUnsupportedBody, enc)
	}

	reader, err := charset.NewReader(io.LimitReader(resp.Body, maxBodyBytes), resp.Header.Get("Content-Type"))
	if err != nil {
		reader = io.LimitReader(resp.Body, maxBodyBytes)
	}

	data, err := io.ReadAll(reader)
	if err != nil {
		return "", fmt.Errorf("read body: %w", err)
	}

	return string(data), nil
}

// backoff returns max(retryAfter, 2^attempt seconds) plus up to a second
// of jitter.
func backoff(attempt int, retryAfter time.Duration) time.Duration {
	base := time.Duration(1<<uint(attempt)) * time.Second
	if retryAfter > base {
		base = retryAfter
	}

	return base + time.Duration(rand.Int63n(int64(time.Second)))
}

// retryAfterHint returns the server's Retry-After wish when the failure
// carried one.
func retryAfterHint(err error) time.Duration {
	var fe *FetchError
	if errors.As(err, &fe) {
		return fe.RetryAfter
	}

	return 0
}

// ParseRetryAfter interprets a Retry-After header value as a duration.
func ParseRetryAfter(value string) time.Duration {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0
	}

	if secs, err := strconv.Atoi(value); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}

	if t, err := http.ParseTime(value); err == nil {
		if d := time.Until(t); d > 0 {
			return d
		}
	}

	return 0
}
