package fetcher

import (
	"context"
	"io"
	"net/http"
	"net/url"
	"os"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/sells-group/geo-events/internal/resilience"
)

// DefaultUserAgent identifies downloads when Options.UserAgent is empty.
const DefaultUserAgent = "geo-events/1.0"

// HTTPOptions configures the HTTP fetcher.
type HTTPOptions struct {
	UserAgent string
	// Timeout bounds the wait for response headers. Reading the body is
	// bounded only by the caller's context, since datasets can be large.
	Timeout           time.Duration
	MaxRetries        int
	RequestsPerSecond float64

	// Backoff is the delay before the first retry. Zero uses the retry
	// policy default.
	Backoff time.Duration
}

// AdaptiveLimiter wraps a rate.Limiter that speeds up on success and slows
// down when the server answers 429. The rate stays within [initial/4, 2*initial].
type AdaptiveLimiter struct {
	mu      sync.Mutex
	limiter *rate.Limiter
	current rate.Limit
	min     rate.Limit
	max     rate.Limit
}

// NewAdaptiveLimiter starts at initial events per second.
func NewAdaptiveLimiter(initial rate.Limit, burst int) *AdaptiveLimiter {
	return &AdaptiveLimiter{
		limiter: rate.NewLimiter(initial, burst),
		current: initial,
		min:     initial / 4,
		max:     initial * 2,
	}
}

// Wait blocks until a request may proceed.
func (a *AdaptiveLimiter) Wait(ctx context.Context) error {
	return a.limiter.Wait(ctx)
}

// OnSuccess raises the rate by 20%.
func (a *AdaptiveLimiter) OnSuccess() {
	a.set(a.Limit() * 1.2)
}

// OnRateLimit halves the rate.
func (a *AdaptiveLimiter) OnRateLimit() {
	a.set(a.Limit() * 0.5)
}

func (a *AdaptiveLimiter) set(r rate.Limit) {
	a.mu.Lock()
	defer a.mu.Unlock()
	r = max(min(r, a.max), a.min)
	a.current = r
	a.limiter.SetLimit(r)
}

// Limit returns the current rate.
func (a *AdaptiveLimiter) Limit() rate.Limit {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.current
}

// HTTPFetcher downloads over HTTP(S) with per-host rate limiting and
// retries on transient statuses and network errors.
type HTTPFetcher struct {
	client *http.Client
	opts   HTTPOptions
	policy resilience.Policy

	mu       sync.Mutex
	limiters map[string]*AdaptiveLimiter
}

// NewHTTPFetcher applies defaults to opts.
func NewHTTPFetcher(opts HTTPOptions) *HTTPFetcher {
	if opts.Timeout == 0 {
		opts.Timeout = 60 * time.Second
	}
	if opts.MaxRetries == 0 {
		opts.MaxRetries = 3
	}
	if opts.UserAgent == "" {
		opts.UserAgent = DefaultUserAgent
	}
	if opts.RequestsPerSecond <= 0 {
		opts.RequestsPerSecond = 5
	}

	policy := resilience.DefaultPolicy().WithAttempts(opts.MaxRetries)
	policy.Operation = "http download"
	if opts.Backoff > 0 {
		policy.Initial = opts.Backoff
		policy.Max = 10 * opts.Backoff
	}

	return &HTTPFetcher{
		client: &http.Client{
			Transport: &http.Transport{
				Proxy:                 http.ProxyFromEnvironment,
				TLSHandshakeTimeout:   opts.Timeout,
				ResponseHeaderTimeout: opts.Timeout,
				MaxIdleConnsPerHost:   4,
				IdleConnTimeout:       90 * time.Second,
			},
		},
		opts:     opts,
		policy:   policy,
		limiters: make(map[string]*AdaptiveLimiter),
	}
}

func (f *HTTPFetcher) limiterFor(host string) *AdaptiveLimiter {
	f.mu.Lock()
	defer f.mu.Unlock()
	lim, ok := f.limiters[host]
	if !ok {
		burst := max(1, int(f.opts.RequestsPerSecond))
		lim = NewAdaptiveLimiter(rate.Limit(f.opts.RequestsPerSecond), burst)
		f.limiters[host] = lim
	}
	return lim
}

// Download fetches rawURL and returns the response body of a 200 answer.
func (f *HTTPFetcher) Download(ctx context.Context, rawURL string) (io.ReadCloser, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, eris.Wrap(err, "fetcher: parse url")
	}
	lim := f.limiterFor(u.Host)
	log := zap.L().With(zap.String("component", "fetcher"), zap.String("url", u.Redacted()))

	resp, err := resilience.RetryValue(ctx, f.policy, func(ctx context.Context) (*http.Response, error) {
		if err := lim.Wait(ctx); err != nil {
			return nil, eris.Wrap(err, "fetcher: rate limiter wait")
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
		if err != nil {
			return nil, eris.Wrap(err, "fetcher: create request")
		}
		req.Header.Set("User-Agent", f.opts.UserAgent)

		resp, err := f.client.Do(req)
		if err != nil {
			return nil, eris.Wrap(err, "fetcher: http get")
		}
		if resp.StatusCode == http.StatusOK {
			lim.OnSuccess()
			return resp, nil
		}

		_ = resp.Body.Close()
		if resp.StatusCode == http.StatusTooManyRequests {
			lim.OnRateLimit()
			log.Warn("rate limited, slowing down", zap.Float64("rate", float64(lim.Limit())))
		}
		statusErr := eris.Errorf("fetcher: unexpected status %d from %s", resp.StatusCode, u.Redacted())
		if resilience.IsTransientHTTPStatus(resp.StatusCode) {
			return nil, resilience.Transient(statusErr, resp.StatusCode)
		}
		return nil, statusErr
	})
	if err != nil {
		return nil, err
	}

	log.Debug("download started", zap.Int64("content_length", resp.ContentLength))
	return resp.Body, nil
}

// DownloadToFile fetches rawURL into path.
func (f *HTTPFetcher) DownloadToFile(ctx context.Context, rawURL string, path string) (int64, error) {
	return saveTo(ctx, f, rawURL, path)
}

// saveTo copies a download into a new file at path.
func saveTo(ctx context.Context, f Fetcher, location, path string) (int64, error) {
	body, err := f.Download(ctx, location)
	if err != nil {
		return 0, err
	}
	defer body.Close() //nolint:errcheck

	file, err := os.Create(path)
	if err != nil {
		return 0, eris.Wrap(err, "fetcher: create file")
	}
	defer file.Close() //nolint:errcheck

	n, err := io.Copy(file, body)
	if err != nil {
		return n, eris.Wrap(err, "fetcher: write file")
	}
	return n, nil
}
