// Package collyfetcher implements crawler.Fetcher using gocolly, with
// rotating user agents, proxy injection and retry with linear backoff.
package collyfetcher

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gocolly/colly/v2"
	"go.uber.org/zap"

	"github.com/JakeFAU/crawl-ingest/internal/clock/system"
	"github.com/JakeFAU/crawl-ingest/internal/crawler"
	"github.com/JakeFAU/crawl-ingest/internal/metrics"
)

// Defaults applied by New.
const (
	DefaultTimeout        = 20 * time.Second
	DefaultBackoffBase    = 500 * time.Millisecond
	DefaultAttempts       = 3
	MaxAttempts           = 5
	DefaultAccept         = "text/html,application/xhtml+xml,application/xml;q=0.9,image/avif,image/webp,*/*;q=0.8"
	DefaultAcceptLanguage = "fa-IR,fa;q=0.9,en-US;q=0.8,en;q=0.7"
)

// DefaultUserAgents is the pool a random User-Agent is drawn from per attempt.
var DefaultUserAgents = []string{
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/126.0 Safari/537.36",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 13_5) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.0 Safari/605.1.15",
	"Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/126.0 Safari/537.36",
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64; rv:127.0) Gecko/20100101 Firefox/127.0",
}

// Config controls collector behavior.
type Config struct {
	Timeout        time.Duration
	BackoffBase    time.Duration
	AcceptLanguage string
	UserAgents     []string
}

// ProxySource hands out proxies and takes back the ones that failed.
type ProxySource interface {
	GetProxy() (string, bool)
	BlacklistProxy(endpoint string)
	Len() int
}

// Sleeper waits between attempts and gives up early when ctx ends.
type Sleeper interface {
	Sleep(ctx context.Context, d time.Duration) error
}

// Limiter enforces per-domain politeness before each attempt.
type Limiter interface {
	Wait(ctx context.Context, rawURL string) error
}

// StatusError reports a response outside [200, 400).
type StatusError struct {
	Code int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status %d", e.Code)
}

// Fetcher implements crawler.Fetcher.
type Fetcher struct {
	cfg     Config
	proxies ProxySource
	sleeper Sleeper
	limiter Limiter
	logger  *zap.Logger
	pick    func(n int) int

	mu         sync.Mutex
	direct     http.RoundTripper
	transports map[string]http.RoundTripper
}

// Option customizes a Fetcher.
type Option func(*Fetcher)

// WithProxies routes attempts through ps.
func WithProxies(ps ProxySource) Option {
	return func(f *Fetcher) { f.proxies = ps }
}

// WithSleeper replaces the backoff sleeper.
func WithSleeper(s Sleeper) Option {
	return func(f *Fetcher) {
		if s != nil {
			f.sleeper = s
		}
	}
}

// WithLimiter waits on l before every attempt.
func WithLimiter(l Limiter) Option {
	return func(f *Fetcher) { f.limiter = l }
}

// WithLogger attaches a logger for retry notices.
func WithLogger(logger *zap.Logger) Option {
	return func(f *Fetcher) {
		if logger != nil {
			f.logger = logger
		}
	}
}

// WithTransport replaces the transport used for direct (proxy-less) attempts.
func WithTransport(rt http.RoundTripper) Option {
	return func(f *Fetcher) {
		if rt != nil {
			f.direct = rt
		}
	}
}

// WithPicker replaces the random index source used for user agents.
func WithPicker(pick func(n int) int) Option {
	return func(f *Fetcher) {
		if pick != nil {
			f.pick = pick
		}
	}
}

// New builds a Fetcher.
func New(cfg Config, opts ...Option) *Fetcher {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.BackoffBase <= 0 {
		cfg.BackoffBase = DefaultBackoffBase
	}
	if cfg.AcceptLanguage == "" {
		cfg.AcceptLanguage = DefaultAcceptLanguage
	}
	if len(cfg.UserAgents) == 0 {
		cfg.UserAgents = DefaultUserAgents
	}
	f := &Fetcher{
		cfg:        cfg,
		sleeper:    system.New(),
		logger:     zap.NewNop(),
		pick:       rand.IntN,
		direct:     newHTTPTransport(nil),
		transports: make(map[string]http.RoundTripper),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// maxAttempts is the proxy count clamped to [1, MaxAttempts], or
// DefaultAttempts when no proxies are configured.
func (f *Fetcher) maxAttempts() int {
	n := 0
	if f.proxies != nil {
		n = f.proxies.Len()
	}
	if n == 0 {
		n = DefaultAttempts
	}
	return min(max(n, 1), MaxAttempts)
}

// Fetch GETs request.URL, retrying failed attempts through the next proxy.
// After the last failed attempt the most recent error is returned.
func (f *Fetcher) Fetch(ctx context.Context, request crawler.FetchRequest) (crawler.FetchResponse, error) {
	if strings.TrimSpace(request.URL) == "" {
		return crawler.FetchResponse{}, crawler.ErrEmptyURL
	}
	attempts := f.maxAttempts()
	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return crawler.FetchResponse{}, fmt.Errorf("fetch %s: %w", request.URL, err)
		}
		if f.limiter != nil {
			if err := f.limiter.Wait(ctx, request.URL); err != nil {
				return crawler.FetchResponse{}, fmt.Errorf("fetch %s: %w", request.URL, err)
			}
		}

		proxy, proxied := "", false
		if f.proxies != nil {
			proxy, proxied = f.proxies.GetProxy()
		}
		resp, err := f.attempt(ctx, request, proxy)
		if err == nil {
			metrics.ObserveFetchAttempt(metrics.OutcomeSuccess)
			resp.Attempts = attempt + 1
			return resp, nil
		}
		lastErr = err
		metrics.ObserveFetchAttempt(outcome(err))
		if ctx.Err() != nil {
			return crawler.FetchResponse{}, fmt.Errorf("fetch %s: %w", request.URL, err)
		}
		if proxied {
			f.proxies.BlacklistProxy(proxy)
			metrics.ObserveProxyBlacklist()
		}
		f.logger.Warn("fetch attempt failed",
			zap.String("url", request.URL),
			zap.Int("attempt", attempt+1),
			zap.Int("max_attempts", attempts),
			zap.Bool("proxied", proxied),
			zap.Error(err),
		)
		if attempt+1 < attempts {
			if err := f.sleeper.Sleep(ctx, f.cfg.BackoffBase*time.Duration(attempt+1)); err != nil {
				return crawler.FetchResponse{}, fmt.Errorf("fetch %s backoff: %w", request.URL, err)
			}
		}
	}
	return crawler.FetchResponse{}, fmt.Errorf("fetch %s failed after %d attempts: %w", request.URL, attempts, lastErr)
}

func outcome(err error) string {
	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		return metrics.OutcomeHTTPError
	}
	return metrics.OutcomeNetwork
}

func (f *Fetcher) attempt(ctx context.Context, request crawler.FetchRequest, proxy string) (crawler.FetchResponse, error) {
	transport, err := f.transportFor(proxy)
	if err != nil {
		return crawler.FetchResponse{}, err
	}
	var (
		result   crawler.FetchResponse
		fetchErr error
	)
	collector := colly.NewCollector(
		colly.AllowURLRevisit(),
		colly.ParseHTTPErrorResponse(),
		colly.UserAgent(f.userAgent()),
	)
	collector.SetRequestTimeout(f.cfg.Timeout)
	collector.WithTransport(transport)
	f.configureCollectorHooks(collector, request, time.Now(), &result, &fetchErr)

	if err := runCollector(ctx, collector, request.URL, &fetchErr); err != nil {
		return crawler.FetchResponse{}, err
	}
	if result.StatusCode < http.StatusOK || result.StatusCode >= http.StatusBadRequest {
		return crawler.FetchResponse{}, &StatusError{Code: result.StatusCode}
	}
	return result, nil
}

type collectorHooks interface {
	OnRequest(colly.RequestCallback)
	OnResponse(colly.ResponseCallback)
	OnError(colly.ErrorCallback)
}

func (f *Fetcher) configureCollectorHooks(
	hooks collectorHooks,
	request crawler.FetchRequest,
	start time.Time,
	result *crawler.FetchResponse,
	fetchErr *error,
) {
	hooks.OnRequest(func(r *colly.Request) {
		f.applyHeaders(request, r.Headers)
	})

	hooks.OnResponse(func(r *colly.Response) {
		body := append([]byte(nil), r.Body...)
		*result = crawler.FetchResponse{
			URL:        r.Request.URL.String(),
			StatusCode: r.StatusCode,
			Headers:    r.Headers.Clone(),
			Body:       body,
			Bytes:      len(body),
			Duration:   time.Since(start),
		}
	})

	hooks.OnError(func(r *colly.Response, err error) {
		if r != nil && r.StatusCode != 0 && err == nil {
			err = &StatusError{Code: r.StatusCode}
		}
		*fetchErr = err
	})
}

// applyHeaders layers the default headers, then the source's, then the
// caller's, so later layers win.
func (f *Fetcher) applyHeaders(request crawler.FetchRequest, h *http.Header) {
	h.Set("Accept", DefaultAccept)
	h.Set("Accept-Language", f.cfg.AcceptLanguage)
	for key, value := range request.SourceHeaders {
		h.Set(key, value)
	}
	for key, values := range request.Headers {
		h.Del(key)
		for _, v := range values {
			h.Add(key, v)
		}
	}
}

func (f *Fetcher) userAgent() string {
	return f.cfg.UserAgents[f.pick(len(f.cfg.UserAgents))]
}

func runCollector(ctx context.Context, collector *colly.Collector, target string, fetchErr *error) error {
	done := make(chan error, 1)
	go func() {
		done <- collector.Visit(target)
	}()

	select {
	case <-ctx.Done():
		return fmt.Errorf("colly fetch canceled: %w", ctx.Err())
	case err := <-done:
		if *fetchErr != nil {
			return fmt.Errorf("colly response failed: %w", *fetchErr)
		}
		if err != nil {
			return fmt.Errorf("colly visit failed: %w", err)
		}
		return nil
	}
}

// transportFor returns the shared transport for proxy, creating it on first
// use so connections to the same proxy are pooled.
func (f *Fetcher) transportFor(proxy string) (http.RoundTripper, error) {
	if proxy == "" {
		return f.direct, nil
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if rt, ok := f.transports[proxy]; ok {
		return rt, nil
	}
	proxyURL, err := parseProxy(proxy)
	if err != nil {
		return nil, err
	}
	rt := newHTTPTransport(http.ProxyURL(proxyURL))
	f.transports[proxy] = rt
	return rt, nil
}

func parseProxy(endpoint string) (*url.URL, error) {
	if !strings.Contains(endpoint, "://") {
		endpoint = "http://" + endpoint
	}
	u, err := url.Parse(endpoint)
	if err != nil {
		return nil, fmt.Errorf("parse proxy: %w", err)
	}
	if u.Host == "" {
		return nil, errors.New("parse proxy: missing host")
	}
	return u, nil
}

func newHTTPTransport(proxy func(*http.Request) (*url.URL, error)) *http.Transport {
	return &http.Transport{
		Proxy: proxy,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
	}
}
