package collyfetcher

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gocolly/colly/v2"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/crawl-ingest/internal/crawler"
	"github.com/JakeFAU/crawl-ingest/internal/proxy"
)

type recordingSleeper struct {
	mu    sync.Mutex
	waits []time.Duration
	err   error
}

func (s *recordingSleeper) Sleep(ctx context.Context, d time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.waits = append(s.waits, d)
	if s.err != nil {
		return s.err
	}
	return ctx.Err()
}

func (s *recordingSleeper) Waits() []time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]time.Duration(nil), s.waits...)
}

type stubProxies struct {
	mu          sync.Mutex
	endpoints   []string
	next        int
	blacklisted []string
}

func (s *stubProxies) GetProxy() (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.endpoints) == 0 {
		return "", false
	}
	p := s.endpoints[s.next%len(s.endpoints)]
	s.next++
	return p, true
}

func (s *stubProxies) BlacklistProxy(endpoint string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.blacklisted = append(s.blacklisted, endpoint)
}

func (s *stubProxies) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.endpoints)
}

func TestFetchSuccessSetsHeaders(t *testing.T) {
	t.Parallel()

	var seen atomic.Value
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen.Store(r.Header.Clone())
		_, _ = io.WriteString(w, "<html><body>ok</body></html>")
	}))
	defer srv.Close()

	sleeper := &recordingSleeper{}
	f := New(Config{}, WithSleeper(sleeper), WithPicker(func(int) int { return 2 }))
	resp, err := f.Fetch(context.Background(), crawler.FetchRequest{
		URL:           srv.URL,
		SourceHeaders: map[string]string{"X-Source": "src", "Accept-Language": "en"},
		Headers:       http.Header{"X-Source": {"call"}},
	})
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "<html><body>ok</body></html>", string(resp.Body))
	require.Equal(t, len(resp.Body), resp.Bytes)
	require.Equal(t, 1, resp.Attempts)
	require.Empty(t, sleeper.Waits())

	got, ok := seen.Load().(http.Header)
	require.True(t, ok)
	require.Equal(t, DefaultUserAgents[2], got.Get("User-Agent"))
	require.Equal(t, DefaultAccept, got.Get("Accept"))
	require.Equal(t, "en", got.Get("Accept-Language"), "source headers override defaults")
	require.Equal(t, "call", got.Get("X-Source"), "per-call headers override source headers")
}

func TestFetchRetriesDirectThenSucceeds(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = io.WriteString(w, "second time lucky")
	}))
	defer srv.Close()

	sleeper := &recordingSleeper{}
	f := New(Config{BackoffBase: 10 * time.Millisecond}, WithSleeper(sleeper))
	resp, err := f.Fetch(context.Background(), crawler.FetchRequest{URL: srv.URL})
	require.NoError(t, err)
	require.Equal(t, 2, resp.Attempts)
	require.Equal(t, "second time lucky", string(resp.Body))
	require.Equal(t, []time.Duration{10 * time.Millisecond}, sleeper.Waits())
}

func TestFetchExhaustsDirectAttempts(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	sleeper := &recordingSleeper{}
	f := New(Config{}, WithSleeper(sleeper))
	_, err := f.Fetch(context.Background(), crawler.FetchRequest{URL: srv.URL})
	require.Error(t, err)

	var statusErr *StatusError
	require.ErrorAs(t, err, &statusErr)
	require.Equal(t, http.StatusNotFound, statusErr.Code)
	require.EqualValues(t, DefaultAttempts, calls.Load())
	require.Equal(t, []time.Duration{500 * time.Millisecond, time.Second}, sleeper.Waits())
}

// newFailingProxy stands in for a forward proxy that cannot reach upstream.
func newFailingProxy(t *testing.T, hits *atomic.Int32) string {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	t.Cleanup(srv.Close)
	return srv.URL
}

func TestFetchBlacklistsEachFailedProxy(t *testing.T) {
	t.Parallel()

	var hits atomic.Int32
	endpoints := []string{
		newFailingProxy(t, &hits),
		newFailingProxy(t, &hits),
		newFailingProxy(t, &hits),
	}
	proxies := &stubProxies{endpoints: endpoints}
	sleeper := &recordingSleeper{}
	f := New(Config{}, WithProxies(proxies), WithSleeper(sleeper))

	_, err := f.Fetch(context.Background(), crawler.FetchRequest{URL: "http://target.invalid/page"})
	require.Error(t, err)
	require.EqualValues(t, 3, hits.Load())
	require.Equal(t, endpoints, proxies.blacklisted)
	require.Len(t, sleeper.Waits(), 2)
}

func TestFetchThroughProxy(t *testing.T) {
	t.Parallel()

	var seen atomic.Value
	proxySrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen.Store(r.URL.String())
		_, _ = io.WriteString(w, "proxied body")
	}))
	defer proxySrv.Close()

	rotator := proxy.NewRotator([]string{proxySrv.URL}, time.Minute)
	f := New(Config{}, WithProxies(rotator), WithSleeper(&recordingSleeper{}))
	resp, err := f.Fetch(context.Background(), crawler.FetchRequest{URL: "http://news.example/article/1"})
	require.NoError(t, err)
	require.Equal(t, "proxied body", string(resp.Body))
	require.Equal(t, "http://news.example/article/1", seen.Load())
	require.False(t, rotator.Blacklisted(proxySrv.URL))
}

func TestFetchAllProxiesBlacklistedFallsBackToDirect(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, "direct")
	}))
	defer srv.Close()

	rotator := proxy.NewRotator([]string{"http://parked.invalid:3128"}, time.Minute)
	rotator.BlacklistProxy("http://parked.invalid:3128")

	f := New(Config{}, WithProxies(rotator), WithSleeper(&recordingSleeper{}))
	resp, err := f.Fetch(context.Background(), crawler.FetchRequest{URL: srv.URL})
	require.NoError(t, err)
	require.Equal(t, "direct", string(resp.Body))
}

func TestFetchBackoffCancelled(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	sleeper := &recordingSleeper{err: context.Canceled}
	f := New(Config{}, WithSleeper(sleeper))
	_, err := f.Fetch(context.Background(), crawler.FetchRequest{URL: srv.URL})
	require.ErrorIs(t, err, context.Canceled)
	require.Len(t, sleeper.Waits(), 1)
}

func TestFetchContextAlreadyDone(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	f := New(Config{})
	_, err := f.Fetch(ctx, crawler.FetchRequest{URL: "http://example.invalid"})
	require.ErrorIs(t, err, context.Canceled)
}

func TestFetchEmptyURL(t *testing.T) {
	t.Parallel()

	_, err := New(Config{}).Fetch(context.Background(), crawler.FetchRequest{URL: "  "})
	require.ErrorIs(t, err, crawler.ErrEmptyURL)
}

type denyLimiter struct{}

func (denyLimiter) Wait(context.Context, string) error { return errors.New("limited") }

func TestFetchLimiterErrorStopsFetch(t *testing.T) {
	t.Parallel()

	f := New(Config{}, WithLimiter(denyLimiter{}))
	_, err := f.Fetch(context.Background(), crawler.FetchRequest{URL: "http://example.invalid"})
	require.ErrorContains(t, err, "limited")
}

func TestMaxAttempts(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		proxies ProxySource
		want    int
	}{
		{name: "no proxy source", want: 3},
		{name: "empty proxy list", proxies: &stubProxies{}, want: 3},
		{name: "one proxy", proxies: &stubProxies{endpoints: []string{"a"}}, want: 1},
		{name: "four proxies", proxies: &stubProxies{endpoints: []string{"a", "b", "c", "d"}}, want: 4},
		{name: "capped", proxies: &stubProxies{endpoints: make([]string, 9)}, want: 5},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			f := New(Config{})
			if tt.proxies != nil {
				f.proxies = tt.proxies
			}
			require.Equal(t, tt.want, f.maxAttempts())
		})
	}
}

func TestTransportForCachesPerProxy(t *testing.T) {
	t.Parallel()

	f := New(Config{})
	a1, err := f.transportFor("proxy.local:3128")
	require.NoError(t, err)
	a2, err := f.transportFor("proxy.local:3128")
	require.NoError(t, err)
	require.Same(t, a1, a2)

	direct, err := f.transportFor("")
	require.NoError(t, err)
	require.Same(t, f.direct, direct)

	_, err = f.transportFor("http://")
	require.Error(t, err)
}

type stubHooks struct {
	onRequest  colly.RequestCallback
	onResponse colly.ResponseCallback
	onError    colly.ErrorCallback
}

func (s *stubHooks) OnRequest(cb colly.RequestCallback)   { s.onRequest = cb }
func (s *stubHooks) OnResponse(cb colly.ResponseCallback) { s.onResponse = cb }
func (s *stubHooks) OnError(cb colly.ErrorCallback)       { s.onError = cb }

func TestConfigureCollectorHooks(t *testing.T) {
	t.Parallel()

	f := New(Config{AcceptLanguage: "de"})
	var result crawler.FetchResponse
	var fetchErr error
	hooks := &stubHooks{}
	f.configureCollectorHooks(hooks, crawler.FetchRequest{
		URL:     "https://example.com",
		Headers: http.Header{"X-Trace": {"yes"}},
	}, time.Now(), &result, &fetchErr)

	collyReq := &colly.Request{Headers: &http.Header{}}
	hooks.onRequest(collyReq)
	require.Equal(t, "yes", collyReq.Headers.Get("X-Trace"))
	require.Equal(t, "de", collyReq.Headers.Get("Accept-Language"))

	u, err := url.Parse("https://example.com")
	require.NoError(t, err)
	hooks.onResponse(&colly.Response{
		StatusCode: http.StatusCreated,
		Body:       []byte("body"),
		Headers:    &http.Header{"X-Resp": {"ok"}},
		Request:    &colly.Request{URL: u},
	})
	require.Equal(t, http.StatusCreated, result.StatusCode)
	require.Equal(t, 4, result.Bytes)
	require.Equal(t, "ok", result.Headers.Get("X-Resp"))

	hooks.onError(nil, errors.New("boom"))
	require.EqualError(t, fetchErr, "boom")
}
