package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestSanitizeSite(t *testing.T) {
	testCases := []struct {
		name     string
		input    string
		expected string
	}{
		{"standard http", "http://example.com/path", "example.com"},
		{"standard https", "https://Example.com/path", "example.com"},
		{"no scheme", "example.com/path", "example.com"},
		{"host with port", "example.com:8080", "example.com"},
		{"invalid url", "http://%", "unknown"},
		{"empty string", "", "unknown"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			require.Equal(t, tc.expected, SanitizeSite(tc.input))
		})
	}
}

func TestObserveHelpers(t *testing.T) {
	Init()
	Init()

	before := testutil.ToFloat64(fetchAttemptsTotal.WithLabelValues(OutcomeHTTPError))
	ObserveFetchAttempt(OutcomeHTTPError)
	require.Equal(t, before+1, testutil.ToFloat64(fetchAttemptsTotal.WithLabelValues(OutcomeHTTPError)))

	beforeBytes := testutil.ToFloat64(bytesFetchedTotal.WithLabelValues("news.example"))
	ObservePage("https://News.example/a", 512)
	require.Equal(t, beforeBytes+512, testutil.ToFloat64(bytesFetchedTotal.WithLabelValues("news.example")))

	beforeJobs := testutil.ToFloat64(jobsTotal.WithLabelValues("completed"))
	ObserveJob("completed", 2*time.Second)
	require.Equal(t, beforeJobs+1, testutil.ToFloat64(jobsTotal.WithLabelValues("completed")))

	IncActiveWorkers()
	DecActiveWorkers()
	ObserveProxyBlacklist()
	ObserveDocumentCreated()
	ObserveRateLimitDelay("example.com", 150*time.Millisecond)
	require.Positive(t, testutil.CollectAndCount(rateLimitDelaysSeconds))
}

func TestMiddleware(t *testing.T) {
	Init()
	r := chi.NewRouter()
	r.Use(Middleware)
	r.Get("/jobs/{id}", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})

	before := testutil.ToFloat64(httpRequestsTotal.WithLabelValues("GET", "404"))
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/jobs/abc", nil))
	require.Equal(t, http.StatusNotFound, rec.Code)
	require.Equal(t, before+1, testutil.ToFloat64(httpRequestsTotal.WithLabelValues("GET", "404")))
	require.Positive(t, testutil.CollectAndCount(httpRequestDurationSeconds))
}

func FuzzSanitizeSite(f *testing.F) {
	for _, tc := range []string{"http://example.com", "https://google.com", "ftp://example.com"} {
		f.Add(tc)
	}
	f.Fuzz(func(t *testing.T, orig string) {
		if SanitizeSite(orig) == "" {
			t.Errorf("SanitizeSite(%q) returned an empty string", orig)
		}
	})
}
