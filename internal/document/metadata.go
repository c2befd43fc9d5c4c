package document

import (
	"encoding/json"
	"strconv"
	"time"
)

// Well-known metadata keys.
const (
	KeyChangeSummary       = "changeSummary"
	KeyURL                 = "url"
	KeySourceID            = "sourceId"
	KeyScrapedAt           = "scrapedAt"
	KeyExtractedDate       = "extractedDate"
	KeyBaseURL             = "baseUrl"
	KeyRevertedFromVersion = "revertedFromVersion"
	KeyRawURI              = "rawUri"
)

// Metadata is an open key/value map stored as JSON. The accessors read the
// well-known keys without the caller caring how the value was decoded.
type Metadata map[string]any

// Clone returns a shallow copy. A nil map clones to an empty one.
func (m Metadata) Clone() Metadata {
	out := make(Metadata, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// Merge returns a copy of m with every key of other laid over it.
func (m Metadata) Merge(other Metadata) Metadata {
	out := m.Clone()
	for k, v := range other {
		out[k] = v
	}
	return out
}

// String returns the value at key when it is a string.
func (m Metadata) String(key string) string {
	s, _ := m[key].(string)
	return s
}

// ChangeSummary returns the caller-supplied version note, if any.
func (m Metadata) ChangeSummary() string { return m.String(KeyChangeSummary) }

// URL returns the page URL a crawled document came from.
func (m Metadata) URL() string { return m.String(KeyURL) }

// SourceID returns the crawl source id.
func (m Metadata) SourceID() string { return m.String(KeySourceID) }

// BaseURL returns the crawl source base URL.
func (m Metadata) BaseURL() string { return m.String(KeyBaseURL) }

// ExtractedDate returns the raw date text pulled from the page.
func (m Metadata) ExtractedDate() string { return m.String(KeyExtractedDate) }

// RawURI returns where the raw page was archived.
func (m Metadata) RawURI() string { return m.String(KeyRawURI) }

// ScrapedAt parses the scrape timestamp.
func (m Metadata) ScrapedAt() (time.Time, bool) {
	switch v := m[KeyScrapedAt].(type) {
	case time.Time:
		return v, true
	case string:
		t, err := time.Parse(time.RFC3339Nano, v)
		if err != nil {
			return time.Time{}, false
		}
		return t, true
	}
	return time.Time{}, false
}

// RevertedFromVersion returns the version a revert restored.
func (m Metadata) RevertedFromVersion() (int, bool) {
	switch v := m[KeyRevertedFromVersion].(type) {
	case int:
		return v, true
	case int64:
		return int(v), true
	case float64:
		return int(v), true
	case json.Number:
		n, err := v.Int64()
		return int(n), err == nil
	case string:
		n, err := strconv.Atoi(v)
		return n, err == nil
	}
	return 0, false
}
