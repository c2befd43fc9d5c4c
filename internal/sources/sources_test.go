package sources

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/crawl-ingest/internal/crawler"
)

const sample = `
sources:
  - id: irna
    name: IRNA
    base_url: https://www.irna.ir
    priority: 1
    selectors:
      content: ".item-text p"
      title: "h1.title"
      next_page: "a.next"
    headers:
      Referer: https://www.irna.ir
  - id: isna
    base_url: https://www.isna.ir
    status: inactive
`

func TestParse(t *testing.T) {
	t.Parallel()

	got, err := Parse(strings.NewReader(sample))
	require.NoError(t, err)
	require.Len(t, got, 2)

	require.Equal(t, "IRNA", got[0].Name)
	require.Equal(t, ".item-text p", got[0].Selectors.Content)
	require.Equal(t, "a.next", got[0].Selectors.NextPage)
	require.Equal(t, "https://www.irna.ir", got[0].Headers["Referer"])
	require.Equal(t, 1, got[0].Priority)

	require.Equal(t, "isna", got[1].Name)
	require.Equal(t, crawler.SourceStatusInactive, got[1].Status)
}

func TestParseEmpty(t *testing.T) {
	t.Parallel()

	got, err := Parse(strings.NewReader(""))
	require.NoError(t, err)
	require.Empty(t, got)
}

func TestParseRejects(t *testing.T) {
	t.Parallel()

	tests := map[string]string{
		"missing id":    "sources:\n  - base_url: https://a\n",
		"missing url":   "sources:\n  - id: a\n",
		"duplicate id":  "sources:\n  - id: a\n    base_url: https://a\n  - id: a\n    base_url: https://b\n",
		"unknown key":   "sources:\n  - id: a\n    base_url: https://a\n    colour: red\n",
		"unknown state": "sources:\n  - id: a\n    base_url: https://a\n    status: paused\n",
	}
	for name, doc := range tests {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			_, err := Parse(strings.NewReader(doc))
			require.Error(t, err)
		})
	}
}

func TestLoad(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "sources.yaml")
	require.NoError(t, os.WriteFile(path, []byte(sample), 0o600))

	got, err := Load(path)
	require.NoError(t, err)
	require.Len(t, got, 2)

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}
