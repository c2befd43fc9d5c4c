package crawler

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNormalizeURL(t *testing.T) {
	t.Parallel()

	cases := map[string]string{
		"HTTPS://Example.COM:443/a?b=2&a=1#frag": "https://example.com/a?a=1&b=2",
		"http://example.com:80/":                 "http://example.com/",
		"http://example.com:8080/x":              "http://example.com:8080/x",
	}
	for in, want := range cases {
		got, err := NormalizeURL(in)
		require.NoError(t, err, in)
		require.Equal(t, want, got, in)
	}
	_, err := NormalizeURL("http://[::1")
	require.Error(t, err)
}

func TestResolveLink(t *testing.T) {
	t.Parallel()

	got, err := ResolveLink("https://s.test/news/page1", "page2")
	require.NoError(t, err)
	require.Equal(t, "https://s.test/news/page2", got)

	got, err = ResolveLink("https://s.test/news/page1", "  /archive?p=2 ")
	require.NoError(t, err)
	require.Equal(t, "https://s.test/archive?p=2", got)

	got, err = ResolveLink("https://s.test/", "http://other.test/x")
	require.NoError(t, err)
	require.Equal(t, "http://other.test/x", got)

	for _, bad := range []string{"", "   ", "javascript:void(0)", "mailto:a@b.c", "http://[::1", "http:///nohost"} {
		_, err := ResolveLink("https://s.test/", bad)
		require.Error(t, err, bad)
	}
}

func TestOrigin(t *testing.T) {
	t.Parallel()

	require.Equal(t, "https://s.test", Origin("https://s.test/a/b?c=d"))
	require.Equal(t, "not a url", Origin("not a url"))
}
