package parse

import (
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeURL_NilInput(t *testing.T) {
	assert.Equal(t, "", NormalizeURL(nil))
}

func TestNormalizeURL(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{"UppercaseSchemeHost", "HTTPS://WWW.Bible.COM/bible/1/GEN.1.KJV", "https://www.bible.com/bible/1/GEN.1.KJV"},
		{"HTTPSPort443Removed", "https://www.bible.com:443/versions", "https://www.bible.com/versions"},
		{"HTTPPort80Removed", "http://example.com:80/path", "http://example.com/path"},
		{"NonDefaultPortKept", "http://127.0.0.1:8080/path", "http://127.0.0.1:8080/path"},
		{"EmptyPathBecomesSlash", "http://example.com", "http://example.com/"},
		{"RootPathKept", "http://example.com/", "http://example.com/"},
		{"TrailingSlashRemoved", "http://example.com/versions/1-kjv/", "http://example.com/versions/1-kjv"},
		{"QueryAndFragmentRemoved", "http://example.com/page?q=test#section", "http://example.com/page"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			parsed, err := url.Parse(tt.input)
			require.NoError(t, err)
			assert.Equal(t, tt.expected, NormalizeURL(parsed))
		})
	}
}

func TestNormalizeURL_DoesNotModifyInput(t *testing.T) {
	parsed, _ := url.Parse("HTTP://EXAMPLE.COM:80/path/?q=test#section")
	before := *parsed

	_ = NormalizeURL(parsed)

	assert.Equal(t, before, *parsed)
}

func TestParseAndNormalize(t *testing.T) {
	got, parsed, err := ParseAndNormalize("  https://www.bible.com:443/bible/1/GEN.1.KJV?x=1 ")
	require.NoError(t, err)
	assert.NotNil(t, parsed)
	assert.Equal(t, "https://www.bible.com/bible/1/GEN.1.KJV", got)
}

func TestParseAndNormalize_InvalidURLs(t *testing.T) {
	for _, input := range []string{"", "example.com/path", "path/to/page", "://example.com"} {
		got, parsed, err := ParseAndNormalize(input)
		assert.Error(t, err, "input %q", input)
		assert.Empty(t, got)
		assert.Nil(t, parsed)
	}
}
