package utils

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStringHelper_NormalizeWhitespace(t *testing.T) {
	s := NewStringHelper()

	assert.Equal(t, "a b c", s.NormalizeWhitespace("  a \t b\n\nc "))
	assert.Equal(t, "", s.NormalizeWhitespace(" \n "))
}

func TestStringHelper_TruncateString(t *testing.T) {
	s := NewStringHelper()

	assert.Equal(t, "short", s.TruncateString("short", 10))
	assert.Equal(t, "abc...", s.TruncateString("abcdef", 3))
	assert.Equal(t, "äöü...", s.TruncateString("äöüß", 3))
	assert.Equal(t, "abc", s.TruncateString("abc", 0))
}

func TestStringHelper_JoinNonEmpty(t *testing.T) {
	s := NewStringHelper()

	assert.Equal(t, "a b", s.JoinNonEmpty(" ", "a", "", "  ", "b"))
}

func TestHTTPHelper_IsValidURL(t *testing.T) {
	h := NewHTTPHelper()

	tests := []struct {
		raw  string
		want bool
	}{
		{"https://www.gov.uk/apply-uk-visa", true},
		{"http://localhost:8080/x", true},
		{"ftp://example.com", false},
		{"/relative/path", false},
		{"://bad", false},
	}

	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			assert.Equal(t, tt.want, h.IsValidURL(tt.raw))
		})
	}
}

func TestHTTPHelper_BuildHeaders(t *testing.T) {
	h := NewHTTPHelper()

	headers := h.BuildHeaders(map[string]string{"Accept-Language": "en"})

	assert.Equal(t, DefaultUserAgent, headers.Get("User-Agent"))
	assert.Equal(t, "en", headers.Get("Accept-Language"))
}
