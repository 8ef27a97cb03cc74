package utils

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCleanText(t *testing.T) {
	cases := []struct {
		name string
		in   string
		want string
	}{
		{"no urls", "  GME to the moon  ", "GME to the moon"},
		{"https url", "see https://example.com/dd?x=1 for details", "see  for details"},
		{"http url at end", "chart http://imgur.com/abc", "chart"},
		{"only url", "https://reddit.com", ""},
		{"empty", "", ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, CleanText(tc.in))
		})
	}
}

func TestSnippet(t *testing.T) {
	assert.Equal(t, "abc", Snippet("abc", 100))
	assert.Equal(t, "ab", Snippet("abcdef", 2))
	assert.Equal(t, "日本", Snippet("日本語", 2))
	assert.Equal(t, "", Snippet("abc", 0))
}
