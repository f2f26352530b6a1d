package sql

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
)

func TestTruncate(t *testing.T) {
	assert.Equal(t, "short", truncate("short", 10))
	assert.Equal(t, "abc", truncate("abcdef", 3))

	// three runes, nine bytes
	assert.Equal(t, "日本語", truncate("日本語", 3))
	assert.Equal(t, "日本", truncate("日本語テキスト", 2))

	ua := "Suspicious User-Agent: " + strings.Repeat("ж", 300)
	got := truncate(ua, 191)
	assert.True(t, utf8.ValidString(got))
	assert.Equal(t, 191, utf8.RuneCountInString(got))
}
