package utils

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

func TestTruncateTextRespectsRuneBoundary(t *testing.T) {
	tp := NewTextProcessor(zap.NewNop())

	// 3-byte runes, cut mid-rune
	text := strings.Repeat("€", 10)
	out := tp.TruncateText(text, 7)
	assert.True(t, strings.HasPrefix(out, "€€"))
	assert.Contains(t, out, "Content truncated")

	assert.Equal(t, "short", tp.TruncateText("short", 100))
	assert.Equal(t, "nolimit", tp.TruncateText("nolimit", 0))
}

func TestSanitizeUTF8(t *testing.T) {
	tp := NewTextProcessor(zap.NewNop())

	assert.Equal(t, "clean", tp.SanitizeUTF8("clean"))

	// decomposed e + combining acute normalizes to the precomposed form
	assert.Equal(t, "café", tp.SanitizeUTF8("café"))

	out := tp.SanitizeUTF8("bad\xffbyte")
	assert.Equal(t, "badbyte", out)
}
