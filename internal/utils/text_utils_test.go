package utils

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

func TestLimitChars(t *testing.T) {
	tp := NewTextProcessor(zap.NewNop())

	tests := []struct {
		name string
		in   string
		max  int
		want string
	}{
		{name: "under limit", in: "hello", max: 10, want: "hello"},
		{name: "exact limit", in: "hello", max: 5, want: "hello"},
		{name: "over limit", in: "hello world", max: 5, want: "hello"},
		{name: "multibyte", in: "héllo wörld", max: 7, want: "héllo w"},
		{name: "disabled", in: "hello", max: 0, want: "hello"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tp.LimitChars(tt.in, tt.max))
		})
	}
}

func TestLimitCharsCountsRunes(t *testing.T) {
	tp := NewTextProcessor(nil)
	in := strings.Repeat("ü", 6000)

	out := tp.LimitChars(in, 5000)

	assert.Equal(t, 5000, utf8.RuneCountInString(out))
	assert.True(t, utf8.ValidString(out))
}

func TestTruncateTextKeepsValidUTF8(t *testing.T) {
	tp := NewTextProcessor(zap.NewNop())

	out := tp.TruncateText("aé", 2)

	assert.True(t, utf8.ValidString(out))
	assert.True(t, strings.HasPrefix(out, "a\n[..."))
}

func TestSanitizeUTF8(t *testing.T) {
	tp := NewTextProcessor(zap.NewNop())

	assert.Equal(t, "ok", tp.SanitizeUTF8("ok"))
	assert.Equal(t, "ab", tp.SanitizeUTF8("a\xffb"))
}

func TestCollapseWhitespace(t *testing.T) {
	assert.Equal(t, "a b c", CollapseWhitespace("  a \n\t b   c  "))
	assert.Equal(t, "", CollapseWhitespace(" \n "))
}

func TestSenderDomain(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{in: "alerts@company.com", want: "company.com"},
		{in: "Sales Team <Sales@Store.com>", want: "store.com"},
		{in: "\"Weird, Name\" <a@b.org>", want: "b.org"},
		{in: "broken <x@y.io", want: "y.io"},
		{in: "nodomain", want: "nodomain"},
		{in: "", want: ""},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, SenderDomain(tt.in))
		})
	}
}

func TestUnmarshalModelJSON(t *testing.T) {
	var out struct {
		Category string `json:"category"`
	}

	assert.NoError(t, UnmarshalModelJSON(`{"category":"urgent"}`, &out))
	assert.Equal(t, "urgent", out.Category)

	assert.NoError(t, UnmarshalModelJSON("Sure:\n```json\n{\"category\":\"spam\"}\n```", &out))
	assert.Equal(t, "spam", out.Category)

	assert.Error(t, UnmarshalModelJSON("no json here", &out))
}
