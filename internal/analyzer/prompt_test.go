package analyzer

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"

	"github.com/dshills/compliancebot/internal/compliance"
)

func TestTruncate(t *testing.T) {
	tests := []struct {
		name string
		in   string
		max  int
		want string
	}{
		{"no limit", "héllo", 0, "héllo"},
		{"short", "abc", 10, "abc"},
		{"ascii", "abcdef", 4, "abcd"},
		{"rune boundary", "aé", 3, "aé"},
		{"inside rune", "aé", 2, "a"},
		{"inside wide rune", "ab日本", 4, "ab"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, truncate(tt.in, tt.max))
		})
	}
}

func TestBuildAnalysisPrompt_TruncatesOnRuneBoundary(t *testing.T) {
	content := strings.Repeat("a", 1999) + "日本語"
	prompt := BuildAnalysisPrompt([]compliance.ChangedFile{
		{Filename: "i18n.go", Status: compliance.FileAdded, Content: content},
	}, nil, nil, 2000)

	assert.True(t, utf8.ValidString(prompt))
	assert.NotContains(t, prompt, "日")
	assert.Contains(t, prompt, strings.Repeat("a", 1999)+"\n```")
}
