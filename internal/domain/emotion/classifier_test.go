package emotion

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name     string
		text     string
		expected Label
	}{
		{
			name:     "single positive keyword",
			text:     "今日は楽しい一日でした",
			expected: Positive,
		},
		{
			name:     "multiple positive keywords",
			text:     "最高に嬉しい、幸せな気分",
			expected: Positive,
		},
		{
			name:     "single negative keyword",
			text:     "とても悲しい知らせがあった",
			expected: Negative,
		},
		{
			name:     "multiple negative keywords",
			text:     "寂しいし辛い夜だった",
			expected: Negative,
		},
		{
			name:     "mixed equal counts cancel out",
			text:     "楽しいこともあったが悲しいこともあった",
			expected: Neutral,
		},
		{
			name:     "zero score with calming keyword",
			text:     "海を眺めると落ち着く",
			expected: Calm,
		},
		{
			name:     "zero score, calm loses to nonzero score",
			text:     "穏やかだけど嬉しい",
			expected: Positive,
		},
		{
			name:     "no keywords at all",
			text:     "今日は会議が三件あった",
			expected: Neutral,
		},
		{
			name:     "empty string",
			text:     "",
			expected: Neutral,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, Classify(tt.text))
		})
	}
}

func TestClassify_SubstringNotWordBoundary(t *testing.T) {
	// Matching is substring presence, so a keyword embedded in a longer
	// phrase still counts.
	assert.Equal(t, Positive, Classify("あの映画が好きすぎる"))
}
