package gemini

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalizeLRCTimestamps(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"already canonical", "[01:23.45] line", "[01:23.45] line"},
		{"single digit fraction", "[1:2.3] line", "[01:02.30] line"},
		{"colon separator", "[01:23:45] line", "[01:23.45] line"},
		{"millisecond fraction truncated", "[01:23.456] line", "[01:23.45] line"},
		{"no timestamps untouched", "[Chorus]\nplain line", "[Chorus]\nplain line"},
		{
			"multiple per string",
			"[0:1.5] one\n[2:3.9] two",
			"[00:01.50] one\n[02:03.90] two",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, NormalizeLRCTimestamps(tt.input))
		})
	}
}
