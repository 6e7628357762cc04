package music

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"koemuse-server/internal/domain/emotion"
)

func TestBuildInstruction(t *testing.T) {
	tests := []struct {
		name  string
		label emotion.Label
		want  string
	}{
		{"positive", emotion.Positive, moodPositive},
		{"negative", emotion.Negative, moodNegative},
		{"calm", emotion.Calm, moodCalm},
		{"neutral", emotion.Neutral, moodDefault},
		{"unknown label", emotion.Label("surprised"), moodDefault},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := BuildInstruction("今日は楽しい", tt.label)
			assert.Contains(t, got, "Generate instrumental music based on this description: '今日は楽しい'. ")
			assert.Contains(t, got, tt.want)
		})
	}
}
