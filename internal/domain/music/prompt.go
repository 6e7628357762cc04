package music

import (
	"fmt"

	"koemuse-server/internal/domain/emotion"
)

// Mood guidance appended to the base instruction, keyed by emotion label.
// Anything outside the known labels gets the default block.
const (
	moodPositive = "It should be joyful, uplifting, and lively, suitable for a happy cultural festival."
	moodNegative = "It should evoke a contemplative or slightly melancholic mood, but with a hopeful undertone, suitable for a reflective cultural festival moment."
	moodCalm     = "It should be peaceful, serene, and calming, suitable for a relaxing cultural festival atmosphere."
	moodDefault  = "Make it suitable for a cultural festival with a general positive and energetic vibe."
)

// BuildInstruction composes the text prompt for the music endpoint from
// the transcribed text plus mood guidance for the detected emotion.
func BuildInstruction(text string, label emotion.Label) string {
	base := fmt.Sprintf("Generate instrumental music based on this description: '%s'. ", text)
	switch label {
	case emotion.Positive:
		return base + moodPositive
	case emotion.Negative:
		return base + moodNegative
	case emotion.Calm:
		return base + moodCalm
	default:
		return base + moodDefault
	}
}
