package emotion

import "strings"

// Label is one of the closed set of emotion labels produced by the
// classifier.
type Label string

const (
	Positive Label = "positive"
	Negative Label = "negative"
	Calm     Label = "calm"
	Neutral  Label = "neutral"
)

// Keyword lists are fixed and Japanese; matching is plain substring
// presence, one point per list entry.
var (
	positiveKeywords = []string{"楽しい", "嬉しい", "幸せ", "最高", "素晴らしい", "好き", "良い"}
	negativeKeywords = []string{"悲しい", "寂しい", "辛い", "嫌い", "悪い", "怒り"}
	calmKeywords     = []string{"穏やか", "落ち着く"}
)

// Classify scores text against the keyword lists. A positive score wins,
// a negative score loses, and a zero score falls back to calm when a
// calming keyword is present, neutral otherwise.
func Classify(text string) Label {
	score := 0
	for _, keyword := range positiveKeywords {
		if strings.Contains(text, keyword) {
			score++
		}
	}
	for _, keyword := range negativeKeywords {
		if strings.Contains(text, keyword) {
			score--
		}
	}

	switch {
	case score > 0:
		return Positive
	case score < 0:
		return Negative
	}

	for _, keyword := range calmKeywords {
		if strings.Contains(text, keyword) {
			return Calm
		}
	}
	return Neutral
}
