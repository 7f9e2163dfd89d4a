package model

import (
	"fmt"
	"strings"
)

// PracticeLevel selects an item collection and its reference-text rule.
type PracticeLevel string

const (
	LevelPhonemes  PracticeLevel = "phonemes"
	LevelWords     PracticeLevel = "words"
	LevelPhrases   PracticeLevel = "phrases"
	LevelSentences PracticeLevel = "sentences"
)

// Levels lists every level in display order.
var Levels = []PracticeLevel{LevelPhonemes, LevelWords, LevelPhrases, LevelSentences}

// ParseLevel parses a level name case-insensitively.
func ParseLevel(s string) (PracticeLevel, error) {
	l := PracticeLevel(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range Levels {
		if l == known {
			return l, nil
		}
	}
	return "", fmt.Errorf("unknown practice level %q", s)
}

// PracticeItem is an immutable drill datum.
type PracticeItem struct {
	Text          string `toml:"text" json:"text"`
	IPA           string `toml:"ipa" json:"ipa,omitempty"`
	ExampleWord   string `toml:"example_word" json:"exampleWord,omitempty"`
	SpeakableText string `toml:"speakable_text" json:"speakableText,omitempty"`
}

// ReferenceText is the string the learner is expected to say. Phonemes
// are spoken through their example word.
func (i PracticeItem) ReferenceText(level PracticeLevel) string {
	if level == LevelPhonemes && i.ExampleWord != "" {
		return i.ExampleWord
	}
	return i.Text
}

// SpeechText is the text sent to TTS for reference audio.
func (i PracticeItem) SpeechText() string {
	switch {
	case i.SpeakableText != "":
		return i.SpeakableText
	case i.ExampleWord != "":
		return i.ExampleWord
	default:
		return i.Text
	}
}
