// Package catalog holds the built-in practice items.
package catalog

import (
	_ "embed"
	"fmt"

	"github.com/BurntSushi/toml"

	"github.com/windfall/pronunciation_service/internal/model"
)

//go:embed catalog.toml
var builtin []byte

// Category is a titled list of items.
type Category struct {
	Title string               `toml:"title" json:"title"`
	Items []model.PracticeItem `toml:"items" json:"items"`
}

// Group is a titled set of categories, e.g. "Vowels (元音)".
type Group struct {
	Title      string     `toml:"title" json:"title"`
	Categories []Category `toml:"categories" json:"categories"`
}

// Catalog is the full set of practice items by level.
type Catalog struct {
	Phonemes  []Group              `toml:"phonemes" json:"phonemes"`
	Words     []model.PracticeItem `toml:"words" json:"words"`
	Phrases   []model.PracticeItem `toml:"phrases" json:"phrases"`
	Sentences []model.PracticeItem `toml:"sentences" json:"sentences"`
}

// Default returns the embedded catalog.
func Default() (*Catalog, error) {
	return Parse(builtin)
}

// Parse decodes a catalog from TOML.
func Parse(data []byte) (*Catalog, error) {
	var c Catalog
	md, err := toml.Decode(string(data), &c)
	if err != nil {
		return nil, fmt.Errorf("failed to parse catalog: %w", err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		return nil, fmt.Errorf("unknown catalog keys: %v", undecoded)
	}
	return &c, nil
}

// Categories returns the category titles for a level. Only phonemes are
// categorized.
func (c *Catalog) Categories(level model.PracticeLevel) []string {
	if level != model.LevelPhonemes {
		return nil
	}
	var titles []string
	for _, g := range c.Phonemes {
		for _, cat := range g.Categories {
			titles = append(titles, cat.Title)
		}
	}
	return titles
}

// Items returns the items of a level. For phonemes an empty category
// selects every phoneme; other levels ignore category.
func (c *Catalog) Items(level model.PracticeLevel, category string) ([]model.PracticeItem, error) {
	switch level {
	case model.LevelPhonemes:
		var items []model.PracticeItem
		for _, g := range c.Phonemes {
			for _, cat := range g.Categories {
				if category == "" || cat.Title == category {
					items = append(items, cat.Items...)
				}
			}
		}
		if len(items) == 0 {
			return nil, fmt.Errorf("unknown phoneme category %q", category)
		}
		return items, nil
	case model.LevelWords:
		return c.Words, nil
	case model.LevelPhrases:
		return c.Phrases, nil
	case model.LevelSentences:
		return c.Sentences, nil
	default:
		return nil, fmt.Errorf("unknown practice level %q", level)
	}
}
