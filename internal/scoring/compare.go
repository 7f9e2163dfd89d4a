// Package scoring compares a transcript with its reference text and keeps
// LLM verdicts consistent with that comparison.
package scoring

import (
	"fmt"
	"math"
	"regexp"
	"strings"
	"unicode"
)

// Score ceilings and floors applied by Calibrate.
const (
	IdenticalFloor   = 91
	DifferenceCap    = 84
	SignificantCap   = 59
	significantRatio = 0.5
)

// Substitution is a reference word spoken as a different word.
type Substitution struct {
	Expected string
	Spoken   string
}

// Comparison is a word-level alignment of reference and transcript.
type Comparison struct {
	Reference     []string
	Transcript    []string
	Substitutions []Substitution
	Omissions     []string
	Insertions    []string
}

// Identical reports whether the transcript matches the reference word for word.
func (c Comparison) Identical() bool {
	return len(c.Substitutions) == 0 && len(c.Omissions) == 0 && len(c.Insertions) == 0
}

// Significant reports whether the transcript departs from the reference
// by more than near-miss substitutions on at most half of the words.
func (c Comparison) Significant() bool {
	if len(c.Reference) == 0 {
		return len(c.Insertions) > 0
	}
	major := len(c.Omissions) + len(c.Insertions)
	for _, s := range c.Substitutions {
		if !nearMiss(s.Expected, s.Spoken) {
			major++
		}
	}
	return float64(major)/float64(len(c.Reference)) > significantRatio
}

// vendor annotations such as "<|en|>" emitted by some ASR models
var tagPattern = regexp.MustCompile(`<\|[^|>]*\|>`)

// Tokenize lowercases text and splits it into words, dropping punctuation.
func Tokenize(text string) []string {
	text = tagPattern.ReplaceAllString(text, " ")
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !(unicode.IsLetter(r) || unicode.IsDigit(r) || r == '\'')
	})
}

// Compare aligns transcript against reference with a minimum edit script.
func Compare(reference, transcript string) Comparison {
	ref := Tokenize(reference)
	got := Tokenize(transcript)
	cmp := Comparison{Reference: ref, Transcript: got}

	// dist[i][j] is the edit distance between ref[i:] and got[j:].
	dist := make([][]int, len(ref)+1)
	for i := range dist {
		dist[i] = make([]int, len(got)+1)
	}
	for i := len(ref); i >= 0; i-- {
		for j := len(got); j >= 0; j-- {
			switch {
			case i == len(ref):
				dist[i][j] = len(got) - j
			case j == len(got):
				dist[i][j] = len(ref) - i
			case ref[i] == got[j]:
				dist[i][j] = dist[i+1][j+1]
			default:
				dist[i][j] = 1 + min(dist[i+1][j+1], dist[i+1][j], dist[i][j+1])
			}
		}
	}

	i, j := 0, 0
	for i < len(ref) || j < len(got) {
		switch {
		case i < len(ref) && j < len(got) && ref[i] == got[j]:
			i++
			j++
		case i < len(ref) && j < len(got) && dist[i][j] == 1+dist[i+1][j+1]:
			cmp.Substitutions = append(cmp.Substitutions, Substitution{Expected: ref[i], Spoken: got[j]})
			i++
			j++
		case i < len(ref) && dist[i][j] == 1+dist[i+1][j]:
			cmp.Omissions = append(cmp.Omissions, ref[i])
			i++
		default:
			cmp.Insertions = append(cmp.Insertions, got[j])
			j++
		}
	}
	return cmp
}

// Calibrate clamps an LLM score into [0,100] and bounds it by the
// comparison: identical transcripts score at least IdenticalFloor, any
// difference at most DifferenceCap, significant differences at most
// SignificantCap. Substitutions the feedback does not mention are appended.
func Calibrate(reference, transcript string, score float64, feedback string) (float64, string) {
	if math.IsNaN(score) {
		score = 0
	}
	score = math.Max(0, math.Min(100, score))

	cmp := Compare(reference, transcript)
	if len(cmp.Reference) == 0 {
		return score, feedback
	}

	if cmp.Identical() {
		return math.Max(score, IdenticalFloor), feedback
	}

	limit := float64(DifferenceCap)
	if cmp.Significant() {
		limit = SignificantCap
	}
	score = math.Min(score, limit)

	var notes []string
	lower := strings.ToLower(feedback)
	for _, s := range cmp.Substitutions {
		if !strings.Contains(lower, s.Spoken) {
			notes = append(notes, fmt.Sprintf("「%s」被读成了「%s」。", s.Expected, s.Spoken))
		}
	}
	if len(cmp.Transcript) == 0 && feedback == "" {
		notes = append(notes, "没有识别到有效的发音，请靠近麦克风再试一次。")
	}
	if len(notes) > 0 {
		feedback = strings.TrimSpace(feedback + " " + strings.Join(notes, ""))
	}
	return score, feedback
}

// nearMiss reports whether two words differ by at most a third of their
// letters, e.g. "see" and "she".
func nearMiss(a, b string) bool {
	ra, rb := []rune(a), []rune(b)
	longest := max(len(ra), len(rb))
	if longest == 0 {
		return true
	}
	return float64(runeDistance(ra, rb)) <= math.Max(1, float64(longest)/3)
}

func runeDistance(a, b []rune) int {
	prev := make([]int, len(b)+1)
	cur := make([]int, len(b)+1)
	for j := range prev {
		prev[j] = j
	}
	for i := 1; i <= len(a); i++ {
		cur[0] = i
		for j := 1; j <= len(b); j++ {
			cost := 1
			if a[i-1] == b[j-1] {
				cost = 0
			}
			cur[j] = min(prev[j]+1, cur[j-1]+1, prev[j-1]+cost)
		}
		prev, cur = cur, prev
	}
	return prev[len(b)]
}
