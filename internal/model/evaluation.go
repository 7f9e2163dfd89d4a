package model

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
)

// ResultKind selects the wire shape of an EvaluationResult.
type ResultKind string

const (
	// KindDetailed is the vendor breakdown {overall, pronunciation, integrity, fluency, words}.
	KindDetailed ResultKind = "detailed"
	// KindScore is the flat {score, feedback} produced by LLM scoring.
	KindScore ResultKind = "score"
)

// EvaluationRequest is one evaluation attempt.
type EvaluationRequest struct {
	AudioBase64   string `json:"audioBase64"`
	AudioMimeType string `json:"audioMimeType"`
	ReferenceText string `json:"referenceText"`
	// IPA is an optional phoneme hint for LLM scoring prompts.
	IPA string `json:"ipa,omitempty"`

	// Audio holds the decoded AudioBase64. Filled by the evaluation service.
	Audio []byte `json:"-"`
}

// PhonemeScore is a sub-score for one speech sound.
type PhonemeScore struct {
	Phoneme       string  `json:"phoneme"`
	Pronunciation float64 `json:"pronunciation"`
}

// WordScore is the per-word breakdown.
type WordScore struct {
	Word     string         `json:"word"`
	Phonemes []PhonemeScore `json:"phonemes"`
}

// EvaluationResult is the canonical evaluation outcome. Overall is always
// populated and lies in [0,100]; Kind decides how it is serialized.
type EvaluationResult struct {
	Kind          ResultKind
	Overall       float64
	Pronunciation float64
	Integrity     float64
	Fluency       float64
	Words         []WordScore
	Feedback      string
}

type detailedJSON struct {
	Overall       float64     `json:"overall"`
	Pronunciation float64     `json:"pronunciation"`
	Integrity     float64     `json:"integrity"`
	Fluency       float64     `json:"fluency"`
	Words         []WordScore `json:"words"`
	Feedback      string      `json:"feedback,omitempty"`
}

type scoreJSON struct {
	Score    float64 `json:"score"`
	Feedback string  `json:"feedback"`
}

// MarshalJSON writes the detailed or flat shape depending on Kind.
func (r EvaluationResult) MarshalJSON() ([]byte, error) {
	if r.Kind == KindScore {
		return json.Marshal(scoreJSON{Score: r.Overall, Feedback: r.Feedback})
	}
	words := r.Words
	if words == nil {
		words = []WordScore{}
	}
	return json.Marshal(detailedJSON{
		Overall:       r.Overall,
		Pronunciation: r.Pronunciation,
		Integrity:     r.Integrity,
		Fluency:       r.Fluency,
		Words:         words,
		Feedback:      r.Feedback,
	})
}

// UnmarshalJSON accepts either wire shape.
func (r *EvaluationResult) UnmarshalJSON(data []byte) error {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return err
	}
	if _, ok := fields["score"]; ok {
		var s scoreJSON
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*r = EvaluationResult{Kind: KindScore, Overall: s.Score, Feedback: s.Feedback}
		return nil
	}
	if _, ok := fields["overall"]; !ok {
		return fmt.Errorf("evaluation result has neither score nor overall")
	}
	var d detailedJSON
	if err := json.Unmarshal(data, &d); err != nil {
		return err
	}
	*r = EvaluationResult{
		Kind:          KindDetailed,
		Overall:       d.Overall,
		Pronunciation: d.Pronunciation,
		Integrity:     d.Integrity,
		Fluency:       d.Fluency,
		Words:         d.Words,
		Feedback:      d.Feedback,
	}
	return nil
}

// InRange reports whether every populated score lies in [0,100].
func (r *EvaluationResult) InRange() bool {
	check := func(v float64) bool { return v >= 0 && v <= 100 }
	if !check(r.Overall) {
		return false
	}
	if r.Kind == KindScore {
		return true
	}
	if !check(r.Pronunciation) || !check(r.Integrity) || !check(r.Fluency) {
		return false
	}
	for _, w := range r.Words {
		for _, p := range w.Phonemes {
			if !check(p.Pronunciation) {
				return false
			}
		}
	}
	return true
}

// Band groups a score for display.
type Band string

const (
	BandExcellent     Band = "excellent"
	BandGood          Band = "good"
	BandNeedsPractice Band = "needs_practice"
)

// BandFor returns the display band for a score.
func BandFor(score float64) Band {
	switch {
	case score >= 85:
		return BandExcellent
	case score >= 60:
		return BandGood
	default:
		return BandNeedsPractice
	}
}

// SynthesizedAudio is reference audio returned by a TTS vendor.
type SynthesizedAudio struct {
	Data     []byte
	MIMEType string
}

// Base64 returns the audio encoded for the JSON wire format.
func (a *SynthesizedAudio) Base64() string {
	return base64.StdEncoding.EncodeToString(a.Data)
}
