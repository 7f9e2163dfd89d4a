package client

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/windfall/pronunciation_service/internal/errors"
	"github.com/windfall/pronunciation_service/internal/model"
)

// AzureSpeechConfig configures the Azure AI Speech client.
type AzureSpeechConfig struct {
	APIKey string
	Region string
	Voice  string
	// STTURL and TTSURL override the regional endpoints.
	STTURL string
	TTSURL string
}

// AzureSpeechClient wraps the Azure AI Speech REST API: short-audio
// pronunciation assessment and neural TTS.
type AzureSpeechClient struct {
	cfg    AzureSpeechConfig
	client *http.Client
	log    zerolog.Logger
}

// NewAzureSpeechClient creates a new Azure Speech client.
func NewAzureSpeechClient(cfg AzureSpeechConfig, log zerolog.Logger) *AzureSpeechClient {
	if cfg.STTURL == "" && cfg.Region != "" {
		cfg.STTURL = fmt.Sprintf("https://%s.stt.speech.microsoft.com/speech/recognition/conversation/cognitiveservices/v1", cfg.Region)
	}
	if cfg.TTSURL == "" && cfg.Region != "" {
		cfg.TTSURL = fmt.Sprintf("https://%s.tts.speech.microsoft.com/cognitiveservices/v1", cfg.Region)
	}
	return &AzureSpeechClient{
		cfg: cfg,
		client: &http.Client{
			Timeout: 30 * time.Second,
		},
		log: log,
	}
}

// Name returns the vendor name.
func (c *AzureSpeechClient) Name() string { return vendorAzure }

func (c *AzureSpeechClient) configured() bool {
	return c.cfg.APIKey != "" && c.cfg.STTURL != "" && c.cfg.TTSURL != ""
}

type azureAssessment struct {
	RecognitionStatus string       `json:"RecognitionStatus"`
	DisplayText       string       `json:"DisplayText"`
	NBest             []azureNBest `json:"NBest"`
}

type azureNBest struct {
	Display           string      `json:"Display"`
	AccuracyScore     float64     `json:"AccuracyScore"`
	FluencyScore      float64     `json:"FluencyScore"`
	CompletenessScore float64     `json:"CompletenessScore"`
	PronScore         float64     `json:"PronScore"`
	Words             []azureWord `json:"Words"`
}

type azureWord struct {
	Word          string         `json:"Word"`
	AccuracyScore float64        `json:"AccuracyScore"`
	ErrorType     string         `json:"ErrorType"`
	Phonemes      []azurePhoneme `json:"Phonemes"`
}

type azurePhoneme struct {
	Phoneme       string  `json:"Phoneme"`
	AccuracyScore float64 `json:"AccuracyScore"`
}

// azureContentType maps a recording MIME type to what the short-audio API
// accepts.
func azureContentType(mimeType string) (string, bool) {
	switch baseMIME(mimeType) {
	case "audio/wav", "audio/x-wav", "audio/wave":
		return "audio/wav; codecs=audio/pcm; samplerate=16000", true
	case "audio/ogg":
		return "audio/ogg; codecs=opus", true
	default:
		return "", false
	}
}

// Evaluate runs phoneme-granularity pronunciation assessment with miscue
// detection and maps the best hypothesis onto the detailed result shape.
func (c *AzureSpeechClient) Evaluate(ctx context.Context, req model.EvaluationRequest) (*model.EvaluationResult, error) {
	if !c.configured() {
		return nil, errors.ServerConfiguration()
	}
	contentType, ok := azureContentType(req.AudioMimeType)
	if !ok {
		return nil, errors.Validation(fmt.Sprintf("Unsupported audio format for azure: %s", req.AudioMimeType))
	}

	u, err := url.Parse(c.cfg.STTURL)
	if err != nil {
		return nil, errors.InternalWrap("invalid azure endpoint", err)
	}
	q := u.Query()
	q.Set("language", "en-US")
	q.Set("format", "detailed")
	u.RawQuery = q.Encode()

	params, err := json.Marshal(map[string]interface{}{
		"ReferenceText": req.ReferenceText,
		"GradingSystem": "HundredMark",
		"Granularity":   "Phoneme",
		"Dimension":     "Comprehensive",
		"EnableMiscue":  true,
	})
	if err != nil {
		return nil, errors.InternalWrap("failed to marshal assessment params", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, u.String(), bytes.NewReader(req.Audio))
	if err != nil {
		return nil, errors.InternalWrap("failed to create request", err)
	}
	httpReq.Header.Set("Pronunciation-Assessment", base64.StdEncoding.EncodeToString(params))
	httpReq.Header.Set("Ocp-Apim-Subscription-Key", c.cfg.APIKey)
	httpReq.Header.Set("Content-Type", contentType)
	httpReq.Header.Set("Accept", "application/json;text/xml")

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return nil, transportError(ctx, vendorAzure, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, err := statusError(vendorAzure, resp)
		c.log.Debug().Int("status", resp.StatusCode).Str("body", body).Msg("Azure assessment rejected")
		return nil, err
	}

	var result azureAssessment
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, errors.Malformed("failed to decode azure assessment", err)
	}
	if result.RecognitionStatus != "Success" {
		return nil, errors.VendorError(vendorAzure, fmt.Sprintf("Recognition status: %s", result.RecognitionStatus))
	}
	if len(result.NBest) == 0 {
		return nil, errors.Malformed("azure assessment has no hypotheses", nil)
	}

	best := result.NBest[0]
	words := deduplicateWords(best.Words)
	out := &model.EvaluationResult{
		Kind:          model.KindDetailed,
		Overall:       best.PronScore,
		Pronunciation: best.AccuracyScore,
		Integrity:     best.CompletenessScore,
		Fluency:       best.FluencyScore,
		Words:         make([]model.WordScore, 0, len(words)),
	}
	for _, w := range words {
		// Insertions are words the learner added; they carry no reference phonemes.
		if w.ErrorType == "Insertion" {
			continue
		}
		ws := model.WordScore{Word: w.Word, Phonemes: make([]model.PhonemeScore, 0, len(w.Phonemes))}
		for _, p := range w.Phonemes {
			ws.Phonemes = append(ws.Phonemes, model.PhonemeScore{Phoneme: p.Phoneme, Pronunciation: p.AccuracyScore})
		}
		out.Words = append(out.Words, ws)
	}
	return out, nil
}

// deduplicateWords collapses a word Azure reports more than once (one entry
// flagged "Insertion", the others with other error types) into the
// Insertion entry carrying the average AccuracyScore.
func deduplicateWords(words []azureWord) []azureWord {
	groups := make(map[string][]int)
	for i, w := range words {
		groups[w.Word] = append(groups[w.Word], i)
	}

	drop := make(map[int]bool)
	for _, indices := range groups {
		if len(indices) <= 1 {
			continue
		}
		insertion := -1
		var total float64
		for _, idx := range indices {
			if words[idx].ErrorType == "Insertion" {
				insertion = idx
			}
			total += words[idx].AccuracyScore
		}
		if insertion == -1 {
			continue
		}
		words[insertion].AccuracyScore = total / float64(len(indices))
		for _, idx := range indices {
			if idx != insertion {
				drop[idx] = true
			}
		}
	}

	if len(drop) == 0 {
		return words
	}
	out := make([]azureWord, 0, len(words)-len(drop))
	for i, w := range words {
		if !drop[i] {
			out = append(out, w)
		}
	}
	return out
}

// Synthesize renders text with a neural voice as MP3.
func (c *AzureSpeechClient) Synthesize(ctx context.Context, text string) (*model.SynthesizedAudio, error) {
	if !c.configured() {
		return nil, errors.ServerConfiguration()
	}

	var escaped strings.Builder
	if err := xml.EscapeText(&escaped, []byte(text)); err != nil {
		return nil, errors.InternalWrap("failed to escape ssml", err)
	}
	voice := c.cfg.Voice
	lang := "en-GB"
	if parts := strings.SplitN(voice, "-", 3); len(parts) == 3 {
		lang = parts[0] + "-" + parts[1]
	}
	ssml := fmt.Sprintf(`<speak version="1.0" xml:lang="%s"><voice name="%s">%s</voice></speak>`, lang, voice, escaped.String())

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.TTSURL, strings.NewReader(ssml))
	if err != nil {
		return nil, errors.InternalWrap("failed to create request", err)
	}
	httpReq.Header.Set("Ocp-Apim-Subscription-Key", c.cfg.APIKey)
	httpReq.Header.Set("Content-Type", "application/ssml+xml")
	httpReq.Header.Set("X-Microsoft-OutputFormat", "audio-24khz-48kbitrate-mono-mp3")
	httpReq.Header.Set("User-Agent", "pronunciation_service")

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return nil, transportError(ctx, vendorAzure, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, err := statusError(vendorAzure, resp)
		c.log.Debug().Int("status", resp.StatusCode).Str("body", body).Msg("Azure TTS rejected")
		return nil, err
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, transportError(ctx, vendorAzure, err)
	}
	if len(data) == 0 {
		return nil, errors.Malformed("azure TTS returned no audio", nil)
	}
	return &model.SynthesizedAudio{Data: data, MIMEType: "audio/mpeg"}, nil
}
