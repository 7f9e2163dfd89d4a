package client

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"mime"
	"strconv"
	"strings"

	"github.com/rs/zerolog"
	"google.golang.org/genai"

	"github.com/windfall/pronunciation_service/internal/errors"
	"github.com/windfall/pronunciation_service/internal/model"
)

// GeminiConfig configures the Gemini client. When ProjectID is set the
// Vertex AI backend is used with application default credentials.
type GeminiConfig struct {
	APIKey    string
	ProjectID string
	Location  string
	Model     string
	TTSModel  string
	TTSVoice  string
	// BaseURL overrides the API endpoint.
	BaseURL string
}

// GeminiClient scores pronunciation in a single multimodal call and
// synthesizes reference audio.
type GeminiClient struct {
	client *genai.Client
	cfg    GeminiConfig
	log    zerolog.Logger
}

// NewGeminiClient creates a new Gemini client. Initialization failures are
// logged and surface per request as a server configuration error.
func NewGeminiClient(ctx context.Context, cfg GeminiConfig, log zerolog.Logger) *GeminiClient {
	c := &GeminiClient{cfg: cfg, log: log}

	cc := &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	}
	if cfg.ProjectID != "" {
		cc = &genai.ClientConfig{
			Backend:  genai.BackendVertexAI,
			Project:  cfg.ProjectID,
			Location: cfg.Location,
		}
	} else if cfg.APIKey == "" {
		return c
	}
	if cfg.BaseURL != "" {
		cc.HTTPOptions = genai.HTTPOptions{BaseURL: cfg.BaseURL}
	}

	client, err := genai.NewClient(ctx, cc)
	if err != nil {
		log.Error().Err(err).Msg("Failed to initialize Gemini client")
		return c
	}
	c.client = client
	return c
}

// Name returns the vendor name.
func (c *GeminiClient) Name() string { return vendorGemini }

var verdictSchema = &genai.Schema{
	Type: genai.TypeObject,
	Properties: map[string]*genai.Schema{
		"score": {
			Type:        genai.TypeNumber,
			Description: "Pronunciation score from 0 to 100.",
		},
		"feedback": {
			Type:        genai.TypeString,
			Description: "Short, encouraging feedback in Chinese naming the sounds to improve.",
		},
	},
	Required: []string{"score", "feedback"},
}

// Evaluate sends the recording with a grading prompt and decodes the
// schema-constrained {score, feedback} reply.
func (c *GeminiClient) Evaluate(ctx context.Context, req model.EvaluationRequest) (*model.EvaluationResult, error) {
	if c.client == nil {
		return nil, errors.ServerConfiguration()
	}

	contents := []*genai.Content{
		genai.NewContentFromParts([]*genai.Part{
			genai.NewPartFromText(geminiPrompt(req)),
			genai.NewPartFromBytes(req.Audio, baseMIME(req.AudioMimeType)),
		}, genai.RoleUser),
	}

	resp, err := c.client.Models.GenerateContent(ctx, c.cfg.Model, contents, &genai.GenerateContentConfig{
		ResponseMIMEType: "application/json",
		ResponseSchema:   verdictSchema,
	})
	if err != nil {
		return nil, c.callError(ctx, err)
	}

	text := strings.TrimSpace(resp.Text())
	if text == "" {
		return nil, errors.Malformed("Gemini returned no content", nil)
	}

	var v llmVerdict
	if err := json.Unmarshal([]byte(text), &v); err != nil {
		return nil, errors.Malformed("Gemini returned an invalid verdict", err)
	}
	if v.Score == nil || v.Feedback == nil {
		return nil, errors.Malformed("Gemini verdict is missing score or feedback", nil)
	}

	return &model.EvaluationResult{
		Kind:     model.KindScore,
		Overall:  *v.Score,
		Feedback: *v.Feedback,
	}, nil
}

func geminiPrompt(req model.EvaluationRequest) string {
	if req.IPA != "" {
		return fmt.Sprintf(`You are an English pronunciation coach for Chinese learners.
The learner is practicing the phoneme %s through the word "%s".
Listen to the recording and judge only how accurately that phoneme is produced.
Give a score from 0 to 100 and short feedback in Chinese explaining how to place the tongue and lips.`,
			req.IPA, req.ReferenceText)
	}
	return fmt.Sprintf(`You are an English pronunciation coach for Chinese learners.
The learner was asked to say: "%s".
Listen to the recording and compare it with the target text.
Give a score from 0 to 100 (above 90 for a native-like reading, below 60 when words are missing or wrong)
and short feedback in Chinese that names the specific sounds or words to improve.`, req.ReferenceText)
}

// Synthesize produces reference audio with a prebuilt voice. Raw PCM
// replies are wrapped in a WAV container so any player can use them.
func (c *GeminiClient) Synthesize(ctx context.Context, text string) (*model.SynthesizedAudio, error) {
	if c.client == nil {
		return nil, errors.ServerConfiguration()
	}

	prompt := text
	if !strings.Contains(strings.ToLower(text), "pronounce the phoneme") {
		prompt = fmt.Sprintf(`In a standard British accent, say: "%s"`, text)
	}

	resp, err := c.client.Models.GenerateContent(ctx, c.cfg.TTSModel, genai.Text(prompt), &genai.GenerateContentConfig{
		ResponseModalities: []string{string(genai.ModalityAudio)},
		SpeechConfig: &genai.SpeechConfig{
			VoiceConfig: &genai.VoiceConfig{
				PrebuiltVoiceConfig: &genai.PrebuiltVoiceConfig{VoiceName: c.cfg.TTSVoice},
			},
		},
	})
	if err != nil {
		return nil, c.callError(ctx, err)
	}

	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return nil, errors.Malformed("Gemini TTS returned no candidates", nil)
	}
	for _, part := range resp.Candidates[0].Content.Parts {
		if part.InlineData == nil || len(part.InlineData.Data) == 0 {
			continue
		}
		return pcmToWAV(part.InlineData.Data, part.InlineData.MIMEType), nil
	}
	return nil, errors.Malformed("Gemini TTS returned no audio", nil)
}

func (c *GeminiClient) callError(ctx context.Context, err error) error {
	var apiErr genai.APIError
	if stderrors.As(err, &apiErr) {
		c.log.Debug().Int("status", apiErr.Code).Str("message", apiErr.Message).Msg("Gemini API error")
		status := apiErr.Status
		if status == "" {
			status = strconv.Itoa(apiErr.Code)
		}
		return errors.VendorUnavailable(vendorGemini, apiErr.Code, status)
	}
	return transportError(ctx, vendorGemini, err)
}

// pcmToWAV wraps 16-bit mono PCM ("audio/L16;rate=24000") in a RIFF header.
// Other formats pass through unchanged.
func pcmToWAV(data []byte, mimeType string) *model.SynthesizedAudio {
	mediaType, params, err := mime.ParseMediaType(mimeType)
	if err != nil || !(strings.EqualFold(mediaType, "audio/l16") || strings.EqualFold(mediaType, "audio/pcm")) {
		return &model.SynthesizedAudio{Data: data, MIMEType: mimeType}
	}

	rate := 24000
	if r, err := strconv.Atoi(params["rate"]); err == nil && r > 0 {
		rate = r
	}
	const channels, bitsPerSample = 1, 16
	byteRate := rate * channels * bitsPerSample / 8

	var buf bytes.Buffer
	buf.WriteString("RIFF")
	binary.Write(&buf, binary.LittleEndian, uint32(36+len(data)))
	buf.WriteString("WAVE")
	buf.WriteString("fmt ")
	binary.Write(&buf, binary.LittleEndian, uint32(16))
	binary.Write(&buf, binary.LittleEndian, uint16(1))
	binary.Write(&buf, binary.LittleEndian, uint16(channels))
	binary.Write(&buf, binary.LittleEndian, uint32(rate))
	binary.Write(&buf, binary.LittleEndian, uint32(byteRate))
	binary.Write(&buf, binary.LittleEndian, uint16(channels*bitsPerSample/8))
	binary.Write(&buf, binary.LittleEndian, uint16(bitsPerSample))
	buf.WriteString("data")
	binary.Write(&buf, binary.LittleEndian, uint32(len(data)))
	buf.Write(data)

	return &model.SynthesizedAudio{Data: buf.Bytes(), MIMEType: "audio/wav"}
}
