package client

import (
	"bytes"
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/sashabaranov/go-openai"

	"github.com/windfall/pronunciation_service/internal/errors"
	"github.com/windfall/pronunciation_service/internal/model"
	"github.com/windfall/pronunciation_service/internal/scoring"
)

const (
	siliconFlowTemperature = 0.3
	siliconFlowMaxTokens   = 150
)

// SiliconFlowConfig configures the two-stage transcription + scoring client.
type SiliconFlowConfig struct {
	APIKey    string
	BaseURL   string
	ASRModel  string
	ChatModel string
	Timeout   time.Duration
}

// SiliconFlowClient scores pronunciation in two stages against an
// OpenAI-compatible API: transcribe the recording, then ask a chat model to
// compare the transcript with the reference text.
type SiliconFlowClient struct {
	client *openai.Client
	cfg    SiliconFlowConfig
	log    zerolog.Logger
}

// NewSiliconFlowClient creates a new client. A missing API key is reported
// per request as a server configuration error.
func NewSiliconFlowClient(cfg SiliconFlowConfig, log zerolog.Logger) *SiliconFlowClient {
	c := &SiliconFlowClient{cfg: cfg, log: log}
	if cfg.APIKey == "" {
		return c
	}

	oc := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		oc.BaseURL = cfg.BaseURL
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	oc.HTTPClient = &http.Client{Timeout: timeout}
	c.client = openai.NewClientWithConfig(oc)
	return c
}

// Name returns the vendor name.
func (c *SiliconFlowClient) Name() string { return vendorSiliconFlow }

type llmVerdict struct {
	Score    *float64 `json:"score"`
	Feedback *string  `json:"feedback"`
}

// Evaluate transcribes the recording and scores it against the reference.
func (c *SiliconFlowClient) Evaluate(ctx context.Context, req model.EvaluationRequest) (*model.EvaluationResult, error) {
	if c.client == nil {
		return nil, errors.ServerConfiguration()
	}

	transcript, err := c.Transcribe(ctx, req.Audio, req.AudioMimeType)
	if err != nil {
		return nil, err
	}

	c.log.Debug().
		Str("reference", req.ReferenceText).
		Str("transcript", transcript).
		Msg("SiliconFlow transcription complete")

	verdict, err := c.judge(ctx, req.ReferenceText, transcript)
	if err != nil {
		return nil, err
	}

	score, feedback := scoring.Calibrate(req.ReferenceText, transcript, *verdict.Score, *verdict.Feedback)
	return &model.EvaluationResult{
		Kind:     model.KindScore,
		Overall:  score,
		Feedback: feedback,
	}, nil
}

// Transcribe runs the first stage.
func (c *SiliconFlowClient) Transcribe(ctx context.Context, audio []byte, mimeType string) (string, error) {
	if c.client == nil {
		return "", errors.ServerConfiguration()
	}

	resp, err := c.client.CreateTranscription(ctx, openai.AudioRequest{
		Model:    c.cfg.ASRModel,
		FilePath: "recording." + audioExtension(mimeType),
		Reader:   bytes.NewReader(audio),
		Format:   openai.AudioResponseFormatJSON,
	})
	if err != nil {
		return "", c.stageError(ctx, "语音转文本服务失败", err)
	}
	return strings.TrimSpace(resp.Text), nil
}

func (c *SiliconFlowClient) judge(ctx context.Context, reference, transcript string) (*llmVerdict, error) {
	resp, err := c.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: c.cfg.ChatModel,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleUser, Content: scoringPrompt(reference, transcript)},
		},
		Temperature: siliconFlowTemperature,
		MaxTokens:   siliconFlowMaxTokens,
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
	})
	if err != nil {
		return nil, c.stageError(ctx, "智能评分服务失败", err)
	}

	if len(resp.Choices) == 0 || strings.TrimSpace(resp.Choices[0].Message.Content) == "" {
		return nil, errors.Malformed("智能评分模型未返回有效内容。", nil)
	}
	return parseVerdict(resp.Choices[0].Message.Content)
}

var (
	thinkBlock = regexp.MustCompile(`(?s)<think>.*?</think>`)
	codeFence  = regexp.MustCompile("(?s)^```(?:json)?\\s*(.*?)\\s*```$")
)

// parseVerdict decodes the strict {score, feedback} object. Reasoning
// blocks and markdown fences around it are tolerated.
func parseVerdict(content string) (*llmVerdict, error) {
	content = strings.TrimSpace(thinkBlock.ReplaceAllString(content, ""))
	if m := codeFence.FindStringSubmatch(content); m != nil {
		content = m[1]
	}

	var v llmVerdict
	if err := json.Unmarshal([]byte(content), &v); err != nil {
		return nil, errors.Malformed("智能评分模型返回了无效的格式。", err)
	}
	if v.Score == nil || v.Feedback == nil {
		return nil, errors.Malformed("智能评分模型返回了无效的格式。", nil)
	}
	return &v, nil
}

func scoringPrompt(reference, transcript string) string {
	return fmt.Sprintf(`You are an English pronunciation coach for Chinese learners.
Compare the learner's speech with the target and grade it.

Standard Pronunciation: "%s"
User's Transcribed Pronunciation: "%s"

Scoring Criteria:
- If the transcription is identical to the standard text, give a score above 90.
- If there is a minor difference (for example "see" transcribed as "shee" or "she"), give a score between 70 and 85 and name the specific sound that went wrong.
- If there is a significant difference, give a score below 60.

Write the feedback in Chinese, short and encouraging.
Respond with a single JSON object and nothing else, exactly in this form:
{"score": number, "feedback": "string"}`, reference, transcript)
}

// stageError maps go-openai failures. Vendor bodies stay in debug logs.
func (c *SiliconFlowClient) stageError(ctx context.Context, stage string, err error) error {
	var apiErr *openai.APIError
	if stderrors.As(err, &apiErr) {
		c.log.Debug().Int("status", apiErr.HTTPStatusCode).Str("message", apiErr.Message).Msg(stage)
		return vendorStatus(stage, apiErr.HTTPStatusCode, apiErr.HTTPStatus)
	}
	var reqErr *openai.RequestError
	if stderrors.As(err, &reqErr) {
		c.log.Debug().Int("status", reqErr.HTTPStatusCode).Str("body", string(reqErr.Body)).Msg(stage)
		return vendorStatus(stage, reqErr.HTTPStatusCode, reqErr.HTTPStatus)
	}
	var syntaxErr *json.SyntaxError
	var typeErr *json.UnmarshalTypeError
	if stderrors.As(err, &syntaxErr) || stderrors.As(err, &typeErr) {
		return errors.Malformed(stage, err)
	}
	return transportError(ctx, vendorSiliconFlow, err)
}

func vendorStatus(stage string, code int, status string) error {
	if status == "" {
		status = fmt.Sprintf("%d %s", code, http.StatusText(code))
	}
	return errors.New(errors.ErrVendorUnavailable, fmt.Sprintf("%s: %s", stage, status)).
		WithDetails(map[string]interface{}{"vendor": vendorSiliconFlow, "status": code})
}
