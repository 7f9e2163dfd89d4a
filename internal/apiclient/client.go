// Package apiclient talks to the pronunciation service over HTTP. It
// implements the evaluator, speaker and session store used by the practice
// controller.
package apiclient

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/windfall/pronunciation_service/internal/errors"
	"github.com/windfall/pronunciation_service/internal/model"
)

const serviceName = "pronunciation_service"

// Session is the signed-in identity returned by verification.
type Session struct {
	Identifier string `json:"identifier"`
	Token      string `json:"token"`
	Activated  bool   `json:"activated"`
}

// Client is an HTTP client for the service API.
type Client struct {
	baseURL string
	http    *http.Client
	tokens  TokenStore
}

// New creates a client for baseURL. tokens may be nil for anonymous use.
func New(baseURL string, tokens TokenStore, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: timeout},
		tokens:  tokens,
	}
}

// Evaluate scores a recording.
func (c *Client) Evaluate(ctx context.Context, req model.EvaluationRequest) (*model.EvaluationResult, error) {
	var result model.EvaluationResult
	if err := c.do(ctx, http.MethodPost, "/api/evaluation", req, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

type ttsResponse struct {
	AudioBase64 string `json:"audioBase64"`
	MIMEType    string `json:"mimeType"`
}

// Synthesize fetches reference audio for text.
func (c *Client) Synthesize(ctx context.Context, text string) (*model.SynthesizedAudio, error) {
	if strings.TrimSpace(text) == "" {
		return nil, errors.EmptyInput("Text is required.")
	}
	var resp ttsResponse
	if err := c.do(ctx, http.MethodPost, "/api/tts", map[string]string{"text": text}, &resp); err != nil {
		return nil, err
	}
	data, err := base64.StdEncoding.DecodeString(resp.AudioBase64)
	if err != nil || len(data) == 0 {
		return nil, errors.Malformed("TTS response carried no audio.", err)
	}
	mimeType := resp.MIMEType
	if mimeType == "" {
		mimeType = "audio/mpeg"
	}
	return &model.SynthesizedAudio{Data: data, MIMEType: mimeType}, nil
}

// SendOTP requests a one-time code for phone.
func (c *Client) SendOTP(ctx context.Context, phone string) error {
	return c.do(ctx, http.MethodPost, "/api/auth/otp", map[string]string{"phone": phone}, nil)
}

// VerifyOTP signs in with phone and code and stores the session token.
func (c *Client) VerifyOTP(ctx context.Context, phone, code string) (*Session, error) {
	var s Session
	if err := c.do(ctx, http.MethodPost, "/api/auth/verify", map[string]string{"phone": phone, "code": code}, &s); err != nil {
		return nil, err
	}
	if c.tokens != nil {
		if err := c.tokens.Save(s.Token); err != nil {
			return nil, fmt.Errorf("save session: %w", err)
		}
	}
	return &s, nil
}

// Activate redeems an activation code for the signed-in user.
func (c *Client) Activate(ctx context.Context, code string) (bool, error) {
	var resp struct {
		Activated bool `json:"activated"`
	}
	if err := c.do(ctx, http.MethodPost, "/api/auth/activate", map[string]string{"code": code}, &resp); err != nil {
		return false, err
	}
	return resp.Activated, nil
}

// CurrentUser returns the signed-in user, or nil when logged out.
func (c *Client) CurrentUser(ctx context.Context) (*model.User, error) {
	if c.token() == "" {
		return nil, nil
	}
	var resp struct {
		User *model.User `json:"user"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/auth/me", nil, &resp); err != nil {
		return nil, err
	}
	return resp.User, nil
}

// Logout closes the server session and forgets the local token.
func (c *Client) Logout(ctx context.Context) error {
	var err error
	if c.token() != "" {
		err = c.do(ctx, http.MethodPost, "/api/auth/logout", nil, nil)
	}
	if c.tokens != nil {
		if clearErr := c.tokens.Clear(); clearErr != nil && err == nil {
			err = clearErr
		}
	}
	return err
}

func (c *Client) token() string {
	if c.tokens == nil {
		return ""
	}
	t, err := c.tokens.Load()
	if err != nil {
		return ""
	}
	return t
}

type errorBody struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

func (c *Client) do(ctx context.Context, method, path string, in, out interface{}) error {
	var body io.Reader
	if in != nil {
		buf, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		body = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if t := c.token(); t != "" {
		req.Header.Set("Authorization", "Bearer "+t)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		var netErr interface{ Timeout() bool }
		if stderrors.Is(err, context.DeadlineExceeded) || (stderrors.As(err, &netErr) && netErr.Timeout()) {
			return errors.VendorTimeout(serviceName, err)
		}
		return errors.ConnectionFailed(serviceName, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return decodeError(resp)
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return errors.Malformed("Unexpected response from server.", err)
	}
	return nil
}

// decodeError rebuilds the server's AppError from an error body.
func decodeError(resp *http.Response) error {
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	var eb errorBody
	if err := json.Unmarshal(data, &eb); err != nil || eb.Error == "" {
		return errors.VendorUnavailable(serviceName, resp.StatusCode, resp.Status)
	}
	code := errors.ErrorCode(eb.Code)
	if code == "" {
		code = errors.ErrInternal
	}
	return errors.New(code, eb.Error).WithDetails(map[string]interface{}{"status": resp.StatusCode})
}
