package client

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/windfall/pronunciation_service/internal/errors"
	"github.com/windfall/pronunciation_service/internal/model"
)

// BaiduConfig configures the Baidu speech synthesis client.
type BaiduConfig struct {
	APIKey    string
	SecretKey string
	TokenURL  string
	TTSURL    string
	CUID      string
}

// BaiduClient synthesizes speech through Baidu text2audio. The OAuth access
// token is cached until shortly before it expires.
type BaiduClient struct {
	cfg    BaiduConfig
	client *http.Client
	now    func() time.Time
	log    zerolog.Logger

	mu      sync.Mutex
	token   string
	expires time.Time
}

// NewBaiduClient creates a new Baidu client.
func NewBaiduClient(cfg BaiduConfig, log zerolog.Logger) *BaiduClient {
	return &BaiduClient{
		cfg:    cfg,
		client: &http.Client{Timeout: 30 * time.Second},
		now:    time.Now,
		log:    log,
	}
}

// Name returns the vendor name.
func (c *BaiduClient) Name() string { return vendorBaidu }

type baiduToken struct {
	AccessToken      string `json:"access_token"`
	ExpiresIn        int64  `json:"expires_in"`
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description"`
}

type baiduError struct {
	ErrNo  int    `json:"err_no"`
	ErrMsg string `json:"err_msg"`
}

// AccessToken returns a valid access token, fetching a new one when the
// cached token is missing or about to expire.
func (c *BaiduClient) AccessToken(ctx context.Context) (string, error) {
	if c.cfg.APIKey == "" || c.cfg.SecretKey == "" {
		return "", errors.ServerConfiguration()
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.token != "" && c.now().Before(c.expires) {
		return c.token, nil
	}

	form := url.Values{}
	form.Set("grant_type", "client_credentials")
	form.Set("client_id", c.cfg.APIKey)
	form.Set("client_secret", c.cfg.SecretKey)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.TokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return "", errors.InternalWrap("failed to create request", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	resp, err := c.client.Do(req)
	if err != nil {
		return "", transportError(ctx, vendorBaidu, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, err := statusError(vendorBaidu, resp)
		c.log.Debug().Int("status", resp.StatusCode).Str("body", body).Msg("Baidu token request rejected")
		return "", err
	}

	var tok baiduToken
	if err := json.NewDecoder(resp.Body).Decode(&tok); err != nil {
		return "", errors.Malformed("failed to decode baidu token", err)
	}
	if tok.Error != "" {
		return "", errors.VendorError(vendorBaidu, fmt.Sprintf("Baidu token error: %s", tok.Error))
	}
	if tok.AccessToken == "" {
		return "", errors.Malformed("baidu token response has no access_token", nil)
	}

	ttl := time.Duration(tok.ExpiresIn) * time.Second
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	c.token = tok.AccessToken
	c.expires = c.now().Add(ttl - time.Minute)
	return c.token, nil
}

// Synthesize renders text as MP3 with the default voice.
func (c *BaiduClient) Synthesize(ctx context.Context, text string) (*model.SynthesizedAudio, error) {
	token, err := c.AccessToken(ctx)
	if err != nil {
		return nil, err
	}

	form := url.Values{}
	form.Set("tex", text)
	form.Set("tok", token)
	form.Set("cuid", c.cfg.CUID)
	form.Set("ctp", "1")
	form.Set("lan", "zh")
	form.Set("spd", "5")
	form.Set("pit", "5")
	form.Set("vol", "5")
	form.Set("per", "0")
	form.Set("aue", "3")

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.TTSURL, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, errors.InternalWrap("failed to create request", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, transportError(ctx, vendorBaidu, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, err := statusError(vendorBaidu, resp)
		c.log.Debug().Int("status", resp.StatusCode).Str("body", body).Msg("Baidu TTS rejected")
		return nil, err
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, transportError(ctx, vendorBaidu, err)
	}

	// Failures come back as 200 with a JSON body.
	if strings.HasPrefix(baseMIME(resp.Header.Get("Content-Type")), "application/json") {
		var e baiduError
		if err := json.Unmarshal(data, &e); err != nil {
			return nil, errors.Malformed("failed to decode baidu error", err)
		}
		if e.ErrNo == 502 || e.ErrNo == 110 || e.ErrNo == 111 {
			c.invalidate()
		}
		return nil, errors.VendorError(vendorBaidu, fmt.Sprintf("Baidu TTS error %d: %s", e.ErrNo, e.ErrMsg))
	}
	if len(data) == 0 {
		return nil, errors.Malformed("baidu TTS returned no audio", nil)
	}
	return &model.SynthesizedAudio{Data: data, MIMEType: "audio/mpeg"}, nil
}

func (c *BaiduClient) invalidate() {
	c.mu.Lock()
	c.token = ""
	c.mu.Unlock()
}
