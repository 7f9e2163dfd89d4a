package client

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"net"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/windfall/pronunciation_service/internal/errors"
	"github.com/windfall/pronunciation_service/internal/model"
)

const (
	xunfeiStatusFinal = 2
	xunfeiLanguage    = "en_us"
	xunfeiCore        = "word"
)

// XunfeiConfig configures the Xunfei ISE and TTS websocket client.
type XunfeiConfig struct {
	AppID     string
	APIKey    string
	APISecret string
	ISEURL    string
	TTSURL    string
	Voice     string
}

// XunfeiClient evaluates pronunciation and synthesizes speech over
// short-lived signed websocket connections. One connection per call.
type XunfeiClient struct {
	cfg    XunfeiConfig
	dialer *websocket.Dialer
	now    func() time.Time
	log    zerolog.Logger
}

// NewXunfeiClient creates a new Xunfei client.
func NewXunfeiClient(cfg XunfeiConfig, log zerolog.Logger) *XunfeiClient {
	return &XunfeiClient{
		cfg: cfg,
		dialer: &websocket.Dialer{
			HandshakeTimeout: 10 * time.Second,
			Proxy:            websocket.DefaultDialer.Proxy,
		},
		now: time.Now,
		log: log,
	}
}

// Name returns the vendor name.
func (c *XunfeiClient) Name() string { return vendorXunfei }

func (c *XunfeiClient) configured() bool {
	return c.cfg.AppID != "" && c.cfg.APIKey != "" && c.cfg.APISecret != ""
}

type iseFrame struct {
	Header    iseFrameHeader  `json:"header"`
	Parameter iseParameter    `json:"parameter"`
	Payload   iseFramePayload `json:"payload"`
}

type iseFrameHeader struct {
	AppID  string `json:"app_id"`
	Status int    `json:"status"`
}

type iseParameter struct {
	ST iseSettings `json:"st"`
}

type iseSettings struct {
	Lang          string          `json:"lang"`
	Core          string          `json:"core"`
	RefText       string          `json:"refText"`
	PhonemeOutput int             `json:"phoneme_output"`
	Result        iseResultFormat `json:"result"`
}

type iseResultFormat struct {
	Encoding string `json:"encoding"`
	Compress string `json:"compress"`
	Format   string `json:"format"`
}

type iseFramePayload struct {
	Data iseAudio `json:"data"`
}

type iseAudio struct {
	Encoding   string `json:"encoding"`
	SampleRate int    `json:"sample_rate"`
	Channels   int    `json:"channels"`
	BitDepth   int    `json:"bit_depth"`
	Status     int    `json:"status"`
	Audio      string `json:"audio"`
}

type iseResponse struct {
	Header struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
		SID     string `json:"sid"`
	} `json:"header"`
	Payload *struct {
		Result *struct {
			Text string `json:"text"`
		} `json:"result"`
	} `json:"payload"`
}

type iseDecoded struct {
	Result *struct {
		Overall       *float64 `json:"overall"`
		Pronunciation float64  `json:"pronunciation"`
		Integrity     float64  `json:"integrity"`
		Fluency       float64  `json:"fluency"`
		Words         []struct {
			Word     string `json:"word"`
			Phonemes []struct {
				Phoneme       string  `json:"phoneme"`
				Pronunciation float64 `json:"pronunciation"`
			} `json:"phonemes"`
		} `json:"words"`
	} `json:"result"`
}

// xunfeiEncoding maps a MIME type to the vendor's encoding tag. Audio is
// assumed to be 16kHz mono 16-bit.
func xunfeiEncoding(mimeType string) (string, bool) {
	switch baseMIME(mimeType) {
	case "audio/mpeg", "audio/mp3":
		return "lame", true
	case "audio/wav", "audio/x-wav", "audio/wave", "audio/l16", "audio/pcm":
		return "raw", true
	default:
		return "", false
	}
}

// stripWAVHeader drops a canonical 44-byte RIFF header so "raw" gets PCM.
func stripWAVHeader(audio []byte) []byte {
	if len(audio) > 44 && bytes.HasPrefix(audio, []byte("RIFF")) && bytes.Equal(audio[8:12], []byte("WAVE")) {
		return audio[44:]
	}
	return audio
}

// Evaluate runs one ISE round trip: dial, send a single final frame, read
// the first message, close.
func (c *XunfeiClient) Evaluate(ctx context.Context, req model.EvaluationRequest) (*model.EvaluationResult, error) {
	if !c.configured() {
		return nil, errors.ServerConfiguration()
	}

	encoding, ok := xunfeiEncoding(req.AudioMimeType)
	if !ok {
		return nil, errors.Validation(fmt.Sprintf("unsupported audio format for xunfei: %s", req.AudioMimeType))
	}
	audio := req.Audio
	if encoding == "raw" {
		audio = stripWAVHeader(audio)
	}

	frame := iseFrame{
		Header: iseFrameHeader{AppID: c.cfg.AppID, Status: xunfeiStatusFinal},
		Parameter: iseParameter{ST: iseSettings{
			Lang:          xunfeiLanguage,
			Core:          xunfeiCore,
			RefText:       req.ReferenceText,
			PhonemeOutput: 1,
			Result:        iseResultFormat{Encoding: "utf8", Compress: "raw", Format: "json"},
		}},
		Payload: iseFramePayload{Data: iseAudio{
			Encoding:   encoding,
			SampleRate: 16000,
			Channels:   1,
			BitDepth:   16,
			Status:     xunfeiStatusFinal,
			Audio:      base64.StdEncoding.EncodeToString(audio),
		}},
	}

	conn, err := c.dial(ctx, c.cfg.ISEURL)
	if err != nil {
		return nil, err
	}
	defer c.closeConn(conn)

	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	if err := conn.WriteJSON(frame); err != nil {
		return nil, c.readError(ctx, err)
	}

	_, msg, err := conn.ReadMessage()
	if err != nil {
		return nil, c.readError(ctx, err)
	}

	return c.decodeISE(msg)
}

func (c *XunfeiClient) decodeISE(msg []byte) (*model.EvaluationResult, error) {
	var resp iseResponse
	if err := json.Unmarshal(msg, &resp); err != nil {
		return nil, errors.Malformed("xunfei response is not valid JSON", err)
	}

	c.log.Debug().
		Str("sid", resp.Header.SID).
		Int("code", resp.Header.Code).
		Msg("Xunfei ISE response")

	if resp.Header.Code != 0 {
		return nil, errors.VendorError(vendorXunfei, resp.Header.Message).
			WithDetails(map[string]interface{}{"vendor": vendorXunfei, "vendor_code": resp.Header.Code})
	}
	if resp.Payload == nil || resp.Payload.Result == nil || resp.Payload.Result.Text == "" {
		return nil, errors.Malformed("xunfei response has no result text", nil)
	}

	raw, err := base64.StdEncoding.DecodeString(resp.Payload.Result.Text)
	if err != nil {
		return nil, errors.Malformed("xunfei result text is not base64", err)
	}

	var decoded iseDecoded
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return nil, errors.Malformed("xunfei result text is not valid JSON", err)
	}
	if decoded.Result == nil || decoded.Result.Overall == nil {
		return nil, errors.Malformed("xunfei result has no overall score", nil)
	}

	r := decoded.Result
	result := &model.EvaluationResult{
		Kind:          model.KindDetailed,
		Overall:       *r.Overall,
		Pronunciation: r.Pronunciation,
		Integrity:     r.Integrity,
		Fluency:       r.Fluency,
		Words:         make([]model.WordScore, 0, len(r.Words)),
	}
	for _, w := range r.Words {
		ws := model.WordScore{Word: w.Word, Phonemes: make([]model.PhonemeScore, 0, len(w.Phonemes))}
		for _, p := range w.Phonemes {
			ws.Phonemes = append(ws.Phonemes, model.PhonemeScore{Phoneme: p.Phoneme, Pronunciation: p.Pronunciation})
		}
		result.Words = append(result.Words, ws)
	}
	return result, nil
}

type ttsFrame struct {
	Common   ttsCommon   `json:"common"`
	Business ttsBusiness `json:"business"`
	Data     ttsData     `json:"data"`
}

type ttsCommon struct {
	AppID string `json:"app_id"`
}

type ttsBusiness struct {
	AUE   string `json:"aue"`
	SFL   int    `json:"sfl"`
	AUF   string `json:"auf"`
	VCN   string `json:"vcn"`
	TTE   string `json:"tte"`
	Speed int    `json:"speed"`
}

type ttsData struct {
	Status int    `json:"status"`
	Text   string `json:"text"`
}

type ttsResponse struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	SID     string `json:"sid"`
	Data    *struct {
		Audio  string `json:"audio"`
		Status int    `json:"status"`
	} `json:"data"`
}

// Synthesize streams mp3 frames for text until the vendor marks the final
// frame.
func (c *XunfeiClient) Synthesize(ctx context.Context, text string) (*model.SynthesizedAudio, error) {
	if !c.configured() {
		return nil, errors.ServerConfiguration()
	}

	frame := ttsFrame{
		Common: ttsCommon{AppID: c.cfg.AppID},
		Business: ttsBusiness{
			AUE:   "lame",
			SFL:   1,
			AUF:   "audio/L16;rate=16000",
			VCN:   c.cfg.Voice,
			TTE:   "UTF8",
			Speed: 45,
		},
		Data: ttsData{
			Status: xunfeiStatusFinal,
			Text:   base64.StdEncoding.EncodeToString([]byte(text)),
		},
	}

	conn, err := c.dial(ctx, c.cfg.TTSURL)
	if err != nil {
		return nil, err
	}
	defer c.closeConn(conn)

	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	if err := conn.WriteJSON(frame); err != nil {
		return nil, c.readError(ctx, err)
	}

	var audio bytes.Buffer
	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return nil, c.readError(ctx, err)
		}

		var resp ttsResponse
		if err := json.Unmarshal(msg, &resp); err != nil {
			return nil, errors.Malformed("xunfei tts frame is not valid JSON", err)
		}
		if resp.Code != 0 {
			return nil, errors.VendorError(vendorXunfei, resp.Message).
				WithDetails(map[string]interface{}{"vendor": vendorXunfei, "vendor_code": resp.Code})
		}
		if resp.Data == nil {
			return nil, errors.Malformed("xunfei tts frame has no data", nil)
		}
		chunk, err := base64.StdEncoding.DecodeString(resp.Data.Audio)
		if err != nil {
			return nil, errors.Malformed("xunfei tts audio is not base64", err)
		}
		audio.Write(chunk)

		if resp.Data.Status == xunfeiStatusFinal {
			break
		}
	}

	if audio.Len() == 0 {
		return nil, errors.Malformed("xunfei tts returned no audio", nil)
	}
	return &model.SynthesizedAudio{Data: audio.Bytes(), MIMEType: "audio/mpeg"}, nil
}

func (c *XunfeiClient) dial(ctx context.Context, endpoint string) (*websocket.Conn, error) {
	signed, err := signXunfeiURL(endpoint, c.cfg.APIKey, c.cfg.APISecret, c.now())
	if err != nil {
		return nil, errors.ServerConfiguration()
	}

	conn, resp, err := c.dialer.DialContext(ctx, signed, nil)
	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return nil, errors.VendorTimeout(vendorXunfei, err)
		}
		if resp != nil {
			body, appErr := statusError(vendorXunfei, resp)
			c.log.Debug().Int("status", resp.StatusCode).Str("body", body).Msg("Xunfei handshake rejected")
			return nil, appErr
		}
		return nil, transportError(ctx, vendorXunfei, err)
	}

	if deadline, ok := ctx.Deadline(); ok {
		conn.SetReadDeadline(deadline)
		conn.SetWriteDeadline(deadline)
	}
	return conn, nil
}

func (c *XunfeiClient) readError(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return transportError(ctx, vendorXunfei, err)
	}
	var netErr net.Error
	if stderrors.As(err, &netErr) && netErr.Timeout() {
		return errors.VendorTimeout(vendorXunfei, err)
	}
	var closeErr *websocket.CloseError
	if stderrors.As(err, &closeErr) {
		return errors.ConnectionDropped(vendorXunfei, err)
	}
	return errors.ConnectionFailed(vendorXunfei, err)
}

func (c *XunfeiClient) closeConn(conn *websocket.Conn) {
	conn.WriteControl(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second),
	)
	conn.Close()
}
