package http

import (
	"bytes"
	"context"
	"encoding/json"
	stderrors "errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/windfall/pronunciation_service/internal/errors"
	"github.com/windfall/pronunciation_service/internal/events"
	"github.com/windfall/pronunciation_service/internal/middleware"
	"github.com/windfall/pronunciation_service/internal/model"
	"github.com/windfall/pronunciation_service/internal/repository"
	"github.com/windfall/pronunciation_service/internal/service"
)

type stubEvaluator struct {
	result *model.EvaluationResult
	err    error
}

func (s *stubEvaluator) Name() string { return "stub" }

func (s *stubEvaluator) Evaluate(ctx context.Context, req model.EvaluationRequest) (*model.EvaluationResult, error) {
	return s.result, s.err
}

type stubSynth struct{ calls int }

func (s *stubSynth) Name() string { return "stub" }

func (s *stubSynth) Synthesize(ctx context.Context, text string) (*model.SynthesizedAudio, error) {
	s.calls++
	return &model.SynthesizedAudio{Data: []byte("mp3:" + text), MIMEType: "audio/mpeg"}, nil
}

func newAPIHandler(eval *stubEvaluator, synth *stubSynth) *APIHandler {
	log := zerolog.Nop()
	evalSvc := service.NewEvaluationService(eval, events.NewLogPublisher(log), service.EvaluationConfig{
		Timeout:       time.Second,
		MaxAudioBytes: 1 << 20,
	}, log)
	ttsSvc := service.NewTTSService(synth, repository.NewMemoryAudioCache(), time.Hour, time.Second, log)
	return NewAPIHandler(log, evalSvc, ttsSvc, 1<<20)
}

func postJSON(h http.HandlerFunc, path, body string, header ...string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	for i := 0; i+1 < len(header); i += 2 {
		req.Header.Set(header[i], header[i+1])
	}
	rec := httptest.NewRecorder()
	h(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var body map[string]interface{}
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	return body
}

const validEvaluation = `{"audioBase64":"aGVsbG8=","audioMimeType":"audio/webm","referenceText":"see"}`

func TestAPIHandler_Evaluate(t *testing.T) {
	tests := []struct {
		name       string
		eval       *stubEvaluator
		body       string
		wantStatus int
		wantKeys   []string
		wantCode   string
	}{
		{
			name: "detailed",
			eval: &stubEvaluator{result: &model.EvaluationResult{
				Kind: model.KindDetailed, Overall: 88, Pronunciation: 90, Integrity: 100, Fluency: 80,
				Words: []model.WordScore{{Word: "see", Phonemes: []model.PhonemeScore{{Phoneme: "s", Pronunciation: 95}}}},
			}},
			body:       validEvaluation,
			wantStatus: http.StatusOK,
			wantKeys:   []string{"overall", "pronunciation", "integrity", "fluency", "words"},
		},
		{
			name:       "score",
			eval:       &stubEvaluator{result: &model.EvaluationResult{Kind: model.KindScore, Overall: 93, Feedback: "很好"}},
			body:       validEvaluation,
			wantStatus: http.StatusOK,
			wantKeys:   []string{"score", "feedback"},
		},
		{
			name:       "missing fields",
			eval:       &stubEvaluator{},
			body:       `{"audioBase64":"aGVsbG8="}`,
			wantStatus: http.StatusBadRequest,
			wantCode:   "VALIDATION_ERROR",
		},
		{
			name:       "invalid json",
			eval:       &stubEvaluator{},
			body:       `{`,
			wantStatus: http.StatusBadRequest,
			wantCode:   "VALIDATION_ERROR",
		},
		{
			name:       "vendor timeout",
			eval:       &stubEvaluator{err: errors.VendorTimeout("stub", context.DeadlineExceeded)},
			body:       validEvaluation,
			wantStatus: http.StatusGatewayTimeout,
			wantCode:   "VENDOR_TIMEOUT",
		},
		{
			name:       "out of range",
			eval:       &stubEvaluator{result: &model.EvaluationResult{Kind: model.KindScore, Overall: 140}},
			body:       validEvaluation,
			wantStatus: http.StatusBadGateway,
			wantCode:   "MALFORMED_VENDOR_RESPONSE",
		},
		{
			name:       "unexpected error",
			eval:       &stubEvaluator{err: stderrors.New("secret=abc")},
			body:       validEvaluation,
			wantStatus: http.StatusInternalServerError,
			wantCode:   "INTERNAL_ERROR",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newAPIHandler(tt.eval, &stubSynth{})
			rec := postJSON(h.Evaluate, "/api/evaluation", tt.body)

			if rec.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d: %s", rec.Code, tt.wantStatus, rec.Body.String())
			}
			body := decodeBody(t, rec)
			for _, k := range tt.wantKeys {
				if _, ok := body[k]; !ok {
					t.Errorf("missing key %q in %v", k, body)
				}
			}
			if tt.wantCode != "" {
				if body["code"] != tt.wantCode {
					t.Errorf("code = %v, want %s", body["code"], tt.wantCode)
				}
				msg, _ := body["error"].(string)
				if msg == "" || strings.Contains(msg, "secret") {
					t.Errorf("error message = %q", msg)
				}
			}
		})
	}
}

func TestAPIHandler_Synthesize(t *testing.T) {
	synth := &stubSynth{}
	h := newAPIHandler(&stubEvaluator{}, synth)

	rec := postJSON(h.Synthesize, "/api/tts", `{"text":"apple"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}
	var got TTSResponse
	json.NewDecoder(rec.Body).Decode(&got)
	if got.AudioBase64 != "bXAzOmFwcGxl" || got.MIMEType != "audio/mpeg" {
		t.Errorf("response = %+v", got)
	}

	postJSON(h.Synthesize, "/api/tts", `{"text":"apple"}`)
	if synth.calls != 1 {
		t.Errorf("vendor calls = %d, want cached second call", synth.calls)
	}

	rec = postJSON(h.Synthesize, "/api/tts", `{"text":"   "}`)
	if rec.Code != http.StatusBadRequest || decodeBody(t, rec)["code"] != "EMPTY_INPUT" {
		t.Errorf("empty text status = %d", rec.Code)
	}
	if synth.calls != 1 {
		t.Error("empty text reached the vendor")
	}
}

func TestAPIHandler_BodyLimit(t *testing.T) {
	h := newAPIHandler(&stubEvaluator{}, &stubSynth{})
	h.maxBodyBytes = 32

	body := `{"audioBase64":"` + strings.Repeat("A", 64) + `","audioMimeType":"audio/webm","referenceText":"see"}`
	rec := postJSON(h.Evaluate, "/api/evaluation", body)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d", rec.Code)
	}
}

func TestAuthHandler_Flow(t *testing.T) {
	log := zerolog.Nop()
	auth := service.NewAuthService(repository.NewMemorySessionRepository(), service.AuthConfig{
		JWTSecret:          "test-secret",
		SessionTTL:         time.Hour,
		OTPTTL:             time.Minute,
		MockOTPCode:        "123456",
		ActivationCodePool: 10000,
	}, log)
	h := NewAuthHandler(log, auth)
	activate := middleware.Auth(auth)(http.HandlerFunc(h.Activate))

	if rec := postJSON(h.SendOTP, "/api/auth/otp", `{"phone":"123"}`); rec.Code != http.StatusBadRequest {
		t.Errorf("bad phone status = %d", rec.Code)
	}
	if rec := postJSON(h.SendOTP, "/api/auth/otp", `{"phone":"13800138000"}`); rec.Code != http.StatusNoContent {
		t.Fatalf("otp status = %d", rec.Code)
	}
	if rec := postJSON(h.Verify, "/api/auth/verify", `{"phone":"13800138000","code":"654321"}`); rec.Code != http.StatusUnauthorized {
		t.Errorf("wrong code status = %d", rec.Code)
	}

	rec := postJSON(h.Verify, "/api/auth/verify", `{"phone":"13800138000","code":"123456"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("verify status = %d: %s", rec.Code, rec.Body.String())
	}
	var session service.AuthResponse
	json.NewDecoder(rec.Body).Decode(&session)
	if session.Identifier != "13800138000" || session.Token == "" || session.Activated {
		t.Fatalf("session = %+v", session)
	}
	bearer := "Bearer " + session.Token

	me := func() *model.User {
		req := httptest.NewRequest(http.MethodGet, "/api/auth/me", nil)
		req.Header.Set("Authorization", bearer)
		rec := httptest.NewRecorder()
		h.Me(rec, req)
		var got MeResponse
		json.NewDecoder(rec.Body).Decode(&got)
		return got.User
	}
	if u := me(); u == nil || u.Identifier != "13800138000" {
		t.Fatalf("me = %+v", u)
	}

	rec = httptest.NewRecorder()
	activate.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/auth/activate", strings.NewReader(`{"code":"000042"}`)))
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("activate without token status = %d", rec.Code)
	}

	req := httptest.NewRequest(http.MethodPost, "/api/auth/activate", bytes.NewBufferString(`{"code":"000042"}`))
	req.Header.Set("Authorization", bearer)
	rec = httptest.NewRecorder()
	activate.ServeHTTP(rec, req)
	var act ActivateResponse
	json.NewDecoder(rec.Body).Decode(&act)
	if rec.Code != http.StatusOK || !act.Activated {
		t.Errorf("activate = %d %+v", rec.Code, act)
	}
	if u := me(); u == nil || !u.Activated {
		t.Errorf("user not activated: %+v", u)
	}

	if rec := postJSON(h.Logout, "/api/auth/logout", ``, "Authorization", bearer); rec.Code != http.StatusNoContent {
		t.Errorf("logout status = %d", rec.Code)
	}
	if u := me(); u != nil {
		t.Errorf("me after logout = %+v", u)
	}
}

func TestHealthHandler(t *testing.T) {
	failing := false
	h := NewHealthHandler("pronunciation_service", map[string]ReadinessCheck{
		"redis": func(ctx context.Context) error {
			if failing {
				return stderrors.New("connection refused")
			}
			return nil
		},
	})

	get := func(fn http.HandlerFunc) int {
		rec := httptest.NewRecorder()
		fn(rec, httptest.NewRequest(http.MethodGet, "/", nil))
		return rec.Code
	}

	if code := get(h.Health); code != http.StatusOK {
		t.Errorf("health = %d", code)
	}
	if code := get(h.Ready); code != http.StatusOK {
		t.Errorf("ready = %d", code)
	}
	failing = true
	if code := get(h.Ready); code != http.StatusServiceUnavailable {
		t.Errorf("ready with failing check = %d", code)
	}
	failing = false
	h.SetReady(false)
	if code := get(h.Ready); code != http.StatusServiceUnavailable {
		t.Errorf("ready after SetReady(false) = %d", code)
	}
	if code := get(h.Live); code != http.StatusOK {
		t.Errorf("live = %d", code)
	}
}
