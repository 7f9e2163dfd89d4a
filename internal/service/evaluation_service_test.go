package service

import (
	"context"
	"encoding/base64"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/windfall/pronunciation_service/internal/errors"
	"github.com/windfall/pronunciation_service/internal/events"
	"github.com/windfall/pronunciation_service/internal/model"
)

type fakeEvaluator struct {
	mu      sync.Mutex
	calls   int
	results []*model.EvaluationResult
	errs    []error
	block   bool
	lastReq model.EvaluationRequest
}

func (f *fakeEvaluator) Name() string { return "fake" }

func (f *fakeEvaluator) Evaluate(ctx context.Context, req model.EvaluationRequest) (*model.EvaluationResult, error) {
	f.mu.Lock()
	i := f.calls
	f.calls++
	f.lastReq = req
	f.mu.Unlock()

	if f.block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	var res *model.EvaluationResult
	var err error
	if i < len(f.results) {
		res = f.results[i]
	}
	if i < len(f.errs) {
		err = f.errs[i]
	}
	return res, err
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []events.EvaluationCompleted
}

func (p *recordingPublisher) PublishEvaluation(ctx context.Context, e events.EvaluationCompleted) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, e)
	return nil
}

func (p *recordingPublisher) Close() error { return nil }

func validRequest() model.EvaluationRequest {
	return model.EvaluationRequest{
		AudioBase64:   base64.StdEncoding.EncodeToString([]byte("audio")),
		AudioMimeType: "audio/webm",
		ReferenceText: " see ",
	}
}

func TestEvaluationService_Success(t *testing.T) {
	ev := &fakeEvaluator{results: []*model.EvaluationResult{{Kind: model.KindScore, Overall: 93, Feedback: "好"}}}
	pub := &recordingPublisher{}
	s := NewEvaluationService(ev, pub, EvaluationConfig{Timeout: time.Second, MaxAudioBytes: 1024}, zerolog.Nop())

	got, err := s.Evaluate(context.Background(), validRequest())
	if err != nil {
		t.Fatalf("Evaluate() error = %v", err)
	}
	if got.Overall != 93 {
		t.Errorf("overall = %v", got.Overall)
	}
	if string(ev.lastReq.Audio) != "audio" || ev.lastReq.ReferenceText != "see" {
		t.Errorf("vendor request = %+v", ev.lastReq)
	}

	s.Wait()
	if len(pub.events) != 1 || pub.events[0].Overall == nil || *pub.events[0].Overall != 93 || pub.events[0].RequestID == "" {
		t.Errorf("events = %+v", pub.events)
	}
}

func TestEvaluationService_Validation(t *testing.T) {
	s := NewEvaluationService(&fakeEvaluator{}, nil, EvaluationConfig{Timeout: time.Second, MaxAudioBytes: 4}, zerolog.Nop())

	tests := []struct {
		name string
		mut  func(*model.EvaluationRequest)
	}{
		{"missing audio", func(r *model.EvaluationRequest) { r.AudioBase64 = "" }},
		{"missing mime", func(r *model.EvaluationRequest) { r.AudioMimeType = "" }},
		{"blank reference", func(r *model.EvaluationRequest) { r.ReferenceText = "  " }},
		{"bad base64", func(r *model.EvaluationRequest) { r.AudioBase64 = "%%%" }},
		{"too large", func(r *model.EvaluationRequest) {}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := validRequest()
			tt.mut(&req)
			_, err := s.Evaluate(context.Background(), req)
			if !errors.Is(err, errors.ErrValidation) {
				t.Errorf("err = %v, want validation error", err)
			}
		})
	}
}

func TestEvaluationService_DataURL(t *testing.T) {
	ev := &fakeEvaluator{results: []*model.EvaluationResult{{Kind: model.KindScore, Overall: 50}}}
	s := NewEvaluationService(ev, nil, EvaluationConfig{Timeout: time.Second}, zerolog.Nop())

	req := validRequest()
	req.AudioBase64 = "data:audio/webm;base64," + req.AudioBase64
	if _, err := s.Evaluate(context.Background(), req); err != nil {
		t.Fatal(err)
	}
	if string(ev.lastReq.Audio) != "audio" {
		t.Errorf("audio = %q", ev.lastReq.Audio)
	}
}

func TestEvaluationService_OutOfRange(t *testing.T) {
	ev := &fakeEvaluator{results: []*model.EvaluationResult{{Kind: model.KindScore, Overall: 140}}}
	pub := &recordingPublisher{}
	s := NewEvaluationService(ev, pub, EvaluationConfig{Timeout: time.Second}, zerolog.Nop())

	_, err := s.Evaluate(context.Background(), validRequest())
	if !errors.Is(err, errors.ErrMalformedResponse) {
		t.Errorf("err = %v", err)
	}
	s.Wait()
	if len(pub.events) != 1 || pub.events[0].ErrorCode != string(errors.ErrMalformedResponse) || pub.events[0].Overall != nil {
		t.Errorf("events = %+v", pub.events)
	}
}

func TestEvaluationService_Timeout(t *testing.T) {
	ev := &fakeEvaluator{block: true}
	s := NewEvaluationService(ev, nil, EvaluationConfig{Timeout: 20 * time.Millisecond, TimeoutRetries: 2}, zerolog.Nop())

	start := time.Now()
	_, err := s.Evaluate(context.Background(), validRequest())
	if !errors.Is(err, errors.ErrVendorTimeout) {
		t.Fatalf("err = %v, want vendor timeout", err)
	}
	if ev.calls != 3 {
		t.Errorf("calls = %d, want 3", ev.calls)
	}
	if time.Since(start) > 2*time.Second {
		t.Error("timeout was not bounded")
	}
}

func TestEvaluationService_RetryOnlyTimeouts(t *testing.T) {
	ev := &fakeEvaluator{
		errs: []error{errors.VendorTimeout("fake", nil), errors.VendorError("fake", "bad audio")},
	}
	s := NewEvaluationService(ev, nil, EvaluationConfig{Timeout: time.Second, TimeoutRetries: 3}, zerolog.Nop())

	_, err := s.Evaluate(context.Background(), validRequest())
	if !errors.Is(err, errors.ErrVendorError) {
		t.Errorf("err = %v", err)
	}
	if ev.calls != 2 {
		t.Errorf("calls = %d, want 2", ev.calls)
	}
}
