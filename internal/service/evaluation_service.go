package service

import (
	"context"
	"encoding/base64"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/windfall/pronunciation_service/internal/errors"
	"github.com/windfall/pronunciation_service/internal/events"
	"github.com/windfall/pronunciation_service/internal/metrics"
	"github.com/windfall/pronunciation_service/internal/model"
)

// Evaluator is one vendor binding of the evaluation proxy.
type Evaluator interface {
	Name() string
	Evaluate(ctx context.Context, req model.EvaluationRequest) (*model.EvaluationResult, error)
}

// EvaluationConfig bounds a single evaluation.
type EvaluationConfig struct {
	Timeout        time.Duration
	TimeoutRetries int
	MaxAudioBytes  int64
}

// EvaluationService validates evaluation requests, calls the configured
// vendor under a bounded wait and reports the outcome.
type EvaluationService struct {
	evaluator Evaluator
	publisher events.Publisher
	cfg       EvaluationConfig
	metrics   *metrics.Metrics
	log       zerolog.Logger
	wg        sync.WaitGroup
}

// NewEvaluationService creates a new EvaluationService.
func NewEvaluationService(evaluator Evaluator, publisher events.Publisher, cfg EvaluationConfig, log zerolog.Logger) *EvaluationService {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	return &EvaluationService{
		evaluator: evaluator,
		publisher: publisher,
		cfg:       cfg,
		metrics:   metrics.DefaultMetrics,
		log:       log,
	}
}

// Vendor returns the configured vendor name.
func (s *EvaluationService) Vendor() string { return s.evaluator.Name() }

// Evaluate scores one recording against its reference text.
func (s *EvaluationService) Evaluate(ctx context.Context, req model.EvaluationRequest) (*model.EvaluationResult, error) {
	if strings.TrimSpace(req.AudioBase64) == "" || strings.TrimSpace(req.AudioMimeType) == "" || strings.TrimSpace(req.ReferenceText) == "" {
		return nil, errors.Validation("Missing required fields.")
	}

	audio, err := decodeAudio(req.AudioBase64)
	if err != nil {
		return nil, errors.Validation("audioBase64 is not valid base64.")
	}
	if len(audio) == 0 {
		return nil, errors.Validation("Audio is empty.")
	}
	if s.cfg.MaxAudioBytes > 0 && int64(len(audio)) > s.cfg.MaxAudioBytes {
		return nil, errors.Validation(fmt.Sprintf("Audio exceeds %d bytes.", s.cfg.MaxAudioBytes))
	}
	req.Audio = audio
	req.ReferenceText = strings.TrimSpace(req.ReferenceText)

	requestID := uuid.NewString()
	vendor := s.evaluator.Name()
	start := time.Now()

	result, err := s.call(ctx, requestID, req)
	if err == nil && !result.InRange() {
		err = errors.Malformed("Evaluation score out of range.", nil)
		result = nil
	}

	code := errors.CodeOf(err)
	s.metrics.RecordVendorCall(vendor, "evaluate", string(code), start)

	logEvent := s.log.Info()
	if err != nil {
		logEvent = s.log.Warn().Err(err)
	}
	logEvent.
		Str("request_id", requestID).
		Str("vendor", vendor).
		Str("reference", req.ReferenceText).
		Int("audio_bytes", len(audio)).
		Dur("duration", time.Since(start)).
		Msg("Evaluation finished")

	event := events.EvaluationCompleted{
		RequestID:     requestID,
		Vendor:        vendor,
		ReferenceText: req.ReferenceText,
		ErrorCode:     string(code),
		DurationMS:    time.Since(start).Milliseconds(),
		Timestamp:     time.Now().UTC(),
	}
	if result != nil {
		overall := result.Overall
		event.Overall = &overall
		s.metrics.EvaluationScores.Observe(overall)
	}
	s.publish(event)

	if err != nil {
		return nil, err
	}
	return result, nil
}

// call runs the vendor round trip, retrying VendorTimeout up to the
// configured bound.
func (s *EvaluationService) call(ctx context.Context, requestID string, req model.EvaluationRequest) (*model.EvaluationResult, error) {
	for attempt := 0; ; attempt++ {
		callCtx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
		result, err := s.evaluator.Evaluate(callCtx, req)
		timedOut := callCtx.Err() == context.DeadlineExceeded
		cancel()

		if err != nil && timedOut && ctx.Err() == nil {
			if _, ok := errors.As(err); !ok {
				err = errors.VendorTimeout(s.evaluator.Name(), err)
			}
		}
		if err == nil || !errors.Is(err, errors.ErrVendorTimeout) || attempt >= s.cfg.TimeoutRetries || ctx.Err() != nil {
			return result, err
		}

		s.metrics.TimeoutRetries.Inc()
		s.log.Warn().
			Str("request_id", requestID).
			Int("attempt", attempt+1).
			Msg("Evaluation timed out, retrying")
	}
}

// publish sends the event off the request path.
func (s *EvaluationService) publish(event events.EvaluationCompleted) {
	if s.publisher == nil {
		return
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := s.publisher.PublishEvaluation(ctx, event); err != nil {
			s.log.Warn().Err(err).Str("request_id", event.RequestID).Msg("Failed to publish evaluation event")
		}
	}()
}

// Wait blocks until pending event publishes finish.
func (s *EvaluationService) Wait() {
	s.wg.Wait()
}

// decodeAudio accepts plain base64 or a data URL.
func decodeAudio(s string) ([]byte, error) {
	if strings.HasPrefix(s, "data:") {
		if _, rest, ok := strings.Cut(s, ","); ok {
			s = rest
		}
	}
	return base64.StdEncoding.DecodeString(strings.TrimSpace(s))
}
