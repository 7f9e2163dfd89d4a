package service

import (
	"context"
	stderrors "errors"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/windfall/pronunciation_service/internal/errors"
	"github.com/windfall/pronunciation_service/internal/metrics"
	"github.com/windfall/pronunciation_service/internal/model"
	"github.com/windfall/pronunciation_service/internal/repository"
)

// Synthesizer is one vendor binding of the TTS proxy.
type Synthesizer interface {
	Name() string
	Synthesize(ctx context.Context, text string) (*model.SynthesizedAudio, error)
}

// TTSService produces reference audio, serving repeats from a cache.
type TTSService struct {
	synth    Synthesizer
	cache    repository.AudioCache
	cacheTTL time.Duration
	timeout  time.Duration
	metrics  *metrics.Metrics
	log      zerolog.Logger
}

// NewTTSService creates a new TTSService. cache may be nil.
func NewTTSService(synth Synthesizer, cache repository.AudioCache, cacheTTL, timeout time.Duration, log zerolog.Logger) *TTSService {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &TTSService{
		synth:    synth,
		cache:    cache,
		cacheTTL: cacheTTL,
		timeout:  timeout,
		metrics:  metrics.DefaultMetrics,
		log:      log,
	}
}

// Synthesize returns audio for text. Blank text fails before any cache or
// vendor access.
func (s *TTSService) Synthesize(ctx context.Context, text string) (*model.SynthesizedAudio, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, errors.EmptyInput("Text is required.")
	}

	vendor := s.synth.Name()
	key := repository.AudioCacheKey(vendor, text)

	if s.cache != nil {
		audio, err := s.cache.Get(ctx, key)
		switch {
		case err == nil:
			s.metrics.TTSCacheHits.Inc()
			return audio, nil
		case !stderrors.Is(err, repository.ErrNotFound):
			s.log.Warn().Err(err).Msg("TTS cache read failed")
		}
	}
	s.metrics.TTSCacheMisses.Inc()

	start := time.Now()
	callCtx, cancel := context.WithTimeout(ctx, s.timeout)
	audio, err := s.synth.Synthesize(callCtx, text)
	if err != nil && callCtx.Err() == context.DeadlineExceeded && ctx.Err() == nil {
		if _, ok := errors.As(err); !ok {
			err = errors.VendorTimeout(vendor, err)
		}
	}
	cancel()

	if err == nil && (audio == nil || len(audio.Data) == 0) {
		err = errors.Malformed("TTS vendor returned no audio.", nil)
	}
	s.metrics.RecordVendorCall(vendor, "synthesize", string(errors.CodeOf(err)), start)
	if err != nil {
		s.log.Warn().Err(err).Str("vendor", vendor).Msg("TTS failed")
		return nil, err
	}

	if s.cache != nil {
		if err := s.cache.Set(ctx, key, audio, s.cacheTTL); err != nil {
			s.log.Warn().Err(err).Msg("TTS cache write failed")
		}
	}
	return audio, nil
}
