package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"

	"github.com/windfall/pronunciation_service/internal/client"
	"github.com/windfall/pronunciation_service/internal/config"
	"github.com/windfall/pronunciation_service/internal/events"
	"github.com/windfall/pronunciation_service/internal/handler/http"
	"github.com/windfall/pronunciation_service/internal/logger"
	"github.com/windfall/pronunciation_service/internal/proxy"
	"github.com/windfall/pronunciation_service/internal/repository"
	"github.com/windfall/pronunciation_service/internal/server"
	"github.com/windfall/pronunciation_service/internal/service"
)

type vendors struct {
	xunfei      *client.XunfeiClient
	siliconFlow *client.SiliconFlowClient
	gemini      *client.GeminiClient
	azure       *client.AzureSpeechClient
	baidu       *client.BaiduClient
}

func newVendors(ctx context.Context, cfg *config.Config, log zerolog.Logger) *vendors {
	return &vendors{
		xunfei: client.NewXunfeiClient(client.XunfeiConfig{
			AppID:     cfg.XunfeiAppID,
			APIKey:    cfg.XunfeiAPIKey,
			APISecret: cfg.XunfeiAPISecret,
			ISEURL:    cfg.XunfeiISEURL,
			TTSURL:    cfg.XunfeiTTSURL,
			Voice:     cfg.XunfeiTTSVoice,
		}, logger.Component(log, "xunfei")),
		siliconFlow: client.NewSiliconFlowClient(client.SiliconFlowConfig{
			APIKey:    cfg.SiliconFlowAPIKey,
			BaseURL:   cfg.SiliconFlowBaseURL,
			ASRModel:  cfg.SiliconFlowASRModel,
			ChatModel: cfg.SiliconFlowChatModel,
			Timeout:   cfg.EvaluationTimeout,
		}, logger.Component(log, "siliconflow")),
		gemini: client.NewGeminiClient(ctx, client.GeminiConfig{
			APIKey:    cfg.GeminiAPIKey,
			ProjectID: cfg.GeminiProjectID,
			Location:  cfg.GCPLocation,
			Model:     cfg.GeminiModel,
			TTSModel:  cfg.GeminiTTSModel,
			TTSVoice:  cfg.GeminiTTSVoice,
		}, logger.Component(log, "gemini")),
		azure: client.NewAzureSpeechClient(client.AzureSpeechConfig{
			APIKey: cfg.AzureAISpeechKey,
			Region: cfg.AzureServiceRegion,
			Voice:  cfg.AzureTTSVoice,
		}, logger.Component(log, "azure")),
		baidu: client.NewBaiduClient(client.BaiduConfig{
			APIKey:    cfg.BaiduAPIKey,
			SecretKey: cfg.BaiduSecretKey,
			TokenURL:  cfg.BaiduTokenURL,
			TTSURL:    cfg.BaiduTTSURL,
			CUID:      cfg.BaiduCUID,
		}, logger.Component(log, "baidu")),
	}
}

func (v *vendors) evaluator(name string) service.Evaluator {
	switch name {
	case config.VendorSiliconFlow:
		return v.siliconFlow
	case config.VendorGemini:
		return v.gemini
	case config.VendorAzure:
		return v.azure
	default:
		return v.xunfei
	}
}

func (v *vendors) synthesizer(name string) service.Synthesizer {
	switch name {
	case config.VendorBaidu:
		return v.baidu
	case config.VendorGemini:
		return v.gemini
	case config.VendorAzure:
		return v.azure
	default:
		return v.xunfei
	}
}

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		panic("failed to load config: " + err.Error())
	}

	// Initialize logger
	log := logger.New(cfg.LogLevel, cfg.LogFormat)
	log.Info().
		Str("env", cfg.Environment).
		Str("evaluation_vendor", cfg.EvaluationVendor).
		Str("tts_vendor", cfg.TTSVendor).
		Str("proxy_mode", cfg.ProxyMode).
		Msg("Starting pronunciation_service")

	if !cfg.IsDevelopment() && cfg.JWTSecret == config.DefaultJWTSecret {
		log.Warn().Msg("JWT_SECRET is the development default, session tokens are forgeable")
	}

	// Create context for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	v := newVendors(ctx, cfg, log)

	// Initialize Redis client
	var redisClient *client.RedisClient
	if cfg.RedisURL != "" {
		redisClient, err = client.NewRedisClient(cfg.RedisURL)
		if err != nil {
			log.Error().Err(err).Msg("Failed to initialize Redis client, using in-memory stores")
		} else {
			log.Info().Msg("Redis client initialized")
		}
	} else {
		log.Warn().Msg("REDIS_URL not set, using in-memory stores")
	}

	// Initialize repositories
	var (
		sessionRepo repository.SessionRepository
		audioCache  repository.AudioCache
	)
	readiness := map[string]http.ReadinessCheck{}
	if redisClient != nil {
		sessionRepo = repository.NewRedisSessionRepository(redisClient)
		audioCache = repository.NewRedisAudioCache(redisClient)
		readiness["redis"] = redisClient.Ping
	} else {
		sessionRepo = repository.NewMemorySessionRepository()
		audioCache = repository.NewMemoryAudioCache()
	}

	// Initialize event publisher
	publisher, err := events.New(ctx, events.Config{
		Sink:            cfg.EventSink,
		KafkaBrokers:    cfg.KafkaBrokers,
		KafkaTopic:      cfg.KafkaTopic,
		PubSubProjectID: cfg.PubSubProjectID,
		PubSubTopic:     cfg.PubSubTopic,
	}, logger.Component(log, "events"))
	if err != nil {
		log.Error().Err(err).Msg("Failed to initialize event sink, falling back to log-only events")
		publisher = events.NewLogPublisher(logger.Component(log, "events"))
	}

	// Initialize services
	evaluationService := service.NewEvaluationService(v.evaluator(cfg.EvaluationVendor), publisher, service.EvaluationConfig{
		Timeout:        cfg.EvaluationTimeout,
		TimeoutRetries: cfg.EvaluationTimeoutRetries,
		MaxAudioBytes:  cfg.MaxAudioBytes,
	}, logger.Component(log, "evaluation"))
	ttsService := service.NewTTSService(v.synthesizer(cfg.TTSVendor), audioCache, cfg.TTSCacheTTL, cfg.TTSTimeout, logger.Component(log, "tts"))
	authService := service.NewAuthService(sessionRepo, service.AuthConfig{
		JWTSecret:          cfg.JWTSecret,
		SessionTTL:         cfg.SessionTTL,
		OTPTTL:             cfg.OTPTTL,
		MockOTPCode:        cfg.MockOTPCode,
		ActivationCodePool: cfg.ActivationCodePool,
	}, logger.Component(log, "auth"))

	// Initialize handlers
	healthHandler := http.NewHealthHandler("pronunciation_service", readiness)
	handlers := server.Handlers{
		Health:        healthHandler,
		API:           http.NewAPIHandler(log, evaluationService, ttsService, cfg.MaxAudioBytes),
		Auth:          http.NewAuthHandler(log, authService),
		Authenticator: authService,
		Passthrough:   proxy.New(cfg.EvaluationTimeout, logger.Component(log, "passthrough")),
		Routes: proxy.Routes(proxy.Config{
			BaiduTokenURL:  cfg.BaiduTokenURL,
			BaiduTTSURL:    cfg.BaiduTTSURL,
			BaiduAPIKey:    cfg.BaiduAPIKey,
			BaiduSecretKey: cfg.BaiduSecretKey,
			BaiduCUID:      cfg.BaiduCUID,
			EvaluationURL:  cfg.PassthroughEvaluationURL,
			XunfeiAppID:    cfg.XunfeiAppID,
			XunfeiAPIKey:   cfg.XunfeiAPIKey,
		}, v.baidu),
	}

	// Initialize HTTP server
	httpServer := server.NewHTTPServer(cfg, log, handlers)

	go func() {
		if err := httpServer.Start(); err != nil {
			log.Error().Err(err).Msg("HTTP server error")
			cancel()
		}
	}()

	log.Info().
		Str("http_addr", cfg.HTTPAddress()).
		Msg("Server started")

	// Wait for shutdown signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-quit:
		log.Info().Msg("Shutdown signal received")
	case <-ctx.Done():
		log.Info().Msg("Context cancelled")
	}

	// Graceful shutdown
	healthHandler.SetReady(false)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP server shutdown error")
	}

	// Flush pending events, then close clients
	evaluationService.Wait()
	if err := publisher.Close(); err != nil {
		log.Error().Err(err).Msg("Event publisher close error")
	}
	if redisClient != nil {
		redisClient.Close()
	}

	log.Info().Msg("Server stopped")
}
