package config

import (
	"fmt"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// Evaluation vendors.
const (
	VendorXunfei      = "xunfei"
	VendorSiliconFlow = "siliconflow"
	VendorGemini      = "gemini"
	VendorAzure       = "azure"
	VendorBaidu       = "baidu"
)

// Proxy modes.
const (
	ProxyModeNative      = "native"
	ProxyModePassthrough = "passthrough"
)

// DefaultJWTSecret is the development signing secret. Production refuses it.
const DefaultJWTSecret = "dev-secret-change-me"

// Event sinks.
const (
	EventSinkLog    = "log"
	EventSinkKafka  = "kafka"
	EventSinkPubSub = "pubsub"
)

// Config holds all configuration for the service.
type Config struct {
	// Server
	Host     string `envconfig:"SERVER_HOST" default:"0.0.0.0"`
	HTTPPort int    `envconfig:"SERVER_HTTP_PORT" default:"8080"`

	Environment string `envconfig:"SERVER_ENV" default:"development"`

	// Timeouts
	ReadTimeout     time.Duration `envconfig:"SERVER_READ_TIMEOUT" default:"15s"`
	WriteTimeout    time.Duration `envconfig:"SERVER_WRITE_TIMEOUT" default:"45s"`
	IdleTimeout     time.Duration `envconfig:"SERVER_IDLE_TIMEOUT" default:"60s"`
	ShutdownTimeout time.Duration `envconfig:"SERVER_SHUTDOWN_TIMEOUT" default:"30s"`

	// Logging
	LogLevel  string `envconfig:"LOG_LEVEL" default:"info"`
	LogFormat string `envconfig:"LOG_FORMAT" default:"json"`

	// Vendor selection
	EvaluationVendor string `envconfig:"EVALUATION_VENDOR" default:"xunfei"`
	TTSVendor        string `envconfig:"TTS_VENDOR" default:"xunfei"`
	ProxyMode        string `envconfig:"PROXY_MODE" default:"native"`

	// Bounded vendor waits
	EvaluationTimeout        time.Duration `envconfig:"EVALUATION_TIMEOUT" default:"15s"`
	EvaluationTimeoutRetries int           `envconfig:"EVALUATION_TIMEOUT_RETRIES" default:"0"`
	TTSTimeout               time.Duration `envconfig:"TTS_TIMEOUT" default:"15s"`
	MaxAudioBytes            int64         `envconfig:"MAX_AUDIO_BYTES" default:"10485760"`

	// Xunfei
	XunfeiAppID     string `envconfig:"XUNFEI_APP_ID"`
	XunfeiAPIKey    string `envconfig:"XUNFEI_API_KEY"`
	XunfeiAPISecret string `envconfig:"XUNFEI_API_SECRET"`
	XunfeiISEURL    string `envconfig:"XUNFEI_ISE_URL" default:"wss://ise-api.xfyun.cn/v2/open-ise"`
	XunfeiTTSURL    string `envconfig:"XUNFEI_TTS_URL" default:"wss://tts-api.xfyun.cn/v2/tts"`
	XunfeiTTSVoice  string `envconfig:"XUNFEI_TTS_VOICE" default:"xiaoyan"`

	// SiliconFlow (OpenAI compatible)
	SiliconFlowAPIKey    string `envconfig:"SILICONFLOW_API_KEY"`
	SiliconFlowBaseURL   string `envconfig:"SILICONFLOW_BASE_URL" default:"https://api.siliconflow.cn/v1"`
	SiliconFlowASRModel  string `envconfig:"SILICONFLOW_ASR_MODEL" default:"FunAudioLLM/SenseVoiceSmall"`
	SiliconFlowChatModel string `envconfig:"SILICONFLOW_CHAT_MODEL" default:"deepseek-ai/DeepSeek-R1-0528-Qwen3-8B"`

	// Gemini
	GeminiAPIKey    string `envconfig:"GEMINI_API_KEY"`
	GeminiModel     string `envconfig:"GEMINI_MODEL" default:"gemini-2.5-flash"`
	GeminiTTSModel  string `envconfig:"GEMINI_TTS_MODEL" default:"gemini-2.5-flash-preview-tts"`
	GeminiTTSVoice  string `envconfig:"GEMINI_TTS_VOICE" default:"Kore"`
	GeminiProjectID string `envconfig:"GEMINI_PROJECT_ID"`
	GCPLocation     string `envconfig:"GCP_LOCATION" default:"us-central1"`

	// Azure AI Speech
	AzureAISpeechKey   string `envconfig:"AZURE_AI_SPEECH_KEY"`
	AzureServiceRegion string `envconfig:"AZURE_SERVICE_REGION"`
	AzureTTSVoice      string `envconfig:"AZURE_TTS_VOICE" default:"en-GB-SoniaNeural"`

	// Baidu
	BaiduAPIKey    string `envconfig:"BAIDU_API_KEY"`
	BaiduSecretKey string `envconfig:"BAIDU_SECRET_KEY"`
	BaiduTokenURL  string `envconfig:"BAIDU_TOKEN_URL" default:"https://aip.baidubce.com/oauth/2.0/token"`
	BaiduTTSURL    string `envconfig:"BAIDU_TTS_URL" default:"https://tsn.baidu.com/text2audio"`
	BaiduCUID      string `envconfig:"BAIDU_CUID" default:"pronunciation_service"`

	// Passthrough downstream for /api/evaluation
	PassthroughEvaluationURL string `envconfig:"PASSTHROUGH_EVALUATION_URL"`

	// Redis
	RedisURL    string        `envconfig:"REDIS_URL"`
	TTSCacheTTL time.Duration `envconfig:"TTS_CACHE_TTL" default:"24h"`

	// Sessions
	JWTSecret          string        `envconfig:"JWT_SECRET" default:"dev-secret-change-me"`
	SessionTTL         time.Duration `envconfig:"SESSION_TTL" default:"720h"`
	OTPTTL             time.Duration `envconfig:"OTP_TTL" default:"5m"`
	MockOTPCode        string        `envconfig:"MOCK_OTP_CODE" default:"123456"`
	ActivationCodePool int           `envconfig:"ACTIVATION_CODE_POOL" default:"10000"`
	RequireSession     bool          `envconfig:"REQUIRE_SESSION" default:"false"`

	// Events
	EventSink       string   `envconfig:"EVENTS_SINK" default:"log"`
	KafkaBrokers    []string `envconfig:"KAFKA_BROKERS"`
	KafkaTopic      string   `envconfig:"KAFKA_TOPIC" default:"pronunciation.evaluations"`
	PubSubProjectID string   `envconfig:"PUBSUB_PROJECT_ID"`
	PubSubTopic     string   `envconfig:"PUBSUB_TOPIC" default:"pronunciation-evaluations"`

	// CORS
	CORSAllowedOrigins []string `envconfig:"CORS_ALLOWED_ORIGINS" default:"*"`
	CORSAllowedMethods []string `envconfig:"CORS_ALLOWED_METHODS" default:"GET,POST,OPTIONS"`
	CORSAllowedHeaders []string `envconfig:"CORS_ALLOWED_HEADERS" default:"Accept,Authorization,Content-Type,X-Request-ID"`
}

// Load loads configuration from environment variables.
func Load() (*Config, error) {
	// Load .env file if it exists (ignore error if not found)
	_ = godotenv.Load()

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to process env config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks vendor names and bounded waits. Missing vendor secrets are
// reported per request instead.
func (c *Config) Validate() error {
	switch c.EvaluationVendor {
	case VendorXunfei, VendorSiliconFlow, VendorGemini, VendorAzure:
	default:
		return fmt.Errorf("unknown EVALUATION_VENDOR %q", c.EvaluationVendor)
	}
	switch c.TTSVendor {
	case VendorXunfei, VendorBaidu, VendorGemini, VendorAzure:
	default:
		return fmt.Errorf("unknown TTS_VENDOR %q", c.TTSVendor)
	}
	switch c.ProxyMode {
	case ProxyModeNative, ProxyModePassthrough:
	default:
		return fmt.Errorf("unknown PROXY_MODE %q", c.ProxyMode)
	}
	switch c.EventSink {
	case EventSinkLog, EventSinkKafka, EventSinkPubSub:
	default:
		return fmt.Errorf("unknown EVENTS_SINK %q", c.EventSink)
	}
	if c.EvaluationTimeout <= 0 || c.TTSTimeout <= 0 {
		return fmt.Errorf("vendor timeouts must be positive")
	}
	if c.EvaluationTimeoutRetries < 0 || c.EvaluationTimeoutRetries > 3 {
		return fmt.Errorf("EVALUATION_TIMEOUT_RETRIES must be between 0 and 3")
	}
	if c.ActivationCodePool <= 0 || c.ActivationCodePool > 1000000 {
		return fmt.Errorf("ACTIVATION_CODE_POOL must be between 1 and 1000000")
	}
	if c.IsProduction() && (c.JWTSecret == "" || c.JWTSecret == DefaultJWTSecret) {
		return fmt.Errorf("JWT_SECRET must be set in production")
	}
	return nil
}

// HTTPAddress returns the HTTP server address.
func (c *Config) HTTPAddress() string {
	return fmt.Sprintf("%s:%d", c.Host, c.HTTPPort)
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.Environment == "development"
}

// IsProduction returns true if running in production mode.
func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}
