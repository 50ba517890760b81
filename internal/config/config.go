package config

import (
	"os"
	"strconv"
	"time"
)

// Config holds the agent process configuration.
type Config struct {
	// SIP identity (passed through to the transport adapter)
	SIPUser   string
	SIPDomain string
	SIPPasswd string
	SIPProxy  string

	// Deepgram streaming transcription
	DeepgramAPIKey   string
	DeepgramLanguage string
	DeepgramModel    string

	// LLM (OpenAI-compatible chat completions endpoint)
	LLMAPIKey  string
	LLMBaseURL string
	LLMModel   string
	// Model used for post-call history analysis
	PostCallModel string

	// ElevenLabs speech synthesis
	ElevenLabsAPIKey  string
	ElevenLabsVoiceID string
	ElevenLabsModelID string

	// AmoCRM-style record system
	CRMSubdomain   string
	CRMAccessToken string

	// CRM resolution retry policy applied before answering a call
	ResolveAttempts int
	ResolveBackoff  time.Duration

	// Media loop tick interval
	TickInterval time.Duration

	// Redis (optional; session registry and funnel config cache)
	RedisHost     string
	RedisPort     string
	RedisPassword string
	RedisDB       int

	// Local SQLite store for call records (empty disables persistence)
	SQLitePath string

	// Observation HTTP API
	HTTPPort string

	// Working directories
	RecordingsDir  string
	TTSTmpDir      string
	HistoryDir     string
	AnalysisDir    string
	FunnelYAMLPath string
	EnrichedPath   string

	// Audio file played while CRM resolution is in flight
	RingbackPath string
}

// LoadConfigFromEnv loads the agent configuration from environment variables.
// The .env file is loaded in cmd/agent/main.go for local development.
func LoadConfigFromEnv() *Config {
	return &Config{
		SIPUser:   getEnvOrDefault("SIP_USER", ""),
		SIPDomain: getEnvOrDefault("SIP_DOMAIN", ""),
		SIPPasswd: getEnvOrDefault("SIP_PASSWD", ""),
		SIPProxy:  getEnvOrDefault("SIP_PROXY", ""),

		DeepgramAPIKey:   getEnvOrDefault("DEEPGRAM_API_KEY", ""),
		DeepgramLanguage: getEnvOrDefault("DEEPGRAM_LANGUAGE", "ru"),
		DeepgramModel:    getEnvOrDefault("DEEPGRAM_MODEL", "nova-2"),

		LLMAPIKey:     getEnvOrDefault("LLM_API_KEY", ""),
		LLMBaseURL:    getEnvOrDefault("LLM_BASE_URL", "https://api.groq.com/openai"),
		LLMModel:      getEnvOrDefault("LLM_MODEL", "llama-3.3-70b-versatile"),
		PostCallModel: getEnvOrDefault("POST_CALL_MODEL", "qwen-qwq-32b"),

		ElevenLabsAPIKey:  getEnvOrDefault("ELEVENLABS_API_KEY", ""),
		ElevenLabsVoiceID: getEnvOrDefault("ELEVENLABS_VOICE_ID", "wqS2JTzjt7fARO3ZxCVZ"),
		ElevenLabsModelID: getEnvOrDefault("ELEVENLABS_MODEL_ID", "eleven_flash_v2_5"),

		CRMSubdomain:   getEnvOrDefault("AMOCRM_SUBDOMAIN", ""),
		CRMAccessToken: getEnvOrDefault("AMOCRM_ACCESS_TOKEN", ""),

		ResolveAttempts: getEnvAsIntOrDefault("RESOLVE_ATTEMPTS", 5),
		ResolveBackoff:  getEnvAsDurationOrDefault("RESOLVE_BACKOFF", 700*time.Millisecond),

		TickInterval: getEnvAsDurationOrDefault("TICK_INTERVAL", 100*time.Millisecond),

		RedisHost:     getEnvOrDefault("REDIS_HOST", ""),
		RedisPort:     getEnvOrDefault("REDIS_PORT", "6379"),
		RedisPassword: getEnvOrDefault("REDIS_PASSWORD", ""),
		RedisDB:       getEnvAsIntOrDefault("REDIS_DB", 0),

		SQLitePath: getEnvOrDefault("SQLITE_PATH", "astra_sip_agent.db"),

		HTTPPort: getEnvOrDefault("HTTP_PORT", "8083"),

		RecordingsDir:  getEnvOrDefault("RECORDINGS_DIR", "recordings"),
		TTSTmpDir:      getEnvOrDefault("TTS_TMP_DIR", "/tmp/astra_sip_tts"),
		HistoryDir:     getEnvOrDefault("HISTORY_DIR", "dialog_history"),
		AnalysisDir:    getEnvOrDefault("ANALYSIS_DIR", "post_analysis"),
		FunnelYAMLPath: getEnvOrDefault("FUNNEL_CONFIG_PATH", "funnel.yaml"),
		EnrichedPath:   getEnvOrDefault("ENRICHED_FUNNEL_PATH", "enriched_funnel.json"),

		RingbackPath: getEnvOrDefault("RINGBACK_PATH", ""),
	}
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsIntOrDefault(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvAsDurationOrDefault(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if parsed, err := time.ParseDuration(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}
