package config

import (
	"os"
	"strings"

	"github.com/joho/godotenv"
)

const (
	defaultHTTPAddr        = ":3001"
	defaultMetricsAddr     = ":9092"
	defaultWorkerHTTPAddr  = ":9093"
	defaultWorkerGRPCAddr  = ":9094"
	defaultNATSURL         = "nats://localhost:4222"
	defaultRedisURL        = "redis://localhost:6379"
	defaultStoreBackend    = StoreRedis
	defaultQueueConfigPath = "config/queues.yaml"
	defaultOpenAIBaseURL   = "https://api.openai.com/v1"
	defaultOpenAIModel     = "gpt-3.5-turbo"

	envHTTPAddr          = "HTTP_ADDR"
	envPort              = "PORT"
	envMetricsAddr       = "METRICS_ADDR"
	envWorkerHTTPAddr    = "RETRY_WORKER_HTTP_ADDR"
	envWorkerGRPCAddr    = "RETRY_WORKER_GRPC_ADDR"
	envNATSURL           = "NATS_URL"
	envRedisURL          = "REDIS_URL"
	envStoreBackend      = "NODEFLOW_STORE"
	envDatabaseURL       = "DATABASE_URL"
	envSupabaseURL       = "SUPABASE_URL"
	envSupabaseKey       = "SUPABASE_SERVICE_ROLE_KEY"
	envSupabaseAnonKey   = "SUPABASE_ANON_KEY"
	envAPITokens         = "NODEFLOW_API_TOKENS"
	envRequireAuth       = "NODEFLOW_REQUIRE_AUTH"
	envOpenAIKey         = "OPENAI_API_KEY"
	envOpenAIBaseURL     = "OPENAI_BASE_URL"
	envOpenAIModel       = "OPENAI_MODEL"
	envWeb3RPCURL        = "WEB3_RPC_URL"
	envQueueConfigPath   = "QUEUE_CONFIG_PATH"
	envDotEnvPath        = "NODEFLOW_ENV_FILE"
	envCORSAllowedOrigin = "CORS_ALLOWED_ORIGINS"
)

// Store backends for workflow and profile persistence.
const (
	StoreRedis    = "redis"
	StorePostgres = "postgres"
)

// Config holds runtime configuration for the gateway and the retry worker.
type Config struct {
	HTTPAddr        string
	MetricsAddr     string
	WorkerHTTPAddr  string
	WorkerGRPCAddr  string
	NatsURL         string
	RedisURL        string
	StoreBackend    string
	DatabaseURL     string
	SupabaseURL     string
	SupabaseKey     string
	APITokens       string
	RequireAuth     bool
	OpenAIKey       string
	OpenAIBaseURL   string
	OpenAIModel     string
	Web3RPCURL      string
	QueueConfigPath string
	AllowedOrigins  []string
}

// Load returns configuration using a .env file (when present) and environment
// variables with sane defaults.
func Load() *Config {
	loadDotEnv()

	httpAddr := os.Getenv(envHTTPAddr)
	if httpAddr == "" {
		if port := strings.TrimSpace(os.Getenv(envPort)); port != "" {
			httpAddr = ":" + port
		} else {
			httpAddr = defaultHTTPAddr
		}
	}

	store := strings.ToLower(strings.TrimSpace(os.Getenv(envStoreBackend)))
	if store != StorePostgres {
		store = defaultStoreBackend
	}

	supabaseKey := os.Getenv(envSupabaseKey)
	if supabaseKey == "" {
		supabaseKey = os.Getenv(envSupabaseAnonKey)
	}

	return &Config{
		HTTPAddr:        httpAddr,
		MetricsAddr:     envOr(envMetricsAddr, defaultMetricsAddr),
		WorkerHTTPAddr:  envOr(envWorkerHTTPAddr, defaultWorkerHTTPAddr),
		WorkerGRPCAddr:  envOr(envWorkerGRPCAddr, defaultWorkerGRPCAddr),
		NatsURL:         envOr(envNATSURL, defaultNATSURL),
		RedisURL:        envOr(envRedisURL, defaultRedisURL),
		StoreBackend:    store,
		DatabaseURL:     strings.TrimSpace(os.Getenv(envDatabaseURL)),
		SupabaseURL:     strings.TrimRight(strings.TrimSpace(os.Getenv(envSupabaseURL)), "/"),
		SupabaseKey:     supabaseKey,
		APITokens:       os.Getenv(envAPITokens),
		RequireAuth:     parseBool(os.Getenv(envRequireAuth)),
		OpenAIKey:       os.Getenv(envOpenAIKey),
		OpenAIBaseURL:   strings.TrimRight(envOr(envOpenAIBaseURL, defaultOpenAIBaseURL), "/"),
		OpenAIModel:     envOr(envOpenAIModel, defaultOpenAIModel),
		Web3RPCURL:      strings.TrimSpace(os.Getenv(envWeb3RPCURL)),
		QueueConfigPath: envOr(envQueueConfigPath, defaultQueueConfigPath),
		AllowedOrigins:  splitList(os.Getenv(envCORSAllowedOrigin)),
	}
}

// loadDotEnv populates the environment from a .env file. Variables already
// set in the process environment win; a missing file is not an error.
func loadDotEnv() {
	path := strings.TrimSpace(os.Getenv(envDotEnvPath))
	if path == "" {
		path = ".env"
	}
	_ = godotenv.Load(path)
}

func envOr(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func parseBool(raw string) bool {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "1", "true", "yes", "y", "on":
		return true
	default:
		return false
	}
}

func splitList(raw string) []string {
	parts := strings.FieldsFunc(raw, func(r rune) bool {
		return r == ',' || r == ' ' || r == '\n' || r == '\t'
	})
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
