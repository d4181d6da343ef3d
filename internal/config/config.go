package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	log "github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

const defaultExternalHTTPTimeout = 90 * time.Second
const defaultExternalHTTPTimeoutSeconds = int(defaultExternalHTTPTimeout / time.Second)

type Config struct {
	Environment string `yaml:"environment"`
	LogLevel    string `yaml:"log_level"`
	ListenAddr  string `yaml:"listen_addr"`

	DBDriver string `yaml:"db_driver"`
	DBDSN    string `yaml:"db_dsn"`
	// Backward compatibility for sqlite-only deployments.
	DBPath   string `yaml:"db_path"`
	RedisURL string `yaml:"redis_url"`

	LLMProvider            string  `yaml:"llm_provider"`
	LLMModel               string  `yaml:"llm_model"`
	LLMBaseURL             string  `yaml:"llm_base_url"`
	AnthropicAPIKey        string  `yaml:"anthropic_api_key"`
	OpenAIAPIKey           string  `yaml:"openai_api_key"`
	LLMTimeoutSeconds      int     `yaml:"llm_timeout_seconds"`
	LLMMaxRetrySeconds     int     `yaml:"llm_max_retry_seconds"`
	LLMRequestsPerSecond   float64 `yaml:"llm_requests_per_second"`
	LLMMaxConcurrentCalls  int     `yaml:"llm_max_concurrent_calls"`
	MaxConcurrentClusters  int     `yaml:"max_concurrent_clusters"`
	AsyncRuns              bool    `yaml:"async_runs"`
	ClusterLookbackDays    int     `yaml:"cluster_lookback_days"`
	DuplicateWindowDays    int     `yaml:"duplicate_window_days"`
	RetrySchedule          string  `yaml:"retry_schedule"`
	RunLockTTLSeconds      int     `yaml:"run_lock_ttl_seconds"`
	ExternalHTTPTimeoutSec int     `yaml:"external_http_timeout_seconds"`

	SlackBotToken  string `yaml:"slack_bot_token"`
	SlackChannelID string `yaml:"slack_channel_id"`

	KafkaBrokers []string `yaml:"kafka_brokers"`
	KafkaTopic   string   `yaml:"kafka_topic"`

	Timezone string         `yaml:"timezone"`
	Location *time.Location `yaml:"-"` // computed from Timezone, not from YAML
}

func LoadConfig() Config {
	var cfg Config

	configPath := "config.yaml"
	if envPath := os.Getenv("CONFIG_PATH"); envPath != "" {
		configPath = envPath
	}
	if data, err := os.ReadFile(configPath); err == nil {
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			log.Fatalf("Error parsing %s: %v", configPath, err)
		}
		log.Infof("Loaded config from %s", configPath)
	}

	envOverride(&cfg.Environment, "ENVIRONMENT")
	envOverride(&cfg.LogLevel, "LOG_LEVEL")
	envOverride(&cfg.ListenAddr, "LISTEN_ADDR")
	envOverride(&cfg.DBDriver, "DB_DRIVER")
	envOverride(&cfg.DBDSN, "DB_DSN")
	envOverride(&cfg.DBPath, "DB_PATH")
	envOverrideAllowEmpty(&cfg.RedisURL, "REDIS_URL")
	envOverride(&cfg.LLMProvider, "LLM_PROVIDER")
	envOverride(&cfg.LLMModel, "LLM_MODEL")
	envOverride(&cfg.LLMBaseURL, "LLM_BASE_URL")
	envOverride(&cfg.AnthropicAPIKey, "ANTHROPIC_API_KEY")
	envOverride(&cfg.OpenAIAPIKey, "OPENAI_API_KEY")
	envOverrideInt(&cfg.LLMTimeoutSeconds, "LLM_TIMEOUT_SECONDS")
	envOverrideInt(&cfg.LLMMaxRetrySeconds, "LLM_MAX_RETRY_SECONDS")
	envOverrideFloat(&cfg.LLMRequestsPerSecond, "LLM_REQUESTS_PER_SECOND")
	envOverrideInt(&cfg.LLMMaxConcurrentCalls, "LLM_MAX_CONCURRENT_CALLS")
	envOverrideInt(&cfg.MaxConcurrentClusters, "MAX_CONCURRENT_CLUSTERS")
	envOverrideBool(&cfg.AsyncRuns, "ASYNC_RUNS")
	envOverrideInt(&cfg.ClusterLookbackDays, "CLUSTER_LOOKBACK_DAYS")
	envOverrideInt(&cfg.DuplicateWindowDays, "DUPLICATE_WINDOW_DAYS")
	envOverrideAllowEmpty(&cfg.RetrySchedule, "RETRY_SCHEDULE")
	envOverrideInt(&cfg.RunLockTTLSeconds, "RUN_LOCK_TTL_SECONDS")
	envOverrideInt(&cfg.ExternalHTTPTimeoutSec, "EXTERNAL_HTTP_TIMEOUT_SECONDS")
	envOverride(&cfg.SlackBotToken, "SLACK_BOT_TOKEN")
	envOverride(&cfg.SlackChannelID, "SLACK_CHANNEL_ID")
	envOverride(&cfg.KafkaTopic, "KAFKA_TOPIC")
	envOverride(&cfg.Timezone, "TIMEZONE")

	if brokers := os.Getenv("KAFKA_BROKERS"); brokers != "" {
		cfg.KafkaBrokers = splitList(brokers)
	}

	applyDefaults(&cfg)
	validate(&cfg)
	return cfg
}

func applyDefaults(cfg *Config) {
	if cfg.ListenAddr == "" {
		cfg.ListenAddr = ":8080"
	}
	if cfg.DBDriver == "" {
		cfg.DBDriver = "sqlite3"
	}
	if cfg.DBDSN == "" {
		cfg.DBDSN = strings.TrimSpace(cfg.DBPath)
	}
	if cfg.DBDSN == "" && cfg.DBDriver == "sqlite3" {
		cfg.DBDSN = "./insightpipe.db"
	}
	if cfg.LLMProvider == "" {
		cfg.LLMProvider = "anthropic"
	}
	if cfg.LLMModel == "" {
		switch cfg.LLMProvider {
		case "openai":
			cfg.LLMModel = "gpt-4o-mini"
		default:
			cfg.LLMModel = "claude-sonnet-4-5"
		}
	}
	if cfg.LLMTimeoutSeconds == 0 {
		cfg.LLMTimeoutSeconds = 60
	}
	if cfg.LLMMaxRetrySeconds == 0 {
		cfg.LLMMaxRetrySeconds = 30
	}
	if cfg.RunLockTTLSeconds == 0 {
		// One reasoning call plus its retries, twice over.
		cfg.RunLockTTLSeconds = 2 * (cfg.LLMTimeoutSeconds + cfg.LLMMaxRetrySeconds)
	}
	if cfg.LLMRequestsPerSecond == 0 {
		cfg.LLMRequestsPerSecond = 2
	}
	if cfg.LLMMaxConcurrentCalls == 0 {
		cfg.LLMMaxConcurrentCalls = 4
	}
	if cfg.MaxConcurrentClusters == 0 {
		cfg.MaxConcurrentClusters = 4
	}
	if cfg.DuplicateWindowDays == 0 {
		cfg.DuplicateWindowDays = 7
	}
	if cfg.ExternalHTTPTimeoutSec == 0 {
		cfg.ExternalHTTPTimeoutSec = defaultExternalHTTPTimeoutSeconds
	}
	if cfg.KafkaTopic == "" {
		cfg.KafkaTopic = "insightpipe.tickets"
	}
	if cfg.Timezone == "" {
		cfg.Timezone = "Local"
	}
}

func validate(cfg *Config) {
	switch cfg.DBDriver {
	case "sqlite3":
	case "mysql":
		if cfg.DBDSN == "" {
			log.Fatalf("db_dsn is required when db_driver=mysql")
		}
	default:
		log.Fatalf("db_driver must be 'sqlite3' or 'mysql', got '%s'", cfg.DBDriver)
	}

	switch cfg.LLMProvider {
	case "anthropic":
		if cfg.AnthropicAPIKey == "" {
			log.Fatalf("anthropic_api_key is required when llm_provider=anthropic")
		}
	case "openai":
		if cfg.OpenAIAPIKey == "" {
			log.Fatalf("openai_api_key is required when llm_provider=openai")
		}
	default:
		log.Fatalf("llm_provider must be 'anthropic' or 'openai', got '%s'", cfg.LLMProvider)
	}

	if strings.EqualFold(cfg.Timezone, "Local") {
		cfg.Location = time.Local
	} else {
		loc, err := time.LoadLocation(cfg.Timezone)
		if err != nil {
			log.Fatalf("invalid timezone '%s': %v", cfg.Timezone, err)
		}
		cfg.Location = loc
	}

	if cfg.LLMTimeoutSeconds < 1 {
		log.Fatalf("invalid llm_timeout_seconds '%d': must be >= 1", cfg.LLMTimeoutSeconds)
	}
	if cfg.LLMMaxRetrySeconds < 0 {
		log.Fatalf("invalid llm_max_retry_seconds '%d': must be >= 0", cfg.LLMMaxRetrySeconds)
	}
	if cfg.LLMRequestsPerSecond < 0 {
		log.Fatalf("invalid llm_requests_per_second '%f': must be >= 0", cfg.LLMRequestsPerSecond)
	}
	if cfg.LLMMaxConcurrentCalls < 1 {
		log.Fatalf("invalid llm_max_concurrent_calls '%d': must be >= 1", cfg.LLMMaxConcurrentCalls)
	}
	if cfg.MaxConcurrentClusters < 1 {
		log.Fatalf("invalid max_concurrent_clusters '%d': must be >= 1", cfg.MaxConcurrentClusters)
	}
	if cfg.ClusterLookbackDays < 0 {
		log.Fatalf("invalid cluster_lookback_days '%d': must be >= 0", cfg.ClusterLookbackDays)
	}
	if cfg.DuplicateWindowDays < 1 {
		log.Fatalf("invalid duplicate_window_days '%d': must be >= 1", cfg.DuplicateWindowDays)
	}
	if cfg.RunLockTTLSeconds < 1 {
		log.Fatalf("invalid run_lock_ttl_seconds '%d': must be >= 1", cfg.RunLockTTLSeconds)
	}
	if cfg.ExternalHTTPTimeoutSec < 5 {
		log.Fatalf("invalid external_http_timeout_seconds '%d': must be >= 5", cfg.ExternalHTTPTimeoutSec)
	}
	if cfg.RetrySchedule != "" {
		if _, err := ParseSchedule(cfg.RetrySchedule); err != nil {
			log.Fatalf("invalid retry_schedule '%s': %v", cfg.RetrySchedule, err)
		}
	}
	if cfg.SlackBotToken != "" && cfg.SlackChannelID == "" {
		log.Fatalf("slack_bot_token is set but slack_channel_id is not configured")
	}
}

// ParseSchedule parses a standard 5-field cron expression
// (minute hour day-of-month month day-of-week).
func ParseSchedule(expr string) (cron.Schedule, error) {
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	return parser.Parse(strings.TrimSpace(expr))
}

func envOverride(field *string, envKey string) {
	if val := os.Getenv(envKey); val != "" {
		*field = val
	}
}

func envOverrideAllowEmpty(field *string, envKey string) {
	if val, ok := os.LookupEnv(envKey); ok {
		*field = val
	}
}

func envOverrideInt(field *int, envKey string) {
	if val := os.Getenv(envKey); val != "" {
		parsed, err := strconv.Atoi(val)
		if err != nil {
			log.Fatalf("invalid %s '%s': %v", envKey, val, err)
		}
		*field = parsed
	}
}

func envOverrideBool(field *bool, envKey string) {
	if val := os.Getenv(envKey); val != "" {
		*field = strings.EqualFold(val, "true") || val == "1"
	}
}

func envOverrideFloat(field *float64, envKey string) {
	if val := os.Getenv(envKey); val != "" {
		parsed, err := strconv.ParseFloat(val, 64)
		if err != nil {
			log.Fatalf("invalid %s '%s': %v", envKey, val, err)
		}
		*field = parsed
	}
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}

func (c Config) LLMTimeout() time.Duration {
	return time.Duration(c.LLMTimeoutSeconds) * time.Second
}

func (c Config) LLMMaxRetry() time.Duration {
	return time.Duration(c.LLMMaxRetrySeconds) * time.Second
}

func (c Config) RunLockTTL() time.Duration {
	return time.Duration(c.RunLockTTLSeconds) * time.Second
}

func (c Config) DuplicateWindow() time.Duration {
	return time.Duration(c.DuplicateWindowDays) * 24 * time.Hour
}

func (c Config) ClusterLookback() time.Duration {
	return time.Duration(c.ClusterLookbackDays) * 24 * time.Hour
}

func (c Config) SlackConfigured() bool {
	return c.SlackBotToken != "" && c.SlackChannelID != ""
}

func (c Config) KafkaConfigured() bool {
	return len(c.KafkaBrokers) > 0
}
