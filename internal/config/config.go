package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

// Config represents runtime configuration for the service.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Redis     RedisConfig     `yaml:"redis"`
	Queue     QueueConfig     `yaml:"queue"`
	Database  DatabaseConfig  `yaml:"database"`
	Storage   StorageConfig   `yaml:"storage"`
	OpenAI    OpenAIConfig    `yaml:"openai"`
	Chat      ChatConfig      `yaml:"chat"`
	Vision    EndpointConfig  `yaml:"vision"`
	Documents EndpointConfig  `yaml:"documents"`
	Search    SearchConfig    `yaml:"search"`
	Speech    SpeechConfig    `yaml:"speech"`
}

type ServerConfig struct {
	Port               string `yaml:"port" envconfig:"PORT"`
	Address            string `yaml:"address" envconfig:"SERVER_ADDRESS"`
	Env                string `yaml:"env" envconfig:"APP_ENV"`
	LogLevel           string `yaml:"log_level" envconfig:"LOG_LEVEL"`
	CORSOrigin         string `yaml:"cors_origin" envconfig:"CORS_ORIGIN"`
	RateLimitWindowMS  int    `yaml:"rate_limit_window_ms" envconfig:"RATE_LIMIT_WINDOW_MS"`
	RateLimitMax       int    `yaml:"rate_limit_max_requests" envconfig:"RATE_LIMIT_MAX_REQUESTS"`
	ShutdownTimeoutSec int    `yaml:"shutdown_timeout_sec" envconfig:"SHUTDOWN_TIMEOUT_SEC"`
}

type RedisConfig struct {
	URL      string `yaml:"url" envconfig:"REDIS_URL"`
	Password string `yaml:"password" envconfig:"REDIS_PASSWORD"`
	DB       int    `yaml:"db" envconfig:"REDIS_DB"`
	CacheTTL int    `yaml:"cache_ttl" envconfig:"CACHE_TTL"`
}

type QueueConfig struct {
	RedisURL      string        `yaml:"redis_url" envconfig:"REDIS_QUEUE_URL"`
	Concurrency   int           `yaml:"concurrency" envconfig:"JOB_QUEUE_CONCURRENCY"`
	MaxAttempts   int           `yaml:"max_attempts" envconfig:"JOB_MAX_ATTEMPTS"`
	BackoffMS     int           `yaml:"backoff_ms" envconfig:"JOB_BACKOFF_MS"`
	Retention     time.Duration `yaml:"retention" envconfig:"JOB_RETENTION"`
	JobTimeout    time.Duration `yaml:"job_timeout" envconfig:"JOB_TIMEOUT"`
	WorkerEnabled *bool         `yaml:"worker_enabled" envconfig:"WORKER_ENABLED"`
}

type DatabaseConfig struct {
	Driver string `yaml:"driver" envconfig:"DB_DRIVER"`
	DSN    string `yaml:"dsn" envconfig:"DB_DSN"`
}

type StorageConfig struct {
	Endpoint  string `yaml:"endpoint" envconfig:"STORAGE_ENDPOINT"`
	AccessKey string `yaml:"access_key" envconfig:"STORAGE_ACCESS_KEY"`
	SecretKey string `yaml:"secret_key" envconfig:"STORAGE_SECRET_KEY"`
	UseSSL    bool   `yaml:"use_ssl" envconfig:"STORAGE_USE_SSL"`
	Region    string `yaml:"region" envconfig:"STORAGE_REGION"`
	Container string `yaml:"container" envconfig:"STORAGE_CONTAINER_NAME"`
	PublicURL string `yaml:"public_url" envconfig:"STORAGE_PUBLIC_URL"`
}

type OpenAIConfig struct {
	Endpoint          string `yaml:"endpoint" envconfig:"AZURE_OPENAI_ENDPOINT"`
	APIKey            string `yaml:"api_key" envconfig:"AZURE_OPENAI_API_KEY"`
	APIVersion        string `yaml:"api_version" envconfig:"AZURE_OPENAI_API_VERSION"`
	Deployment        string `yaml:"deployment" envconfig:"AZURE_OPENAI_DEPLOYMENT_NAME"`
	VisionDeployment  string `yaml:"vision_deployment" envconfig:"AZURE_OPENAI_VISION_DEPLOYMENT"`
	EmbeddingEndpoint string `yaml:"embedding_endpoint" envconfig:"AZURE_OPENAI_EMBEDDING_ENDPOINT"`
	EmbeddingAPIKey   string `yaml:"embedding_api_key" envconfig:"AZURE_OPENAI_EMBEDDING_API_KEY"`
	EmbeddingModel    string `yaml:"embedding_model" envconfig:"AZURE_OPENAI_EMBEDDING_MODEL"`
}

// ChatConfig selects the chat completion backend. Provider "azure-openai"
// reuses the OpenAI section; "openai", "claude" and "gemini" use the fields below.
type ChatConfig struct {
	Provider string `yaml:"provider" envconfig:"CHAT_PROVIDER"`
	Model    string `yaml:"model" envconfig:"CHAT_MODEL"`
	APIKey   string `yaml:"api_key" envconfig:"CHAT_API_KEY"`
	BaseURL  string `yaml:"base_url" envconfig:"CHAT_BASE_URL"`
}

// EndpointConfig is an endpoint/key pair for a single Azure cognitive service.
type EndpointConfig struct {
	Endpoint string `yaml:"endpoint"`
	Key      string `yaml:"key"`
}

type SearchConfig struct {
	Endpoint string `yaml:"endpoint" envconfig:"AZURE_SEARCH_ENDPOINT"`
	AdminKey string `yaml:"admin_key" envconfig:"AZURE_SEARCH_ADMIN_KEY"`
	Index    string `yaml:"index" envconfig:"AZURE_SEARCH_INDEX_NAME"`
}

type SpeechConfig struct {
	Key      string `yaml:"key" envconfig:"AZURE_SPEECH_KEY"`
	Region   string `yaml:"region" envconfig:"AZURE_SPEECH_REGION"`
	Endpoint string `yaml:"endpoint" envconfig:"AZURE_SPEECH_ENDPOINT"`
}

// cognitiveEnv carries the keys whose names do not fit EndpointConfig tags.
type cognitiveEnv struct {
	VisionEndpoint    string `envconfig:"AZURE_COMPUTER_VISION_ENDPOINT"`
	VisionKey         string `envconfig:"AZURE_COMPUTER_VISION_KEY"`
	DocumentsEndpoint string `envconfig:"AZURE_DOCUMENT_INTELLIGENCE_ENDPOINT"`
	DocumentsKey      string `envconfig:"AZURE_DOCUMENT_INTELLIGENCE_KEY"`
}

const (
	defaultPort          = "5000"
	defaultCORSOrigin    = "http://localhost:3000"
	defaultRateWindowMS  = 900000
	defaultRateMax       = 100
	defaultCacheTTL      = 7200
	defaultConcurrency   = 3
	defaultMaxAttempts   = 3
	defaultBackoffMS     = 2000
	defaultRetention     = 24 * time.Hour
	defaultJobTimeout    = 5 * time.Minute
	defaultContainer     = "smlgpt-uploads"
	defaultAPIVersion    = "2024-02-15-preview"
	defaultSearchIndex   = "smlgpt-documents"
	defaultShutdownSec   = 15
	defaultChatProvider  = "azure-openai"
	defaultEmbeddingName = "text-embedding-ada-002"
)

// Load reads the optional YAML file at path and overlays environment variables.
// An empty path means environment only.
func Load(path string) (*Config, error) {
	var cfg Config
	if path != "" {
		absPath, err := filepath.Abs(path)
		if err != nil {
			return nil, fmt.Errorf("resolve config path: %w", err)
		}
		file, err := os.Open(absPath)
		if err != nil {
			return nil, fmt.Errorf("open config %s: %w", absPath, err)
		}
		defer file.Close()
		if err := yaml.NewDecoder(file).Decode(&cfg); err != nil {
			return nil, fmt.Errorf("decode config: %w", err)
		}
	}

	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("read environment: %w", err)
	}
	var cog cognitiveEnv
	if err := envconfig.Process("", &cog); err != nil {
		return nil, fmt.Errorf("read environment: %w", err)
	}
	overlay(&cfg.Vision.Endpoint, cog.VisionEndpoint)
	overlay(&cfg.Vision.Key, cog.VisionKey)
	overlay(&cfg.Documents.Endpoint, cog.DocumentsEndpoint)
	overlay(&cfg.Documents.Key, cog.DocumentsKey)

	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func overlay(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

func (c *Config) applyDefaults() {
	s := &c.Server
	if s.Port == "" {
		s.Port = defaultPort
	}
	if s.Address == "" {
		s.Address = ":" + s.Port
	}
	if s.Env == "" {
		s.Env = "production"
	}
	if s.LogLevel == "" {
		s.LogLevel = "info"
	}
	if s.CORSOrigin == "" {
		s.CORSOrigin = defaultCORSOrigin
	}
	if s.RateLimitWindowMS <= 0 {
		s.RateLimitWindowMS = defaultRateWindowMS
	}
	if s.RateLimitMax <= 0 {
		s.RateLimitMax = defaultRateMax
	}
	if s.ShutdownTimeoutSec <= 0 {
		s.ShutdownTimeoutSec = defaultShutdownSec
	}

	if c.Redis.CacheTTL <= 0 {
		c.Redis.CacheTTL = defaultCacheTTL
	}

	q := &c.Queue
	if q.RedisURL == "" {
		q.RedisURL = c.Redis.URL
	}
	if q.Concurrency <= 0 {
		q.Concurrency = defaultConcurrency
	}
	if q.MaxAttempts <= 0 {
		q.MaxAttempts = defaultMaxAttempts
	}
	if q.BackoffMS <= 0 {
		q.BackoffMS = defaultBackoffMS
	}
	if q.Retention <= 0 {
		q.Retention = defaultRetention
	}
	if q.JobTimeout <= 0 {
		q.JobTimeout = defaultJobTimeout
	}
	if q.WorkerEnabled == nil {
		enabled := true
		q.WorkerEnabled = &enabled
	}

	c.Database.Driver = strings.ToLower(c.Database.Driver)

	if c.Storage.Container == "" {
		c.Storage.Container = defaultContainer
	}

	o := &c.OpenAI
	if o.APIVersion == "" {
		o.APIVersion = defaultAPIVersion
	}
	if o.VisionDeployment == "" {
		o.VisionDeployment = o.Deployment
	}
	if o.EmbeddingEndpoint == "" {
		o.EmbeddingEndpoint = o.Endpoint
	}
	if o.EmbeddingAPIKey == "" {
		o.EmbeddingAPIKey = o.APIKey
	}
	if o.EmbeddingModel == "" {
		o.EmbeddingModel = defaultEmbeddingName
	}

	if c.Chat.Provider == "" {
		c.Chat.Provider = defaultChatProvider
	}
	c.Chat.Provider = strings.ToLower(c.Chat.Provider)

	if c.Search.Index == "" {
		c.Search.Index = defaultSearchIndex
	}
}

func (c *Config) validate() error {
	switch c.Chat.Provider {
	case "azure-openai", "openai", "claude", "gemini":
	default:
		return fmt.Errorf("unsupported chat provider %q", c.Chat.Provider)
	}
	switch c.Database.Driver {
	case "", "memory", "sqlite", "sqlite3", "mysql", "postgres":
	default:
		return fmt.Errorf("unsupported database driver %q", c.Database.Driver)
	}
	if c.Database.Driver != "" && c.Database.Driver != "memory" && c.Database.DSN == "" {
		return fmt.Errorf("DB_DSN must be set for driver %s", c.Database.Driver)
	}
	return nil
}

// Development reports whether error envelopes may carry stacks and details.
func (c *Config) Development() bool {
	return strings.EqualFold(c.Server.Env, "development")
}

// WorkerEnabled reports whether `serve` should also run the job worker.
func (c *Config) WorkerEnabled() bool {
	return c.Queue.WorkerEnabled == nil || *c.Queue.WorkerEnabled
}

func (c *Config) Backoff() time.Duration {
	return time.Duration(c.Queue.BackoffMS) * time.Millisecond
}

func (c *Config) RateLimitWindow() time.Duration {
	return time.Duration(c.Server.RateLimitWindowMS) * time.Millisecond
}

func (c *Config) CacheTTL() time.Duration {
	return time.Duration(c.Redis.CacheTTL) * time.Second
}

func (c *Config) ShutdownTimeout() time.Duration {
	return time.Duration(c.Server.ShutdownTimeoutSec) * time.Second
}
