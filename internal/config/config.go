package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/sells-group/rag-evaluator/internal/model"
)

// Config holds the full application configuration.
type Config struct {
	Server   ServerConfig   `yaml:"server" mapstructure:"server"`
	Log      LogConfig      `yaml:"log" mapstructure:"log"`
	Pipeline PipelineConfig `yaml:"pipeline" mapstructure:"pipeline"`
	Store    StoreConfig    `yaml:"store" mapstructure:"store"`
	GitHub   GitHubConfig   `yaml:"github" mapstructure:"github"`
	Azure    AzureConfig    `yaml:"azure" mapstructure:"azure"`
	S3       S3Config       `yaml:"s3" mapstructure:"s3"`
}

// ServerConfig configures the evaluation form server.
type ServerConfig struct {
	Port               int      `yaml:"port" mapstructure:"port"`
	AllowedOrigins     []string `yaml:"allowed_origins" mapstructure:"allowed_origins"`
	SessionIdleMinutes int      `yaml:"session_idle_minutes" mapstructure:"session_idle_minutes"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// PipelineConfig configures the two question-answering endpoints. Keys of
// Endpoints and Labels are pipeline names, matched case-insensitively.
type PipelineConfig struct {
	Endpoints   map[string]string `yaml:"endpoints" mapstructure:"endpoints"`
	Labels      map[string]string `yaml:"labels" mapstructure:"labels"`
	TimeoutSecs int               `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	RatePerSec  float64           `yaml:"rate_per_sec" mapstructure:"rate_per_sec"`
	RateBurst   int               `yaml:"rate_burst" mapstructure:"rate_burst"`
}

// StoreConfig selects and configures the evaluation log backend.
type StoreConfig struct {
	Backend         string `yaml:"backend" mapstructure:"backend"`
	LocalPath       string `yaml:"local_path" mapstructure:"local_path"`
	CorruptFallback bool   `yaml:"corrupt_fallback" mapstructure:"corrupt_fallback"`
}

// GitHubConfig holds repository settings for the github backend.
type GitHubConfig struct {
	Token   string `yaml:"token" mapstructure:"token"`
	Owner   string `yaml:"owner" mapstructure:"owner"`
	Repo    string `yaml:"repo" mapstructure:"repo"`
	Branch  string `yaml:"branch" mapstructure:"branch"`
	Path    string `yaml:"path" mapstructure:"path"`
	BaseURL string `yaml:"base_url" mapstructure:"base_url"`
}

// AzureConfig holds blob storage settings for the azure backend.
type AzureConfig struct {
	ConnectionString string `yaml:"connection_string" mapstructure:"connection_string"`
	Container        string `yaml:"container" mapstructure:"container"`
	Blob             string `yaml:"blob" mapstructure:"blob"`
}

// S3Config holds bucket settings for the s3 backend. Endpoint is set for
// MinIO and other S3-compatible stores.
type S3Config struct {
	Endpoint  string `yaml:"endpoint" mapstructure:"endpoint"`
	Region    string `yaml:"region" mapstructure:"region"`
	Bucket    string `yaml:"bucket" mapstructure:"bucket"`
	Key       string `yaml:"key" mapstructure:"key"`
	AccessKey string `yaml:"access_key" mapstructure:"access_key"`
	SecretKey string `yaml:"secret_key" mapstructure:"secret_key"`
}

// Store backend names.
const (
	BackendLocal  = "local"
	BackendGitHub = "github"
	BackendAzure  = "azure"
	BackendS3     = "s3"
)

// DefaultLogPath is where the evaluation log lives unless configured otherwise.
const DefaultLogPath = "logs/eamr_rag_eval.xlsx"

var defaultEndpoints = map[model.Pipeline]string{
	model.PipelineA: "http://196.190.220.63:8000/api/pipeline/gemini",
	model.PipelineB: "http://196.190.220.63:8000/api/pipeline/llama",
}

var defaultLabels = map[model.Pipeline]string{
	model.PipelineA: "Gemini",
	model.PipelineB: "LLaMA",
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("RAGEVAL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("server.port", 8501)
	v.SetDefault("server.allowed_origins", []string{})
	v.SetDefault("server.session_idle_minutes", 240)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	// Per-key defaults so a file that sets one pipeline keeps the other's default.
	for p, url := range defaultEndpoints {
		v.SetDefault("pipeline.endpoints."+strings.ToLower(string(p)), url)
	}
	for p, label := range defaultLabels {
		v.SetDefault("pipeline.labels."+strings.ToLower(string(p)), label)
	}
	v.SetDefault("pipeline.timeout_secs", 0)
	v.SetDefault("pipeline.rate_per_sec", 0)
	v.SetDefault("pipeline.rate_burst", 1)
	v.SetDefault("store.backend", BackendLocal)
	v.SetDefault("store.local_path", DefaultLogPath)
	v.SetDefault("store.corrupt_fallback", false)
	v.SetDefault("github.branch", "main")
	v.SetDefault("github.path", DefaultLogPath)
	v.SetDefault("azure.blob", DefaultLogPath)
	v.SetDefault("s3.region", "us-east-1")
	v.SetDefault("s3.key", DefaultLogPath)

	// Env-only keys need a binding because AutomaticEnv only covers keys viper knows.
	for _, key := range []string{
		"github.token", "github.owner", "github.repo", "github.base_url",
		"azure.connection_string", "azure.container",
		"s3.endpoint", "s3.bucket", "s3.access_key", "s3.secret_key",
	} {
		if err := v.BindEnv(key); err != nil {
			return nil, eris.Wrapf(err, "config: bind env %s", key)
		}
	}

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// Validate checks that the settings required by the store backend and the
// given command are present.
func (c *Config) Validate(mode string) error {
	var missing []string

	switch c.Store.Backend {
	case BackendLocal:
		if c.Store.LocalPath == "" {
			missing = append(missing, "store.local_path is required")
		}
	case BackendGitHub:
		if c.GitHub.Token == "" {
			missing = append(missing, "github.token is required")
		}
		if c.GitHub.Owner == "" {
			missing = append(missing, "github.owner is required")
		}
		if c.GitHub.Repo == "" {
			missing = append(missing, "github.repo is required")
		}
		if c.GitHub.Path == "" {
			missing = append(missing, "github.path is required")
		}
	case BackendAzure:
		if c.Azure.ConnectionString == "" {
			missing = append(missing, "azure.connection_string is required")
		}
		if c.Azure.Container == "" {
			missing = append(missing, "azure.container is required")
		}
		if c.Azure.Blob == "" {
			missing = append(missing, "azure.blob is required")
		}
	case BackendS3:
		if c.S3.Bucket == "" {
			missing = append(missing, "s3.bucket is required")
		}
		if c.S3.Key == "" {
			missing = append(missing, "s3.key is required")
		}
	default:
		missing = append(missing, fmt.Sprintf("store.backend %q is not one of local, github, azure, s3", c.Store.Backend))
	}

	if mode == "serve" {
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			missing = append(missing, fmt.Sprintf("server.port %d is out of range", c.Server.Port))
		}
		if _, err := c.Pipeline.EndpointMap(); err != nil {
			missing = append(missing, err.Error())
		}
		if c.Pipeline.TimeoutSecs < 0 {
			missing = append(missing, "pipeline.timeout_secs must not be negative")
		}
		if c.Pipeline.RatePerSec < 0 {
			missing = append(missing, "pipeline.rate_per_sec must not be negative")
		}
	}

	if len(missing) > 0 {
		return eris.Errorf("config: %s", strings.Join(missing, "; "))
	}
	return nil
}

// EndpointMap returns the endpoint URL for every pipeline. Every pipeline
// must have one.
func (p PipelineConfig) EndpointMap() (map[model.Pipeline]string, error) {
	out := make(map[model.Pipeline]string, len(model.Pipelines()))
	for _, pl := range model.Pipelines() {
		url := lookupFold(p.Endpoints, string(pl))
		if url == "" {
			return nil, eris.Errorf("pipeline.endpoints.%s is required", pl)
		}
		out[pl] = url
	}
	return out, nil
}

// LabelMap returns the display label for every pipeline, falling back to the
// pipeline name.
func (p PipelineConfig) LabelMap() map[model.Pipeline]string {
	out := make(map[model.Pipeline]string, len(model.Pipelines()))
	for _, pl := range model.Pipelines() {
		label := lookupFold(p.Labels, string(pl))
		if label == "" {
			label = string(pl)
		}
		out[pl] = label
	}
	return out
}

// Timeout returns the per-request pipeline timeout; zero leaves the transport default.
func (p PipelineConfig) Timeout() time.Duration {
	return time.Duration(p.TimeoutSecs) * time.Second
}

// viper lowercases map keys, so pipeline names are matched case-insensitively.
func lookupFold(m map[string]string, key string) string {
	if v, ok := m[key]; ok {
		return v
	}
	for k, v := range m {
		if strings.EqualFold(k, key) {
			return v
		}
	}
	return ""
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
