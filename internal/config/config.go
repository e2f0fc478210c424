// Package config provides the configuration structure for the voiceclone-service.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/book-expert/configurator"
	"github.com/book-expert/logger"
)

// Defaults applied by ApplyDefaults.
const (
	DefaultHost                  = "0.0.0.0"
	DefaultPort                  = 7860
	DefaultMaxConcurrent         = 1
	DefaultRateLimitPerMinute    = 30
	DefaultMaxUploadMB           = 20
	DefaultReadTimeoutSeconds    = 30
	DefaultWriteTimeoutSeconds   = 600
	DefaultSynthesizeSubject     = "tts.voiceclone.synthesize"
	DefaultObjectStoreBucket     = "VOICECLONE_FILES"
	DefaultModelName             = "F5-TTS-Vietnamese"
	DefaultCheckpointURI         = "hf://toandev/F5-TTS-Vietnamese/model_latest.safetensors"
	DefaultVocabURI              = "hf://toandev/F5-TTS-Vietnamese/vocab.txt"
	DefaultHFRevision            = "main"
	DefaultVocoderName           = "vocos"
	DefaultGeneratorBackend      = BackendHTTP
	DefaultGeneratorURL          = "http://127.0.0.1:8000"
	DefaultGeneratorTimeout      = 600
	DefaultGeneratorBinary       = "f5-tts-chunk"
	DefaultTranscriberBaseURL    = "http://127.0.0.1:8178/v1"
	DefaultTranscriberModel      = "whisper-1"
	DefaultCacheBackend          = CacheMemory
	DefaultCacheTTLHours         = 168
	DefaultSpectrogramTTLMinutes = 60
)

// Backend and cache names.
const (
	BackendHTTP = "http"
	BackendExec = "exec"
	CacheMemory = "memory"
	CacheRedis  = "redis"
)

// Validation errors.
var (
	ErrPortRange          = errors.New("server port must be between 1 and 65535")
	ErrMaxConcurrent      = errors.New("server max_concurrent must be positive")
	ErrCheckpointURIEmpty = errors.New("model checkpoint_uri cannot be empty")
	ErrVocabURIEmpty      = errors.New("model vocab_uri cannot be empty")
	ErrUnknownBackend     = errors.New("unknown generator backend")
	ErrServiceURLEmpty    = errors.New("generator service_url cannot be empty for the http backend")
	ErrBinaryPathEmpty    = errors.New("generator binary_path cannot be empty for the exec backend")
	ErrUnknownCache       = errors.New("unknown cache backend")
	ErrRedisAddrEmpty     = errors.New("cache redis_addr cannot be empty for the redis backend")
	ErrNATSURLEmpty       = errors.New("nats url cannot be empty when nats is enabled")
	ErrExampleSpeed       = errors.New("example speed must be between 0.3 and 2.0")
	ErrSpectrogramTTL     = errors.New("paths spectrogram_ttl_minutes cannot be negative")
)

// ServerConfig holds the HTTP surface settings.
type ServerConfig struct {
	Host                string   `toml:"host"`
	Port                int      `toml:"port"`
	MaxConcurrent       int      `toml:"max_concurrent"`
	RateLimitPerMinute  int      `toml:"rate_limit_per_minute"`
	AllowedOrigins      []string `toml:"allowed_origins"`
	MaxUploadMB         int      `toml:"max_upload_mb"`
	ReadTimeoutSeconds  int      `toml:"read_timeout_seconds"`
	WriteTimeoutSeconds int      `toml:"write_timeout_seconds"`
}

// NATSConfig holds the configuration for NATS.
type NATSConfig struct {
	Enabled           bool   `toml:"enabled"`
	URL               string `toml:"url"`
	SynthesizeSubject string `toml:"synthesize_subject"`
	ObjectStoreBucket string `toml:"object_store_bucket"`
}

// ModelConfig names the artifacts the startup initializer fetches.
type ModelConfig struct {
	Name          string `toml:"name"`
	CheckpointURI string `toml:"checkpoint_uri"`
	VocabURI      string `toml:"vocab_uri"`
	HFRevision    string `toml:"hf_revision"`
	VocoderName   string `toml:"vocoder_name"`
	VocoderURI    string `toml:"vocoder_uri"`
}

// GeneratorConfig selects the backend that runs the model.
type GeneratorConfig struct {
	Backend        string `toml:"backend"`
	ServiceURL     string `toml:"service_url"`
	BinaryPath     string `toml:"binary_path"`
	TimeoutSeconds int    `toml:"timeout_seconds"`
}

// TranscriberConfig configures automatic reference transcription.
type TranscriberConfig struct {
	BaseURL  string `toml:"base_url"`
	APIKey   string `toml:"api_key"`
	Model    string `toml:"model"`
	Language string `toml:"language"`
}

// CacheConfig configures the reference transcript cache.
type CacheConfig struct {
	Backend       string `toml:"backend"`
	RedisAddr     string `toml:"redis_addr"`
	RedisPassword string `toml:"redis_password"`
	RedisDB       int    `toml:"redis_db"`
	TTLHours      int    `toml:"ttl_hours"`
}

// S3Config configures access to s3:// artifacts.
type S3Config struct {
	Endpoint  string `toml:"endpoint"`
	AccessKey string `toml:"access_key"`
	SecretKey string `toml:"secret_key"`
	Region    string `toml:"region"`
	Secure    bool   `toml:"secure"`
}

// PathsConfig holds the configuration for file paths.
type PathsConfig struct {
	BaseLogsDir           string `toml:"base_logs_dir"`
	CacheDir              string `toml:"cache_dir"`
	SpectrogramDir        string `toml:"spectrogram_dir"`
	SpectrogramTTLMinutes int    `toml:"spectrogram_ttl_minutes"`
}

// Example is a canned demo input shown on the demo page.
type Example struct {
	ReferencePath string  `toml:"reference_path"`
	Text          string  `toml:"text"`
	Speed         float64 `toml:"speed"`
}

// Config is the root configuration structure.
type Config struct {
	Server      ServerConfig      `toml:"server"`
	NATS        NATSConfig        `toml:"nats"`
	Model       ModelConfig       `toml:"model"`
	Generator   GeneratorConfig   `toml:"generator"`
	Transcriber TranscriberConfig `toml:"transcriber"`
	Cache       CacheConfig       `toml:"cache"`
	S3          S3Config          `toml:"s3"`
	Paths       PathsConfig       `toml:"paths"`
	Examples    []Example         `toml:"examples"`
}

// Load loads the configuration for the voiceclone-service, fills defaults and
// validates the result.
func Load(log *logger.Logger) (*Config, error) {
	var cfg Config

	err := configurator.Load(&cfg, log)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration from configurator: %w", err)
	}

	cfg.ApplyDefaults()

	err = cfg.Validate()
	if err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// Addr returns the listen address of the HTTP surface.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

// ApplyDefaults fills every unset field with its documented default.
func (c *Config) ApplyDefaults() {
	c.applyServerDefaults()
	c.applyModelDefaults()
	c.applyGeneratorDefaults()

	setString(&c.NATS.SynthesizeSubject, DefaultSynthesizeSubject)
	setString(&c.NATS.ObjectStoreBucket, DefaultObjectStoreBucket)
	setString(&c.Transcriber.BaseURL, DefaultTranscriberBaseURL)
	setString(&c.Transcriber.Model, DefaultTranscriberModel)
	setString(&c.Cache.Backend, DefaultCacheBackend)
	setInt(&c.Cache.TTLHours, DefaultCacheTTLHours)

	tempRoot := os.TempDir()
	setString(&c.Paths.BaseLogsDir, filepath.Join(tempRoot, "voiceclone-service", "logs"))
	setString(&c.Paths.SpectrogramDir, filepath.Join(tempRoot, "voiceclone-service", "spectrograms"))
	setInt(&c.Paths.SpectrogramTTLMinutes, DefaultSpectrogramTTLMinutes)

	for i := range c.Examples {
		if c.Examples[i].Speed == 0 {
			c.Examples[i].Speed = 1.0
		}
	}
}

func (c *Config) applyServerDefaults() {
	setString(&c.Server.Host, DefaultHost)
	setInt(&c.Server.Port, DefaultPort)
	setInt(&c.Server.MaxConcurrent, DefaultMaxConcurrent)
	setInt(&c.Server.RateLimitPerMinute, DefaultRateLimitPerMinute)
	setInt(&c.Server.MaxUploadMB, DefaultMaxUploadMB)
	setInt(&c.Server.ReadTimeoutSeconds, DefaultReadTimeoutSeconds)
	setInt(&c.Server.WriteTimeoutSeconds, DefaultWriteTimeoutSeconds)

	if len(c.Server.AllowedOrigins) == 0 {
		c.Server.AllowedOrigins = []string{"*"}
	}
}

func (c *Config) applyModelDefaults() {
	setString(&c.Model.Name, DefaultModelName)
	setString(&c.Model.CheckpointURI, DefaultCheckpointURI)
	setString(&c.Model.VocabURI, DefaultVocabURI)
	setString(&c.Model.HFRevision, DefaultHFRevision)
	setString(&c.Model.VocoderName, DefaultVocoderName)
}

func (c *Config) applyGeneratorDefaults() {
	setString(&c.Generator.Backend, DefaultGeneratorBackend)
	setInt(&c.Generator.TimeoutSeconds, DefaultGeneratorTimeout)

	switch c.Generator.Backend {
	case BackendHTTP:
		setString(&c.Generator.ServiceURL, DefaultGeneratorURL)
	case BackendExec:
		setString(&c.Generator.BinaryPath, DefaultGeneratorBinary)
	}
}

// Validate ensures that the configuration contains usable values.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("%w: got %d", ErrPortRange, c.Server.Port)
	}

	if c.Server.MaxConcurrent <= 0 {
		return fmt.Errorf("%w: got %d", ErrMaxConcurrent, c.Server.MaxConcurrent)
	}

	if c.Model.CheckpointURI == "" {
		return ErrCheckpointURIEmpty
	}

	if c.Model.VocabURI == "" {
		return ErrVocabURIEmpty
	}

	err := c.validateGenerator()
	if err != nil {
		return err
	}

	err = c.validateCache()
	if err != nil {
		return err
	}

	if c.NATS.Enabled && c.NATS.URL == "" {
		return ErrNATSURLEmpty
	}

	if c.Paths.SpectrogramTTLMinutes < 0 {
		return fmt.Errorf("%w: got %d", ErrSpectrogramTTL, c.Paths.SpectrogramTTLMinutes)
	}

	for _, example := range c.Examples {
		if !(example.Speed >= 0.3 && example.Speed <= 2.0) {
			return fmt.Errorf("%w: got %.2f", ErrExampleSpeed, example.Speed)
		}
	}

	return nil
}

func (c *Config) validateGenerator() error {
	switch c.Generator.Backend {
	case BackendHTTP:
		if c.Generator.ServiceURL == "" {
			return ErrServiceURLEmpty
		}
	case BackendExec:
		if c.Generator.BinaryPath == "" {
			return ErrBinaryPathEmpty
		}
	default:
		return fmt.Errorf("%w: '%s'", ErrUnknownBackend, c.Generator.Backend)
	}

	return nil
}

func (c *Config) validateCache() error {
	switch c.Cache.Backend {
	case CacheMemory:
		return nil
	case CacheRedis:
		if c.Cache.RedisAddr == "" {
			return ErrRedisAddrEmpty
		}

		return nil
	default:
		return fmt.Errorf("%w: '%s'", ErrUnknownCache, c.Cache.Backend)
	}
}

func setString(field *string, value string) {
	if *field == "" {
		*field = value
	}
}

func setInt(field *int, value int) {
	if *field == 0 {
		*field = value
	}
}
