// Package config loads pipeline settings from the environment and an optional YAML file.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
	"github.com/shpitdev/sf-graffiti-search/internal/publish"
	"github.com/shpitdev/sf-graffiti-search/internal/source"
	"gopkg.in/yaml.v3"
)

const (
	BackendGemini    = "gemini"
	BackendNominatim = "nominatim"
	BackendStub      = "stub"
)

type Config struct {
	StorePath    string `envconfig:"STORE_PATH" default:"data/processed-images.json"`
	SourcePath   string `envconfig:"SOURCE_PATH" default:"graffiti-photos.csv"`
	DefaultLimit int    `envconfig:"DEFAULT_LIMIT" default:"10"`
	// File is the optional YAML overlay for column mapping, prompt and locality.
	File string `envconfig:"PIPELINE_CONFIG"`

	RequestTimeout time.Duration `envconfig:"REQUEST_TIMEOUT" default:"60s"`
	MaxRetries     int           `envconfig:"MAX_RETRIES" default:"0"`
	CABundle       string        `envconfig:"CA_BUNDLE"`

	MetricsTextfile string `envconfig:"METRICS_TEXTFILE"`
	RunlogPath      string `envconfig:"RUNLOG_PATH"`

	Log       Log
	Describe  Describe
	Geocode   Geocode
	Gemini    Gemini
	Nominatim Nominatim
	Publish   Publish

	Columns source.Columns `ignored:"true"`
}

type Log struct {
	Level  string `envconfig:"LOG_LEVEL" default:"info"`
	Format string `envconfig:"LOG_FORMAT" default:"json"`
}

type Describe struct {
	Backend         string  `envconfig:"DESCRIBE_BACKEND" default:"gemini"`
	BatchSize       int     `envconfig:"DESCRIBE_BATCH_SIZE" default:"100"`
	CheckpointEvery int     `envconfig:"DESCRIBE_CHECKPOINT_EVERY" default:"100"`
	RateLimitRPS    float64 `envconfig:"DESCRIBE_RATE_LIMIT_RPS" default:"0"`

	Prompt string `ignored:"true"`
}

type Geocode struct {
	Backend         string        `envconfig:"GEOCODE_BACKEND" default:"nominatim"`
	Interval        time.Duration `envconfig:"GEOCODE_INTERVAL" default:"1s"`
	CheckpointEvery int           `envconfig:"GEOCODE_CHECKPOINT_EVERY" default:"50"`
	Locality        string        `envconfig:"GEOCODE_LOCALITY" default:", San Francisco, CA"`
	MaxAttempts     int           `envconfig:"GEOCODE_MAX_ATTEMPTS" default:"0"`
}

type Gemini struct {
	APIKey  string `envconfig:"GEMINI_API_KEY"`
	Model   string `envconfig:"GEMINI_MODEL" default:"gemini-2.5-flash"`
	BaseURL string `envconfig:"GEMINI_BASE_URL"`
}

type Nominatim struct {
	BaseURL   string `envconfig:"NOMINATIM_BASE_URL" default:"https://nominatim.openstreetmap.org"`
	UserAgent string `envconfig:"NOMINATIM_USER_AGENT" default:"SF-Graffiti-Search/1.0"`
}

type Publish struct {
	Endpoint  string `envconfig:"PUBLISH_ENDPOINT"`
	Bucket    string `envconfig:"PUBLISH_BUCKET"`
	Object    string `envconfig:"PUBLISH_OBJECT"`
	AccessKey string `envconfig:"PUBLISH_ACCESS_KEY"`
	SecretKey string `envconfig:"PUBLISH_SECRET_KEY"`
	Region    string `envconfig:"PUBLISH_REGION"`
	UseSSL    bool   `envconfig:"PUBLISH_USE_SSL" default:"true"`
}

func (p Publish) Client() publish.Config {
	return publish.Config{
		Endpoint:  strings.TrimSpace(p.Endpoint),
		Bucket:    strings.TrimSpace(p.Bucket),
		Object:    strings.TrimSpace(p.Object),
		AccessKey: p.AccessKey,
		SecretKey: p.SecretKey,
		Region:    strings.TrimSpace(p.Region),
		UseSSL:    p.UseSSL,
	}
}

// Error marks a configuration problem. The CLI exits with status 2 for these.
type Error struct {
	Err error
}

func (e *Error) Error() string {
	if e == nil || e.Err == nil {
		return "config error"
	}
	return "config error: " + e.Err.Error()
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// Errorf returns a *Error with a formatted cause.
func Errorf(format string, args ...any) error {
	return &Error{Err: fmt.Errorf(format, args...)}
}

// IsError reports whether err is, or wraps, a configuration error.
func IsError(err error) bool {
	var ce *Error
	return errors.As(err, &ce)
}

// Load reads the environment, applies the file named by PIPELINE_CONFIG, and validates the
// result.
func Load() (Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return Config{}, &Error{Err: err}
	}
	if strings.TrimSpace(cfg.File) != "" {
		if err := cfg.applyFile(strings.TrimSpace(cfg.File)); err != nil {
			return Config{}, err
		}
	}
	cfg.Columns = cfg.Columns.WithDefaults()
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

type fileOverlay struct {
	Columns  source.Columns `yaml:"columns"`
	Describe struct {
		Prompt string `yaml:"prompt"`
	} `yaml:"describe"`
	Geocode struct {
		Locality *string `yaml:"locality"`
	} `yaml:"geocode"`
}

// applyFile overlays the YAML file. GEOCODE_LOCALITY, when set in the environment, wins over
// the file.
func (c *Config) applyFile(path string) error {
	b, err := os.ReadFile(path)
	if err != nil {
		return Errorf("read %s: %w", path, err)
	}
	var f fileOverlay
	if err := yaml.Unmarshal(b, &f); err != nil {
		return Errorf("parse %s: %w", path, err)
	}
	c.Columns = f.Columns
	c.Describe.Prompt = strings.TrimSpace(f.Describe.Prompt)
	if f.Geocode.Locality != nil {
		if _, set := os.LookupEnv("GEOCODE_LOCALITY"); !set {
			c.Geocode.Locality = *f.Geocode.Locality
		}
	}
	return nil
}

func (c Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.StorePath) == "" {
		errs = append(errs, errors.New("STORE_PATH is empty"))
	}
	if c.DefaultLimit <= 0 {
		errs = append(errs, fmt.Errorf("DEFAULT_LIMIT must be positive (got %d)", c.DefaultLimit))
	}
	if c.MaxRetries < 0 {
		errs = append(errs, fmt.Errorf("MAX_RETRIES must not be negative (got %d)", c.MaxRetries))
	}
	if c.RequestTimeout <= 0 {
		errs = append(errs, fmt.Errorf("REQUEST_TIMEOUT must be positive (got %s)", c.RequestTimeout))
	}
	switch c.Describe.Backend {
	case BackendGemini, BackendStub:
	default:
		errs = append(errs, fmt.Errorf("DESCRIBE_BACKEND must be %s or %s (got %q)", BackendGemini, BackendStub, c.Describe.Backend))
	}
	if c.Describe.BatchSize <= 0 {
		errs = append(errs, fmt.Errorf("DESCRIBE_BATCH_SIZE must be positive (got %d)", c.Describe.BatchSize))
	}
	if c.Describe.CheckpointEvery < 0 {
		errs = append(errs, fmt.Errorf("DESCRIBE_CHECKPOINT_EVERY must not be negative (got %d)", c.Describe.CheckpointEvery))
	}
	if c.Describe.RateLimitRPS < 0 {
		errs = append(errs, fmt.Errorf("DESCRIBE_RATE_LIMIT_RPS must not be negative (got %g)", c.Describe.RateLimitRPS))
	}
	switch c.Geocode.Backend {
	case BackendNominatim, BackendStub:
	default:
		errs = append(errs, fmt.Errorf("GEOCODE_BACKEND must be %s or %s (got %q)", BackendNominatim, BackendStub, c.Geocode.Backend))
	}
	if c.Geocode.Interval <= 0 {
		errs = append(errs, fmt.Errorf("GEOCODE_INTERVAL must be positive (got %s)", c.Geocode.Interval))
	}
	if c.Geocode.CheckpointEvery < 0 {
		errs = append(errs, fmt.Errorf("GEOCODE_CHECKPOINT_EVERY must not be negative (got %d)", c.Geocode.CheckpointEvery))
	}
	if c.Geocode.MaxAttempts < 0 {
		errs = append(errs, fmt.Errorf("GEOCODE_MAX_ATTEMPTS must not be negative (got %d)", c.Geocode.MaxAttempts))
	}
	switch c.Log.Format {
	case "json", "console":
	default:
		errs = append(errs, fmt.Errorf("LOG_FORMAT must be json or console (got %q)", c.Log.Format))
	}
	if err := c.Publish.Client().Validate(); err != nil {
		errs = append(errs, err)
	}
	if len(errs) > 0 {
		return &Error{Err: errors.Join(errs...)}
	}
	return nil
}
