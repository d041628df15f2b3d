// Package config loads the run configuration from flags, environment
// variables, an optional YAML file and defaults, in that order of precedence.
package config

import (
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"github.com/wb-go/wbf/retry"

	"github.com/aliskhannn/filigrane/internal/model"
)

const (
	// EnvPrefix prefixes every environment variable, e.g. FILIGRANE_API_KEY.
	EnvPrefix = "FILIGRANE"

	DefaultWatermark       = "Document exclusivement destiné à la location immobilière"
	DefaultOutputSubdir    = "filigrane"
	DefaultAggregateOutput = "aggregated_filigrane_docs.pdf"
	DefaultBaseURL         = "https://api.filigrane.beta.gouv.fr/api/document"
	DefaultConcurrency     = 8
)

var (
	// ErrHelp is returned when -h or --help was requested.
	ErrHelp = pflag.ErrHelp
	// ErrVersion is returned when --version was requested.
	ErrVersion = errors.New("version requested")
	// ErrUsage marks malformed command lines.
	ErrUsage = errors.New("usage error")
	// ErrInvalid marks configuration values that failed validation.
	ErrInvalid = errors.New("invalid configuration")
)

// Config holds the configuration of a run.
type Config struct {
	Folder          string        `mapstructure:"folder"`
	Watermark       string        `mapstructure:"watermark"`
	OutputDir       string        `mapstructure:"output_dir"`
	Aggregate       bool          `mapstructure:"aggregate"`
	AggregateOutput string        `mapstructure:"aggregate_output"`
	Recursive       bool          `mapstructure:"recursive"`
	Concurrency     int           `mapstructure:"concurrency"`
	Timeout         time.Duration `mapstructure:"timeout"` // 0 disables the run timeout

	API     API     `mapstructure:"api"`
	Poll    Poll    `mapstructure:"poll"`
	Retry   Retry   `mapstructure:"retry"`
	Log     Log     `mapstructure:"log"`
	Storage Storage `mapstructure:"storage"`
	Kafka   Kafka   `mapstructure:"kafka"`
}

// API holds the watermarking service settings.
type API struct {
	BaseURL     string        `mapstructure:"base_url"`
	Key         string        `mapstructure:"key"`          // sent as a bearer token when set
	HTTPTimeout time.Duration `mapstructure:"http_timeout"` // per request
}

// Poll defines how long and how often a job is polled.
type Poll struct {
	Interval    time.Duration `mapstructure:"interval"`     // first wait between polls
	MaxInterval time.Duration `mapstructure:"max_interval"` // ceiling of the doubling wait
	MaxWait     time.Duration `mapstructure:"max_wait"`     // give up after this long
}

// Retry defines retry policy configuration.
type Retry struct {
	Attempts int           `mapstructure:"attempts"` // Total attempts per phase
	Delay    time.Duration `mapstructure:"delay"`    // Initial delay between retries
	Backoff  float64       `mapstructure:"backoff"`  // Backoff multiplier for delays
}

// Log holds logging settings.
type Log struct {
	Level string `mapstructure:"level"`
}

// Storage holds configuration for the optional S3-compatible result mirror.
type Storage struct {
	Endpoint   string `mapstructure:"endpoint"`
	AccessKey  string `mapstructure:"access_key"`
	SecretKey  string `mapstructure:"secret_key"`
	BucketName string `mapstructure:"bucket_name"`
	UseSSL     bool   `mapstructure:"use_ssl"`
	Prefix     string `mapstructure:"prefix"`
}

// Kafka holds configuration for the optional outcome events.
type Kafka struct {
	Topic   string   `mapstructure:"topic"`   // Kafka topic name
	Brokers []string `mapstructure:"brokers"` // List of Kafka broker addresses
}

// Mode returns the job grouping selected for the run.
func (c *Config) Mode() model.Mode {
	if c.Aggregate {
		return model.ModeAggregated
	}
	return model.ModeIndividual
}

// Strategy returns the retry strategy for external calls.
func (c *Config) Strategy() retry.Strategy {
	return retry.Strategy{
		Attempts: c.Retry.Attempts,
		Delay:    c.Retry.Delay,
		Backoff:  c.Retry.Backoff,
	}
}

// Level returns the parsed log level.
func (c *Config) Level() zerolog.Level {
	lvl, err := zerolog.ParseLevel(strings.ToLower(c.Log.Level))
	if err != nil {
		return zerolog.InfoLevel
	}
	return lvl
}

// MirrorEnabled reports whether outputs are copied to object storage.
func (c *Config) MirrorEnabled() bool {
	return c.Storage.Endpoint != ""
}

// EventsEnabled reports whether outcomes are published to Kafka.
func (c *Config) EventsEnabled() bool {
	return len(c.Kafka.Brokers) > 0
}

// setDefaults registers the default of every key so that environment
// variables are picked up for all of them.
func setDefaults(v *viper.Viper) {
	v.SetDefault("watermark", DefaultWatermark)
	v.SetDefault("output_dir", "")
	v.SetDefault("aggregate", false)
	v.SetDefault("aggregate_output", DefaultAggregateOutput)
	v.SetDefault("recursive", false)
	v.SetDefault("concurrency", DefaultConcurrency)
	v.SetDefault("timeout", time.Duration(0))

	v.SetDefault("api.base_url", DefaultBaseURL)
	v.SetDefault("api.key", "")
	v.SetDefault("api.http_timeout", 60*time.Second)

	v.SetDefault("poll.interval", 3*time.Second)
	v.SetDefault("poll.max_interval", 24*time.Second)
	v.SetDefault("poll.max_wait", 2*time.Minute)

	v.SetDefault("retry.attempts", 4)
	v.SetDefault("retry.delay", time.Second)
	v.SetDefault("retry.backoff", 2.0)

	v.SetDefault("log.level", "info")

	v.SetDefault("storage.endpoint", "")
	v.SetDefault("storage.access_key", "")
	v.SetDefault("storage.secret_key", "")
	v.SetDefault("storage.bucket_name", "filigrane")
	v.SetDefault("storage.use_ssl", false)
	v.SetDefault("storage.prefix", "")

	v.SetDefault("kafka.topic", "filigrane-outcomes")
	v.SetDefault("kafka.brokers", []string{})
}

// flagKeys maps command-line flags to configuration keys.
var flagKeys = map[string]string{
	"watermark":        "watermark",
	"output-dir":       "output_dir",
	"aggregate":        "aggregate",
	"aggregate-output": "aggregate_output",
	"recursive":        "recursive",
	"concurrency":      "concurrency",
	"timeout":          "timeout",
	"api-base":         "api.base_url",
	"api-key":          "api.key",
	"log-level":        "log.level",
}

func newFlagSet(name string, out io.Writer) *pflag.FlagSet {
	fs := pflag.NewFlagSet(name, pflag.ContinueOnError)
	fs.SetOutput(out)
	fs.SortFlags = false

	fs.StringP("watermark", "w", DefaultWatermark, "watermark text applied to every document")
	fs.StringP("output-dir", "o", "", "output directory (default <folder>/"+DefaultOutputSubdir+")")
	fs.Bool("aggregate", false, "combine all documents into a single watermarked output")
	fs.String("aggregate-output", DefaultAggregateOutput, "file name of the aggregated output")
	fs.BoolP("recursive", "r", false, "also process subdirectories, mirroring their layout in the output directory")
	fs.IntP("concurrency", "j", DefaultConcurrency, "maximum number of documents processed at once")
	fs.Duration("timeout", 0, "abandon the run after this long, e.g. 10m (0 = no limit)")
	fs.String("api-base", DefaultBaseURL, "base URL of the watermarking API")
	fs.String("api-key", "", "API key sent as a bearer token")
	fs.String("log-level", "info", "log level: debug, info, warn, error")
	fs.String("config", "", "YAML configuration file")
	fs.Bool("version", false, "print the version and exit")

	fs.Usage = func() {
		fmt.Fprintf(out, "Usage: %s [flags] <folder>\n\n", name)
		fmt.Fprintf(out, "Watermarks every PDF, JPG, PNG and HEIC file of <folder> through the remote\n")
		fmt.Fprintf(out, "watermarking API and writes the results to <folder>/%s.\n", DefaultOutputSubdir)
		fmt.Fprintf(out, "Only the top level of <folder> is read unless --recursive is set.\n\n")
		fmt.Fprintf(out, "Flags:\n%s\n", fs.FlagUsages())
		fmt.Fprintf(out, "Every setting can also be given as an environment variable prefixed with\n")
		fmt.Fprintf(out, "%s_, e.g. %s_API_KEY or %s_POLL_MAX_WAIT.\n", EnvPrefix, EnvPrefix, EnvPrefix)
	}

	return fs
}

// Load parses args (without the program name) and returns the validated
// configuration. It returns ErrHelp or ErrVersion when those flags were given.
func Load(name string, args []string, out io.Writer) (*Config, error) {
	fs := newFlagSet(name, out)
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil, ErrHelp
		}
		return nil, fmt.Errorf("%w: %v", ErrUsage, err)
	}

	if version, _ := fs.GetBool("version"); version {
		return nil, ErrVersion
	}

	if fs.NArg() != 1 {
		fs.Usage()
		return nil, fmt.Errorf("%w: expected exactly one folder, got %d arguments", ErrUsage, fs.NArg())
	}

	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	for flag, key := range flagKeys {
		if err := v.BindPFlag(key, fs.Lookup(flag)); err != nil {
			return nil, fmt.Errorf("bind flag %s: %w", flag, err)
		}
	}

	if path, _ := fs.GetString("config"); path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("%w: failed to read config %s: %v", ErrInvalid, path, err)
		}
	}

	v.Set("folder", fs.Arg(0))

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("%w: failed to unmarshal config: %v", ErrInvalid, err)
	}

	cfg.Folder = filepath.Clean(cfg.Folder)
	if cfg.OutputDir == "" {
		cfg.OutputDir = filepath.Join(cfg.Folder, DefaultOutputSubdir)
	}
	cfg.Kafka.Brokers = splitList(cfg.Kafka.Brokers)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate checks the configuration before any upload happens.
func (c *Config) Validate() error {
	var errs []error
	invalid := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf("%w: %s", ErrInvalid, fmt.Sprintf(format, args...)))
	}

	info, err := os.Stat(c.Folder)
	switch {
	case err != nil:
		invalid("folder %s: %v", c.Folder, err)
	case !info.IsDir():
		invalid("folder %s is not a directory", c.Folder)
	}

	if strings.TrimSpace(c.Watermark) == "" {
		invalid("watermark text must not be empty")
	}
	if c.Concurrency < 1 {
		invalid("concurrency must be at least 1, got %d", c.Concurrency)
	}
	if c.Timeout < 0 {
		invalid("timeout must not be negative")
	}
	if n := c.AggregateOutput; n == "" || n == "." || n == ".." || filepath.Base(n) != n || strings.ContainsAny(n, `/\`) {
		invalid("aggregate output must be a bare file name, got %q", n)
	}

	u, err := url.Parse(c.API.BaseURL)
	if err != nil || !u.IsAbs() || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		invalid("api base url must be an absolute http(s) URL, got %q", c.API.BaseURL)
	}
	if c.API.HTTPTimeout <= 0 {
		invalid("api http timeout must be positive")
	}

	if c.Poll.Interval <= 0 || c.Poll.MaxWait <= 0 {
		invalid("poll interval and max wait must be positive")
	}
	if c.Poll.MaxInterval < c.Poll.Interval {
		invalid("poll max interval must not be below the interval")
	}

	if c.Retry.Attempts < 1 {
		invalid("retry attempts must be at least 1, got %d", c.Retry.Attempts)
	}
	if c.Retry.Delay < 0 || c.Retry.Backoff < 1 {
		invalid("retry delay must not be negative and backoff must be at least 1")
	}

	if _, err := zerolog.ParseLevel(strings.ToLower(c.Log.Level)); err != nil || c.Log.Level == "" {
		invalid("unknown log level %q", c.Log.Level)
	}

	if c.MirrorEnabled() && c.Storage.BucketName == "" {
		invalid("storage bucket name is required when storage endpoint is set")
	}
	if c.EventsEnabled() && c.Kafka.Topic == "" {
		invalid("kafka topic is required when brokers are set")
	}

	return errors.Join(errs...)
}

// splitList flattens comma-separated entries and drops empty ones.
func splitList(in []string) []string {
	var out []string
	for _, s := range in {
		for _, part := range strings.Split(s, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}
