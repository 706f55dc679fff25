// Package config loads dailyreview settings from defaults, an optional YAML
// file, DAILYREVIEW_* environment variables and command-line flags, in that
// order of precedence.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/go-viper/mapstructure/v2"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/spf13/pflag"

	"github.com/conorfennell/dailyreview/internal/fsrs"
)

// EnvPrefix marks environment variables read by Load. A double underscore
// separates nested keys: DAILYREVIEW_STORAGE__PATH sets storage.path.
const EnvPrefix = "DAILYREVIEW_"

// Config holds application configuration.
type Config struct {
	// Owner is the identity used when a request does not name one.
	Owner     string          `koanf:"owner" validate:"required"`
	Storage   StorageConfig   `koanf:"storage"`
	Server    ServerConfig    `koanf:"server"`
	Scheduler SchedulerConfig `koanf:"scheduler"`
	Grader    GraderConfig    `koanf:"grader"`
	Policy    PolicyConfig    `koanf:"policy"`
	Sources   []SourceConfig  `koanf:"sources" validate:"dive"`
	Sync      SyncConfig      `koanf:"sync"`
	Log       LogConfig       `koanf:"log"`
}

// StorageConfig selects and tunes the persistence backend.
type StorageConfig struct {
	Driver string `koanf:"driver" validate:"oneof=sqlite postgres"`
	// Path is the SQLite database file.
	Path string `koanf:"path" validate:"required_if=Driver sqlite"`
	// DSN is the Postgres connection string.
	DSN string `koanf:"dsn" validate:"required_if=Driver postgres"`
	// MaxOpenConns of 0 leaves the driver default in place (1 for SQLite).
	MaxOpenConns int `koanf:"max_open_conns" validate:"gte=0"`
	MaxIdleConns int `koanf:"max_idle_conns" validate:"gte=0"`
}

type ServerConfig struct {
	Addr            string        `koanf:"addr" validate:"required"`
	ReadTimeout     time.Duration `koanf:"read_timeout" validate:"gte=0"`
	WriteTimeout    time.Duration `koanf:"write_timeout" validate:"gte=0"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout" validate:"gt=0"`
}

// SchedulerConfig mirrors fsrs.Params. An empty Weights list keeps the defaults.
type SchedulerConfig struct {
	DesiredRetention float64         `koanf:"desired_retention" validate:"gt=0,lte=1"`
	LearningSteps    []time.Duration `koanf:"learning_steps" validate:"dive,gt=0"`
	RelearningSteps  []time.Duration `koanf:"relearning_steps" validate:"dive,gt=0"`
	MaximumInterval  int             `koanf:"maximum_interval" validate:"gte=1"`
	EnableFuzz       bool            `koanf:"enable_fuzz"`
	EnableShortTerm  bool            `koanf:"enable_short_term"`
	Weights          []float64       `koanf:"weights" validate:"omitempty,len=21"`
}

// Params converts the section into scheduler parameters.
func (s SchedulerConfig) Params() *fsrs.Params {
	p := fsrs.DefaultParams()
	p.DesiredRetention = s.DesiredRetention
	p.LearningSteps = append([]time.Duration(nil), s.LearningSteps...)
	p.RelearningSteps = append([]time.Duration(nil), s.RelearningSteps...)
	p.MaximumInterval = s.MaximumInterval
	p.EnableFuzz = s.EnableFuzz
	p.EnableShortTerm = s.EnableShortTerm
	if len(s.Weights) == len(p.Weights) {
		copy(p.Weights[:], s.Weights)
	}
	return p
}

// GraderConfig configures the Anthropic Messages API grader.
type GraderConfig struct {
	Enabled        bool          `koanf:"enabled"`
	BaseURL        string        `koanf:"base_url" validate:"omitempty,url"`
	APIKey         string        `koanf:"api_key" validate:"required_if=Enabled true"`
	Model          string        `koanf:"model" validate:"required_if=Enabled true"`
	MaxTokens      int           `koanf:"max_tokens" validate:"gte=1"`
	Timeout        time.Duration `koanf:"timeout" validate:"gt=0"`
	MaxRetries     int           `koanf:"max_retries" validate:"gte=0,lte=10"`
	InitialBackoff time.Duration `koanf:"initial_backoff" validate:"gte=0"`
	MaxBackoff     time.Duration `koanf:"max_backoff" validate:"gte=0"`
}

// PolicyConfig holds the score thresholds used to suggest a rating from a
// grader score. Scores below AgainBelow suggest Again, and so on upward.
type PolicyConfig struct {
	AgainBelow float64 `koanf:"again_below" validate:"gte=0,lte=1,ltefield=HardBelow"`
	HardBelow  float64 `koanf:"hard_below" validate:"gte=0,lte=1,ltefield=GoodBelow"`
	GoodBelow  float64 `koanf:"good_below" validate:"gte=0,lte=1"`
}

// SourceConfig is a markdown card source: a local directory, or a git
// repository cloned into sync.repos_dir.
type SourceConfig struct {
	Path string `koanf:"path" validate:"required_without=Repo"`
	Repo string `koanf:"repo" validate:"omitempty,url"`
}

type SyncConfig struct {
	ReposDir string        `koanf:"repos_dir" validate:"required"`
	Watch    bool          `koanf:"watch"`
	Debounce time.Duration `koanf:"debounce" validate:"gte=0"`
	// Prune deletes cards whose note disappeared from a source, but only
	// while they are still in triage.
	Prune bool `koanf:"prune"`
}

type LogConfig struct {
	Level  string `koanf:"level" validate:"oneof=debug info warn error"`
	Format string `koanf:"format" validate:"oneof=text json"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	p := fsrs.DefaultParams()
	return &Config{
		Owner: "local",
		Storage: StorageConfig{
			Driver: "sqlite",
			Path:   "dailyreview.db",
		},
		Server: ServerConfig{
			Addr:            ":8080",
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    30 * time.Second,
			ShutdownTimeout: 10 * time.Second,
		},
		Scheduler: SchedulerConfig{
			DesiredRetention: p.DesiredRetention,
			LearningSteps:    p.LearningSteps,
			RelearningSteps:  p.RelearningSteps,
			MaximumInterval:  p.MaximumInterval,
			EnableFuzz:       p.EnableFuzz,
			EnableShortTerm:  p.EnableShortTerm,
		},
		Grader: GraderConfig{
			BaseURL:        "https://api.anthropic.com",
			Model:          "claude-haiku-4-5-20251001",
			MaxTokens:      256,
			Timeout:        30 * time.Second,
			MaxRetries:     3,
			InitialBackoff: 500 * time.Millisecond,
			MaxBackoff:     8 * time.Second,
		},
		Policy: PolicyConfig{
			AgainBelow: 0.4,
			HardBelow:  0.6,
			GoodBelow:  0.85,
		},
		Sync: SyncConfig{
			ReposDir: ".dailyreview/repos",
			Debounce: 500 * time.Millisecond,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// RegisterFlags adds the overridable settings to fs. Flag names are the
// dotted config keys so posflag can map them directly.
func RegisterFlags(fs *pflag.FlagSet) {
	d := DefaultConfig()
	fs.String("config", "", "Path to a YAML config file")
	fs.String("owner", d.Owner, "Owner identity for cards")
	fs.String("storage.driver", d.Storage.Driver, "Storage backend: sqlite or postgres")
	fs.String("storage.path", d.Storage.Path, "Path to the SQLite database file")
	fs.String("storage.dsn", d.Storage.DSN, "Postgres connection string")
	fs.String("server.addr", d.Server.Addr, "HTTP listen address")
	fs.Bool("grader.enabled", d.Grader.Enabled, "Enable the answer grader")
	fs.Bool("sync.watch", d.Sync.Watch, "Watch local sources and re-import on change")
	fs.Bool("sync.prune", d.Sync.Prune, "Delete triaging cards whose note was removed")
	fs.String("log.level", d.Log.Level, "Log level: debug, info, warn, error")
	fs.String("log.format", d.Log.Format, "Log format: text or json")
}

// Load builds a Config. path may be empty; fs may be nil. Flags that were not
// set on the command line never override the file or environment.
func Load(path string, fs *pflag.FlagSet) (*Config, error) {
	k := koanf.New(".")

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", path, err)
		}
	}

	if err := k.Load(env.ProviderWithValue(EnvPrefix, ".", envKey), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment: %w", err)
	}

	if fs != nil {
		if err := k.Load(posflag.Provider(fs, ".", k), nil); err != nil {
			return nil, fmt.Errorf("failed to load flags: %w", err)
		}
	}

	cfg := DefaultConfig()
	if err := k.UnmarshalWithConf("", cfg, koanf.UnmarshalConf{
		Tag: "koanf",
		DecoderConfig: &mapstructure.DecoderConfig{
			DecodeHook: mapstructure.ComposeDecodeHookFunc(
				mapstructure.StringToTimeDurationHookFunc(),
				mapstructure.StringToSliceHookFunc(","),
				mapstructure.TextUnmarshallerHookFunc(),
			),
			Result:           cfg,
			WeaklyTypedInput: true,
			ZeroFields:       true,
			TagName:          "koanf",
		},
	}); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFlags is Load with the file path taken from the --config flag, falling
// back to the DAILYREVIEW_CONFIG environment variable.
func LoadFlags(fs *pflag.FlagSet) (*Config, error) {
	path, _ := fs.GetString("config")
	if path == "" {
		path = os.Getenv(EnvPrefix + "CONFIG")
	}
	return Load(path, fs)
}

// Validate checks struct tags and the scheduler weights.
func (c *Config) Validate() error {
	v := validator.New(validator.WithRequiredStructEnabled())
	if err := v.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, fmt.Sprintf("%s failed %q", fe.Namespace(), fe.Tag()))
			}
			return fmt.Errorf("invalid config: %s", strings.Join(msgs, "; "))
		}
		return fmt.Errorf("invalid config: %w", err)
	}
	if err := c.Scheduler.Params().Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

// listKeys are the settings whose environment values are comma separated.
var listKeys = map[string]bool{
	"scheduler.learning_steps":   true,
	"scheduler.relearning_steps": true,
	"scheduler.weights":          true,
}

// envKey maps DAILYREVIEW_STORAGE__MAX_OPEN_CONNS to storage.max_open_conns.
// List values are split here so each element is decoded on its own.
func envKey(k, v string) (string, any) {
	k = strings.ToLower(strings.TrimPrefix(k, EnvPrefix))
	if k == "config" {
		return "", nil
	}
	k = strings.ReplaceAll(k, "__", ".")
	if listKeys[k] {
		return k, splitList(v)
	}
	return k, v
}

func splitList(v string) []string {
	out := []string{}
	for _, item := range strings.Split(v, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}
