// Package config loads the emulator configuration.
//
// Configuration sources, in order of precedence: environment variables
// (EDGESIM_*), a YAML configuration file, defaults. Decoding goes through
// viper with mapstructure hooks for byte sizes and durations, and the result
// is validated with struct tags before use.
package config

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"

	"github.com/marmos91/edgesim/internal/bytesize"
)

// Config is the emulator configuration.
type Config struct {
	// Logging controls log output behavior.
	Logging LoggingConfig `mapstructure:"logging"`

	// Storage controls namespace persistence.
	Storage StorageConfig `mapstructure:"storage"`

	// Limits tunes the engine limits that production fixes.
	Limits LimitsConfig `mapstructure:"limits"`

	// Inspector configures the debug inspector HTTP server.
	Inspector InspectorConfig `mapstructure:"inspector"`

	// Compatibility sets the compatibility date and explicit flags.
	Compatibility CompatibilityConfig `mapstructure:"compatibility"`
}

// LoggingConfig controls log output behavior.
type LoggingConfig struct {
	Level  string `mapstructure:"level" validate:"omitempty,oneof=debug info warn error DEBUG INFO WARN ERROR"`
	Format string `mapstructure:"format" validate:"omitempty,oneof=text json"`
	Output string `mapstructure:"output"`
}

// StorageConfig controls namespace persistence.
type StorageConfig struct {
	// Root anchors relative persistence paths.
	Root string `mapstructure:"root"`

	// Persist is the default persistence setting for namespaces that do not
	// override it: "", "true", a path, or a file:// / badger:// /
	// memory:// URL.
	Persist string `mapstructure:"persist"`
}

// LimitsConfig tunes the engine limits that production fixes.
type LimitsConfig struct {
	// MinMultipartUploadSize is the minimum size of every non-trailing
	// multipart part. Zero keeps the production default of 5Mi.
	MinMultipartUploadSize bytesize.ByteSize `mapstructure:"min_multipart_upload_size"`

	// Unbound selects the unbound usage model's subrequest budget.
	Unbound bool `mapstructure:"unbound"`
}

// InspectorConfig configures the debug inspector HTTP server.
type InspectorConfig struct {
	Enabled         bool          `mapstructure:"enabled"`
	Addr            string        `mapstructure:"addr" validate:"omitempty,hostname_port"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" validate:"omitempty,gt=0"`
}

// CompatibilityConfig sets the compatibility date and explicit flags.
type CompatibilityConfig struct {
	Date  string   `mapstructure:"date" validate:"omitempty,datetime=2006-01-02"`
	Flags []string `mapstructure:"flags"`
}

// Default returns the built-in defaults.
func Default() Config {
	return Config{
		Logging: LoggingConfig{Level: "info", Format: "text", Output: "stderr"},
		Storage: StorageConfig{Root: ".", Persist: ""},
		Inspector: InspectorConfig{
			Addr:            "127.0.0.1:9321",
			ShutdownTimeout: 5 * time.Second,
		},
	}
}

// Load reads the configuration from the given file (optional) and the
// environment, validates it, and returns it.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("EDGESIM")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	defaults := Default()
	v.SetDefault("logging.level", defaults.Logging.Level)
	v.SetDefault("logging.format", defaults.Logging.Format)
	v.SetDefault("logging.output", defaults.Logging.Output)
	v.SetDefault("storage.root", defaults.Storage.Root)
	v.SetDefault("inspector.addr", defaults.Inspector.Addr)
	v.SetDefault("inspector.shutdown_timeout", defaults.Inspector.ShutdownTimeout)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("failed to read config file %q: %w", path, err)
		}
	}

	var cfg Config
	decodeHook := mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
		byteSizeHook(),
	)
	if err := v.Unmarshal(&cfg, viper.DecodeHook(decodeHook)); err != nil {
		return Config{}, fmt.Errorf("failed to decode config: %w", err)
	}
	if err := Validate(&cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks the configuration's struct tags.
func Validate(cfg *Config) error {
	if err := validator.New().Struct(cfg); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			fields := make([]string, len(verrs))
			for i, fe := range verrs {
				fields[i] = fmt.Sprintf("%s (%s)", fe.Namespace(), fe.Tag())
			}
			return fmt.Errorf("invalid configuration: %s", strings.Join(fields, ", "))
		}
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}

// byteSizeHook decodes strings and integers into bytesize.ByteSize.
func byteSizeHook() mapstructure.DecodeHookFuncType {
	return func(from reflect.Type, to reflect.Type, data any) (any, error) {
		if to != reflect.TypeOf(bytesize.ByteSize(0)) {
			return data, nil
		}
		switch val := data.(type) {
		case string:
			return bytesize.Parse(val)
		case int:
			return bytesize.ByteSize(val), nil
		case int64:
			return bytesize.ByteSize(val), nil
		case float64:
			return bytesize.ByteSize(val), nil
		default:
			return data, nil
		}
	}
}
