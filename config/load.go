package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"library-client/library"
)

const envPrefix = "LIBRARY"

// Load reads .env, library.yaml and LIBRARY_* variables, then applies any
// flag in flags that the user set. flags may be nil.
func Load(flags *pflag.FlagSet) (App, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return App{}, fmt.Errorf("load .env: %w", err)
	}

	v := viper.New()
	for k, def := range defaults {
		v.SetDefault(k, def)
	}
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	v.SetConfigName("library")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	if home, err := os.UserHomeDir(); err == nil {
		v.AddConfigPath(filepath.Join(home, ".config", "library-client"))
	}
	if err := v.ReadInConfig(); err != nil {
		var nf viper.ConfigFileNotFoundError
		if !errors.As(err, &nf) {
			return App{}, fmt.Errorf("read config: %w", err)
		}
	} else {
		slog.Debug("config file loaded", "path", v.ConfigFileUsed())
	}

	if flags != nil {
		var bindErr error
		flags.VisitAll(func(f *pflag.Flag) {
			key := strings.ReplaceAll(f.Name, "-", "_")
			if _, known := defaults[key]; !known || bindErr != nil {
				return
			}
			bindErr = v.BindPFlag(key, f)
		})
		if bindErr != nil {
			return App{}, fmt.Errorf("bind flags: %w", bindErr)
		}
	}

	var cfg App
	if err := v.Unmarshal(&cfg); err != nil {
		return App{}, fmt.Errorf("decode config: %w", err)
	}
	cfg.APIURL = strings.TrimRight(strings.TrimSpace(cfg.APIURL), "/")
	cfg.LogLevel = strings.ToLower(cfg.LogLevel)
	cfg.LogFormat = strings.ToLower(cfg.LogFormat)
	if err := cfg.Validate(); err != nil {
		return App{}, err
	}
	return cfg, nil
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate reports the first invalid key by its config name.
func (a App) Validate() error {
	err := validate.Struct(a)
	if err == nil {
		return nil
	}
	var ve validator.ValidationErrors
	if errors.As(err, &ve) && len(ve) > 0 {
		fe := ve[0]
		return fmt.Errorf("config: invalid %s (%s)", keyOf(fe.StructField()), fe.Tag())
	}
	return fmt.Errorf("config: %w", err)
}

func keyOf(field string) string {
	switch field {
	case "APIURL":
		return "api_url"
	case "DBPath":
		return "db_path"
	}
	var b strings.Builder
	for i, r := range field {
		if i > 0 && r >= 'A' && r <= 'Z' {
			b.WriteByte('_')
		}
		b.WriteRune(r)
	}
	return strings.ToLower(b.String())
}

// Policy returns the classifier thresholds configured by the loan keys.
func (a App) Policy() library.Policy {
	return library.PolicyFromDays(a.LoanDays, a.GraceDays, a.DueSoonDays)
}

// Logger builds the process logger writing to stderr.
func (a App) Logger() *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(a.LogLevel)); err != nil {
		level = slog.LevelWarn
	}
	opts := &slog.HandlerOptions{Level: level}
	if a.LogFormat == "json" {
		return slog.New(slog.NewJSONHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, opts))
}
