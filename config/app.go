package config

import "time"

// App is the client configuration. Every key can be set in library.yaml,
// as LIBRARY_<KEY> in the environment or .env, or with the matching flag.
type App struct {
	APIURL      string        `mapstructure:"api_url" validate:"required,url"`
	DBPath      string        `mapstructure:"db_path" validate:"required"`
	SessionKey  string        `mapstructure:"session_key" validate:"required"`
	Timeout     time.Duration `mapstructure:"timeout" validate:"gte=0"`
	BatchLimit  int           `mapstructure:"batch_limit" validate:"min=1,max=32"`
	LoanDays    int           `mapstructure:"loan_days" validate:"min=1"`
	GraceDays   int           `mapstructure:"grace_days" validate:"gte=0"`
	DueSoonDays int           `mapstructure:"due_soon_days" validate:"gte=0"`
	RecentLimit int           `mapstructure:"recent_limit" validate:"min=1"`
	LogLevel    string        `mapstructure:"log_level" validate:"oneof=debug info warn error"`
	LogFormat   string        `mapstructure:"log_format" validate:"oneof=text json"`
}

var defaults = map[string]any{
	"api_url":       "http://localhost:4000/api/v1",
	"db_path":       "library.db",
	"session_key":   "library-client",
	"timeout":       30 * time.Second,
	"batch_limit":   1,
	"loan_days":     14,
	"grace_days":    0,
	"due_soon_days": 3,
	"recent_limit":  5,
	"log_level":     "warn",
	"log_format":    "text",
}
