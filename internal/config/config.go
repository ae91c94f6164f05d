package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
)

// Config holds all configuration for the bustrack server and CLI
type Config struct {
	// Server
	Port           string `validate:"required,numeric"`
	AllowedOrigins []string
	MetricsEnabled bool

	// Storage
	DBDriver     string `validate:"oneof=sqlite postgres"`
	SQLitePath   string `validate:"required_if=DBDriver sqlite"`
	DatabaseURL  string `validate:"required_if=DBDriver postgres"`
	SeedDemo     bool
	StoreTimeout time.Duration `validate:"gt=0"`

	// Auth
	JWTSecret string `validate:"required,min=16"`
	JWTTTL    time.Duration

	// Cross-instance fan-out (optional)
	NATSURL           string
	NATSSubjectPrefix string `validate:"required"`

	// Daily reset
	ResetHour   int `validate:"gte=0,lte=23"`
	ResetMinute int `validate:"gte=0,lte=59"`
	Location    *time.Location

	// Route progress
	ProximityThresholdKm float64 `validate:"gt=0"`
	AverageSpeedKmh      float64 `validate:"gt=0"`
	MinutesPerStop       int     `validate:"gt=0"`

	// Client cadence
	CaptureInterval time.Duration `validate:"gt=0"`
	SendInterval    time.Duration `validate:"gt=0"`
	StaleAfter      time.Duration `validate:"gt=0"`

	// Logging
	LogLevel  string `validate:"oneof=debug info warn error"`
	LogFormat string `validate:"oneof=console json"`
}

// Load reads configuration from a .env file (if present) and the environment,
// applying defaults for anything unset.
func Load() (*Config, error) {
	// Load .env into environment (ignore if missing)
	_ = godotenv.Load()

	cfg := &Config{
		Port:              getEnv("PORT", "8081"),
		AllowedOrigins:    splitList(getEnv("FRONTEND_URL", "http://localhost:5173")),
		DBDriver:          strings.ToLower(getEnv("DB_DRIVER", "sqlite")),
		SQLitePath:        getEnv("SQLITE_DATABASE", "data/bustrack.db"),
		DatabaseURL:       os.Getenv("DATABASE_URL"),
		JWTSecret:         os.Getenv("JWT_SECRET"),
		NATSURL:           os.Getenv("NATS_URL"),
		NATSSubjectPrefix: getEnv("NATS_SUBJECT_PREFIX", "bustrack"),
		LogLevel:          strings.ToLower(getEnv("LOG_LEVEL", "info")),
		LogFormat:         strings.ToLower(getEnv("LOG_FORMAT", "console")),
	}

	var err error
	if cfg.MetricsEnabled, err = getEnvBool("METRICS_ENABLED", true); err != nil {
		return nil, err
	}
	if cfg.SeedDemo, err = getEnvBool("SEED_DEMO", false); err != nil {
		return nil, err
	}

	ints := []struct {
		key string
		def int
		dst *time.Duration
		per time.Duration
	}{
		{"STORE_TIMEOUT_MS", 5000, &cfg.StoreTimeout, time.Millisecond},
		{"JWT_TTL_HOURS", 168, &cfg.JWTTTL, time.Hour},
		{"LOCATION_CAPTURE_INTERVAL_SEC", 10, &cfg.CaptureInterval, time.Second},
		{"LOCATION_SEND_INTERVAL_SEC", 10, &cfg.SendInterval, time.Second},
		{"STALE_AFTER_SEC", 30, &cfg.StaleAfter, time.Second},
	}
	for _, d := range ints {
		n, err := getEnvInt(d.key, d.def)
		if err != nil {
			return nil, err
		}
		*d.dst = time.Duration(n) * d.per
	}

	if cfg.MinutesPerStop, err = getEnvInt("MINUTES_PER_STOP", 7); err != nil {
		return nil, err
	}
	if cfg.ProximityThresholdKm, err = getEnvFloat("PROXIMITY_THRESHOLD_KM", 0.2); err != nil {
		return nil, err
	}
	if cfg.AverageSpeedKmh, err = getEnvFloat("AVERAGE_SPEED_KMH", 25); err != nil {
		return nil, err
	}

	if cfg.ResetHour, cfg.ResetMinute, err = ParseClock(getEnv("RESET_TIME", "10:00")); err != nil {
		return nil, fmt.Errorf("invalid RESET_TIME: %w", err)
	}

	// Time zone
	if tz := os.Getenv("TZ"); tz != "" {
		loc, err := time.LoadLocation(tz)
		if err != nil {
			return nil, fmt.Errorf("invalid TZ: %w", err)
		}
		cfg.Location = loc
	} else {
		cfg.Location = time.Local
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks field constraints.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}

// ParseClock parses an "HH:MM" time of day.
func ParseClock(s string) (hour, minute int, err error) {
	t, err := time.Parse("15:04", strings.TrimSpace(s))
	if err != nil {
		return 0, 0, fmt.Errorf("want HH:MM, got %q", s)
	}
	return t.Hour(), t.Minute(), nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) (int, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	n, err := strconv.Atoi(value)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("invalid %s: %q", key, value)
	}
	return n, nil
}

func getEnvFloat(key string, defaultValue float64) (float64, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	f, err := strconv.ParseFloat(value, 64)
	if err != nil || f <= 0 {
		return 0, fmt.Errorf("invalid %s: %q", key, value)
	}
	return f, nil
}

func getEnvBool(key string, defaultValue bool) (bool, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "true", "t", "yes", "y", "on":
		return true, nil
	case "0", "false", "f", "no", "n", "off":
		return false, nil
	}
	return false, fmt.Errorf("invalid %s: %q", key, value)
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
