package log

import (
	"fmt"

	"github.com/spf13/pflag"
	"go.uber.org/zap/zapcore"
)

const (
	FormatConsole = "console"
	FormatJSON    = "json"
)

// Options configures NewLogger.
type Options struct {
	// Name is prepended to every entry's logger name.
	Name string

	// Level is one of debug, info, warn, error.
	Level string

	// Format is "console" or "json".
	Format string

	EnableColor   bool
	DisableCaller bool

	// OutputPaths defaults to stdout.
	OutputPaths []string
}

// NewOptions returns Options with defaults suitable for local development.
func NewOptions() *Options {
	return &Options{
		Level:       "info",
		Format:      FormatConsole,
		OutputPaths: []string{"stdout"},
	}
}

// Validate checks the level and format values.
func (o *Options) Validate() error {
	if _, err := zapcore.ParseLevel(o.Level); err != nil {
		return fmt.Errorf("invalid log level %q: %w", o.Level, err)
	}
	if o.Format != FormatConsole && o.Format != FormatJSON {
		return fmt.Errorf("invalid log format %q (want console or json)", o.Format)
	}
	return nil
}

// AddFlags binds the options to fs.
func (o *Options) AddFlags(fs *pflag.FlagSet) {
	fs.StringVar(&o.Level, "log-level", o.Level, "Minimum log level (debug, info, warn, error).")
	fs.StringVar(&o.Format, "log-format", o.Format, "Log output format (console or json).")
	fs.BoolVar(&o.EnableColor, "log-color", o.EnableColor, "Colorize console log levels.")
	fs.BoolVar(&o.DisableCaller, "log-disable-caller", o.DisableCaller, "Omit file:line from log entries.")
}
