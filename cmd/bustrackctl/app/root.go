// Package app holds the bustrackctl commands.
package app

import (
	"context"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/campusride/bustrack/pkg/log"
)

// Options are shared by every subcommand.
type Options struct {
	Server     string
	Token      string
	LogOptions *log.Options
}

// NewOptions reads defaults from .env and the environment.
func NewOptions() *Options {
	_ = godotenv.Load()
	server := os.Getenv("BUSTRACK_SERVER")
	if server == "" {
		server = "http://localhost:8081"
	}
	logOpts := log.NewOptions()
	logOpts.Name = "bustrackctl"
	logOpts.OutputPaths = []string{"stderr"}
	return &Options{
		Server:     server,
		Token:      os.Getenv("BUSTRACK_TOKEN"),
		LogOptions: logOpts,
	}
}

// AddFlags binds the shared options to fs.
func (o *Options) AddFlags(fs *pflag.FlagSet) {
	fs.StringVar(&o.Server, "server", o.Server, "bustrack server base URL (BUSTRACK_SERVER).")
	fs.StringVar(&o.Token, "token", o.Token, "Bearer token (BUSTRACK_TOKEN).")
	o.LogOptions.AddFlags(fs)
}

func (o *Options) logger() (log.Logger, error) {
	if err := o.LogOptions.Validate(); err != nil {
		return nil, err
	}
	return log.NewLogger(o.LogOptions)
}

// NewRootCommand builds bustrackctl and its subcommands.
func NewRootCommand(ctx context.Context) *cobra.Command {
	opts := NewOptions()
	cmd := &cobra.Command{
		Use:          "bustrackctl",
		Short:        "Command line client for the bustrack server",
		Long:         "bustrackctl follows buses live, simulates a driver's device and mints development tokens.",
		SilenceUsage: true,
	}
	opts.AddFlags(cmd.PersistentFlags())
	cmd.SetContext(ctx)

	cmd.AddCommand(
		newWatchCommand(opts),
		newPushCommand(opts),
		newTokenCommand(),
	)
	return cmd
}
