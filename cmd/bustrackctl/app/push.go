package app

import (
	"errors"
	"time"

	"github.com/spf13/cobra"

	"github.com/campusride/bustrack/internal/device"
)

func newPushCommand(opts *Options) *cobra.Command {
	var (
		at           string
		trackFile    string
		captureEvery time.Duration
		sendEvery    time.Duration
	)
	cmd := &cobra.Command{
		Use:   "push",
		Short: "Simulate a driver's device sending its location",
		Long: "push captures a position every --capture interval and sends the latest capture " +
			"every --send interval. Positions come from a fixed --at point or a --track file of lat,lng lines.",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger, err := opts.logger()
			if err != nil {
				return err
			}
			defer logger.Sync()

			var src device.Source
			switch {
			case trackFile != "":
				if src, err = device.LoadTrack(trackFile); err != nil {
					return err
				}
			case at != "":
				p, err := device.ParsePoint(at)
				if err != nil {
					return err
				}
				src = device.FixedSource(p)
			default:
				return errors.New("one of --at or --track is required")
			}

			sim := device.NewSimulator(src, &device.HTTPSender{BaseURL: opts.Server, Token: opts.Token}, device.Config{
				CaptureEvery: captureEvery,
				SendEvery:    sendEvery,
				Logger:       logger.WithName("push"),
			})
			return sim.Run(cmd.Context())
		},
	}
	fs := cmd.Flags()
	fs.StringVar(&at, "at", "", "Fixed position as lat,lng.")
	fs.StringVar(&trackFile, "track", "", "File of lat,lng lines, replayed in a loop.")
	fs.DurationVar(&captureEvery, "capture", 10*time.Second, "GPS capture interval.")
	fs.DurationVar(&sendEvery, "send", 10*time.Second, "Send interval.")
	return cmd
}
