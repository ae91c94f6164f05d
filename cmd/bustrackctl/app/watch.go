package app

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/campusride/bustrack/internal/progress"
	"github.com/campusride/bustrack/internal/viewer"
	"github.com/campusride/bustrack/models"
)

func newWatchCommand(opts *Options) *cobra.Command {
	var (
		staleAfter time.Duration
		cfg        = progress.DefaultConfig()
	)
	cmd := &cobra.Command{
		Use:   "watch [UNIT_ID]",
		Short: "Follow a bus live and print its route progress",
		Long:  "watch follows UNIT_ID live. Without UNIT_ID it lists the buses running today.",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			logger, err := opts.logger()
			if err != nil {
				return err
			}
			defer logger.Sync()

			ctx := cmd.Context()
			client := viewer.NewClient(viewer.Config{
				BaseURL:    opts.Server,
				Token:      opts.Token,
				StaleAfter: staleAfter,
				Logger:     logger.WithName("viewer"),
			})
			defer client.Close()

			out := cmd.OutOrStdout()
			if len(args) == 0 {
				units, err := client.FetchToday(ctx)
				if err != nil {
					return err
				}
				printToday(out, units)
				return nil
			}

			unit, err := client.FetchUnit(ctx, args[0])
			if err != nil {
				return err
			}
			sess, err := client.Open(ctx, args[0])
			if err != nil {
				return err
			}
			defer sess.Close()

			fmt.Fprintf(out, "Following %s (%s)\n", unit.BusNumber, unit.RouteName)
			pos, state := sess.Latest()
			unit.Position = pos
			printProgress(out, state, unit, progress.Derive(cfg, progress.InputForUnit(unit, time.Now())))

			for {
				select {
				case <-ctx.Done():
					return nil
				case u, ok := <-sess.Updates():
					if !ok {
						return nil
					}
					if u.Reset {
						fmt.Fprintln(out, models.DefaultResetMessage)
						unit.Arrivals = nil
					}
					unit.Position = u.Position
					printProgress(out, u.State, unit, progress.Derive(cfg, progress.InputForUnit(unit, time.Now())))
				}
			}
		},
	}
	fs := cmd.Flags()
	fs.DurationVar(&staleAfter, "stale-after", 30*time.Second, "Mark data stale after this long without an update.")
	fs.Float64Var(&cfg.ProximityThresholdKm, "proximity-km", cfg.ProximityThresholdKm, "Distance at which a stop counts as current.")
	fs.Float64Var(&cfg.AverageSpeedKmh, "speed-kmh", cfg.AverageSpeedKmh, "Assumed speed for ETAs.")
	fs.IntVar(&cfg.MinutesPerStop, "minutes-per-stop", cfg.MinutesPerStop, "Per-stop duration when the route has no coordinates.")
	return cmd
}

func printProgress(w io.Writer, state viewer.State, unit *models.TrackedUnit, p models.RouteProgress) {
	where := "no position yet"
	if unit.Position != nil {
		where = fmt.Sprintf("%.5f,%.5f at %s", unit.Position.Latitude, unit.Position.Longitude,
			unit.Position.Timestamp.Local().Format("15:04:05"))
	}
	fmt.Fprintf(w, "[%s] %s | %d/%d stops (%.0f%%)\n", state, where, p.Completed, p.Total, p.Percent)

	var parts []string
	for _, st := range p.Stops {
		s := fmt.Sprintf("%s:%s", st.Name, st.Status)
		if st.ETAMinutes != nil && st.Status != models.StatusPassed {
			s += fmt.Sprintf("(%dm)", *st.ETAMinutes)
		}
		parts = append(parts, s)
	}
	if len(parts) > 0 {
		fmt.Fprintf(w, "  %s\n", strings.Join(parts, " > "))
	}
}

func printToday(w io.Writer, units []models.TrackedUnit) {
	if len(units) == 0 {
		fmt.Fprintln(w, "No buses running today")
		return
	}
	for _, u := range units {
		where := "no position"
		if u.Position != nil {
			where = fmt.Sprintf("%.5f,%.5f", u.Position.Latitude, u.Position.Longitude)
		}
		fmt.Fprintf(w, "%s\t%s\t%s\tdeparts %s\t%s\n", u.UnitID, u.BusNumber, u.RouteName, u.DepartureTime, where)
	}
}
