package app

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/campusride/bustrack/internal/auth"
)

func newTokenCommand() *cobra.Command {
	var (
		role string
		ttl  time.Duration
	)
	cmd := &cobra.Command{
		Use:   "token USER_ID",
		Short: "Mint a development bearer token signed with JWT_SECRET",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			secret := os.Getenv("JWT_SECRET")
			if secret == "" {
				return errors.New("JWT_SECRET is not set")
			}
			r := auth.Role(role)
			if !r.Valid() {
				return fmt.Errorf("unknown role %q", role)
			}
			tok, err := auth.NewAuthenticator(secret, ttl).Issue(auth.Identity{UserID: args[0], Role: r})
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), tok)
			return nil
		},
	}
	cmd.Flags().StringVar(&role, "role", string(auth.RoleStudent), "student, driver, coordinator or admin.")
	cmd.Flags().DurationVar(&ttl, "ttl", 24*time.Hour, "Token lifetime.")
	return cmd
}
