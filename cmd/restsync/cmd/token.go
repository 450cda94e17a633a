package cmd

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"github.com/the-dev-tools/restsync/internal/mockserver"
)

func newTokenCmd(a *app) *cobra.Command {
	var (
		subject string
		ttl     time.Duration
	)
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Sign a bearer token accepted by serve --auth-secret",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			secret := a.localString(cmd, "auth-secret", keyAuthSecret)
			if secret == "" {
				return errors.New("auth secret is required")
			}
			tok, err := mockserver.NewToken(subject, ttl, time.Now(), []byte(secret))
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), tok)
			return err
		},
	}
	cmd.Flags().StringVar(&subject, "subject", "restsync", "token subject")
	cmd.Flags().DurationVar(&ttl, "ttl", 24*time.Hour, "token lifetime")
	cmd.Flags().String("auth-secret", "", "HMAC secret shared with the server")
	return cmd
}
