// ABOUTME: token command minting a bearer token from auth.jwt_secret
// ABOUTME: Used to authenticate against a backend started with the same secret

package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/2389/coven-chorus/internal/auth"
)

func newTokenCmd(g *globals) *cobra.Command {
	var (
		subject string
		ttl     time.Duration
	)

	cmd := &cobra.Command{
		Use:   "token",
		Short: "Print a bearer token signed with auth.jwt_secret",
		Long: `Print a bearer token signed with auth.jwt_secret.

The fake backend accepts these tokens when started with the same secret.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := g.load()
			if err != nil {
				return err
			}
			signer, err := auth.NewSigner([]byte(cfg.Auth.JWTSecret))
			if err != nil {
				return fmt.Errorf("auth.jwt_secret: %w", err)
			}
			if subject == "" {
				subject = cfg.Auth.ClientID
			}
			if ttl <= 0 {
				ttl = cfg.Auth.TokenTTL
			}
			token, err := signer.Generate(subject, ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}

	cmd.Flags().StringVarP(&subject, "subject", "s", "", "token subject (default auth.client_id)")
	cmd.Flags().DurationVar(&ttl, "ttl", 0, "token lifetime (default auth.token_ttl)")
	return cmd
}
