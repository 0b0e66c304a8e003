// Command tokengen mints HS256 bearer tokens accepted by the gateway. It
// reads JWT_SECRET, JWT_ISSUER, JWT_AUDIENCE and JWT_EXPIRES_IN from the same
// environment (and .env file) as the gateway.
package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/quirck3n/refugio-gateway/internal/gateway/auth"
	"github.com/quirck3n/refugio-gateway/internal/gateway/config"
)

type options struct {
	subject   string
	role      string
	email     string
	refugioID string
	name      string
	expiresIn time.Duration
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var opts options

	cmd := &cobra.Command{
		Use:   "tokengen",
		Short: "Mint a signed bearer token for local gateway testing",
		Long: `tokengen signs a token with the gateway's JWT_SECRET so protected routes
can be exercised without the auth service.

Example:
  tokengen --sub u1 --role admin --email admin@refugio.dev`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			token, err := mint(cfg.Auth, opts, cmd.Flags().Changed("expires-in"))
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}

	cmd.Flags().StringVar(&opts.subject, "sub", "", "subject (user id) claim")
	cmd.Flags().StringVar(&opts.role, "role", auth.DefaultRole, "role claim")
	cmd.Flags().StringVar(&opts.email, "email", "", "email claim")
	cmd.Flags().StringVar(&opts.refugioID, "refugio", "", "refugio_id claim")
	cmd.Flags().StringVar(&opts.name, "name", "", "name claim")
	cmd.Flags().DurationVar(&opts.expiresIn, "expires-in", 0, "token lifetime (defaults to JWT_EXPIRES_IN)")
	_ = cmd.MarkFlagRequired("sub")

	return cmd
}

func mint(cfg config.AuthConfig, opts options, overrideExpiry bool) (string, error) {
	expiresIn := cfg.ExpiresIn
	if overrideExpiry {
		expiresIn = opts.expiresIn
	}

	var audience []string
	if cfg.Audience != "" {
		audience = []string{cfg.Audience}
	}

	return auth.IssueToken(cfg.JWTSecret, auth.TokenRequest{
		Subject:   opts.subject,
		Email:     opts.email,
		Role:      opts.role,
		RefugioID: opts.refugioID,
		Name:      opts.name,
		Issuer:    cfg.Issuer,
		Audience:  audience,
		ExpiresIn: expiresIn,
	})
}
