package cli

import (
	"fmt"
	"os"
	"time"

	"github.com/pscheid92/splitpulse/internal/adapter/auth"
	"github.com/spf13/cobra"
)

const minSecretLength = 32

func newIssueTokenCmd() *cobra.Command {
	var (
		secret  string
		ttl     time.Duration
		service bool
	)

	cmd := &cobra.Command{
		Use:   "issue-token <user-id>",
		Short: "Mint an access token for local testing",
		Long: "Mint an access token signed with AUTH_SECRET. Meant for development; production tokens come from the account service.\n" +
			"With --service the argument is a service name and the token, signed with SERVICE_AUTH_SECRET, may create notifications.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			envKey := "AUTH_SECRET"
			newVerifier := auth.NewVerifier
			if service {
				envKey = "SERVICE_AUTH_SECRET"
				newVerifier = auth.NewServiceVerifier
			}

			if secret == "" {
				secret = os.Getenv(envKey)
			}
			if secret == "" {
				return fmt.Errorf("no secret: set %s or pass --secret", envKey)
			}
			if len(secret) < minSecretLength {
				return fmt.Errorf("secret must be at least %d characters", minSecretLength)
			}

			token, err := newVerifier(secret, ttl).Issue(args[0])
			if err != nil {
				return err
			}

			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}

	cmd.Flags().StringVar(&secret, "secret", "", "Signing secret (defaults to $AUTH_SECRET, or $SERVICE_AUTH_SECRET with --service)")
	cmd.Flags().DurationVar(&ttl, "ttl", auth.DefaultTokenTTL, "Token lifetime")
	cmd.Flags().BoolVar(&service, "service", false, "Mint a service token that may create notifications")
	return cmd
}
