package cli

import (
	"bufio"
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

func newLoginCmd(keyringDir *string) *cobra.Command {
	var token string

	cmd := &cobra.Command{
		Use:   "login",
		Short: "Store an access token in the system keyring",
		Long:  "Store an access token in the system keyring. Without --token the token is read from stdin.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if token == "" {
				line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
				if err != nil && line == "" {
					return fmt.Errorf("reading token: %w", err)
				}
				token = line
			}
			token = strings.TrimSpace(token)
			if token == "" {
				return errors.New("token must not be empty")
			}

			store, err := openStore(*keyringDir)
			if err != nil {
				return err
			}
			if err := store.Store(token); err != nil {
				return err
			}

			fmt.Fprintln(cmd.OutOrStdout(), "Token stored")
			return nil
		},
	}

	cmd.Flags().StringVar(&token, "token", "", "Access token (read from stdin when omitted)")
	return cmd
}

func newLogoutCmd(keyringDir *string) *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Remove the stored access token",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openStore(*keyringDir)
			if err != nil {
				return err
			}
			if err := store.Clear(); err != nil {
				return err
			}

			fmt.Fprintln(cmd.OutOrStdout(), "Logged out")
			return nil
		},
	}
}
