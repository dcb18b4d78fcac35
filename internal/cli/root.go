// Package cli implements the splitpulse command line: a terminal unread
// counter plus the token housekeeping it needs.
package cli

import (
	"context"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/pscheid92/splitpulse/internal/client"
	"github.com/spf13/cobra"
)

type tokenStore interface {
	client.TokenSource
	Store(token string) error
	Clear() error
}

// openStore is swapped in tests to avoid touching the real keyring.
var openStore = func(dir string) (tokenStore, error) {
	return client.OpenKeyring(dir)
}

func defaultKeyringDir() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return ".splitpulse"
	}
	return filepath.Join(dir, "splitpulse")
}

func newRootCmd() *cobra.Command {
	var keyringDir string

	cmd := &cobra.Command{
		Use:           "splitpulse",
		Short:         "Live unread notification count for SplitPulse",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().StringVar(&keyringDir, "keyring-dir", defaultKeyringDir(), "Directory for the file keyring fallback")

	cmd.AddCommand(newWatchCmd(&keyringDir))
	cmd.AddCommand(newLoginCmd(&keyringDir))
	cmd.AddCommand(newLogoutCmd(&keyringDir))
	cmd.AddCommand(newIssueTokenCmd())
	cmd.AddCommand(newVersionCmd())
	return cmd
}

func Execute() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return newRootCmd().ExecuteContext(ctx)
}
