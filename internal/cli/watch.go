package cli

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/pscheid92/splitpulse/internal/client"
	"github.com/pscheid92/splitpulse/internal/platform/version"
	"github.com/spf13/cobra"
)

func newWatchCmd(keyringDir *string) *cobra.Command {
	var (
		apiBase   string
		apiPrefix string
		token     string
		interval  time.Duration
		threshold int
	)

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Print the unread notification count as it changes",
		Long: "Watch the unread count over the push stream, polling alongside it. " +
			"After repeated stream failures the watcher keeps polling only; press Enter to retry.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if apiBase == "" {
				apiBase = os.Getenv("SPLITPULSE_API")
			}
			if apiBase == "" {
				return errors.New("no API base: set SPLITPULSE_API or pass --api")
			}

			var tokens client.TokenSource = client.StaticToken(token)
			if token == "" {
				store, err := openStore(*keyringDir)
				if err != nil {
					return err
				}
				tokens = store
			}

			printer := &statePrinter{out: cmd.OutOrStdout()}
			rcv, err := client.NewReceiver(client.Config{
				APIBase:    apiBase,
				APIPrefix:  apiPrefix,
				Tokens:     tokens,
				HTTPClient: &http.Client{Timeout: 15 * time.Second},
				Policy:     client.Policy{BaseInterval: interval, FailureThreshold: threshold},
				UserAgent:  version.UserAgent("cli"),
				OnChange:   printer.print,
			})
			if err != nil {
				return err
			}

			go forwardRefreshes(cmd.InOrStdin(), rcv)
			return rcv.Run(cmd.Context())
		},
	}

	cmd.Flags().StringVar(&apiBase, "api", "", "API base URL (defaults to $SPLITPULSE_API)")
	cmd.Flags().StringVar(&apiPrefix, "prefix", client.DefaultAPIPrefix, "API path prefix")
	cmd.Flags().StringVar(&token, "token", "", "Access token (defaults to the keyring)")
	cmd.Flags().DurationVar(&interval, "interval", client.DefaultPolicy.BaseInterval, "Polling interval")
	cmd.Flags().IntVar(&threshold, "failure-threshold", client.DefaultPolicy.FailureThreshold, "Failures before giving up on the stream")
	return cmd
}

// forwardRefreshes turns every input line into a manual refresh.
func forwardRefreshes(in io.Reader, rcv *client.Receiver) {
	buf := make([]byte, 256)
	for {
		n, err := in.Read(buf)
		for _, b := range buf[:n] {
			if b == '\n' {
				rcv.Refresh()
			}
		}
		if err != nil {
			return
		}
	}
}

// statePrinter writes a line whenever something the user can see changes.
type statePrinter struct {
	mu   sync.Mutex
	out  io.Writer
	last string
}

func (p *statePrinter) print(s client.State) {
	line := formatState(s)
	if line == "" {
		return
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if line == p.last {
		return
	}
	p.last = line
	fmt.Fprintln(p.out, line)
}

func formatState(s client.State) string {
	if !s.HasCount && s.Err == nil {
		return ""
	}

	count := "-"
	if s.HasCount {
		count = fmt.Sprint(s.Count)
	}
	line := fmt.Sprintf("unread %s [%s]", count, s.Mode)
	if s.Err != nil {
		line += fmt.Sprintf(" error: %v", s.Err)
	}
	return line
}
