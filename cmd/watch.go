package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/zjrosen/repoloop/internal/client"
	"github.com/zjrosen/repoloop/internal/presentation"
	"github.com/zjrosen/repoloop/internal/session"
)

var (
	watchUntilDone bool
	watchJSON      bool
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Stream session progress",
	Long: `Stream events from the daemon as they happen. Events emitted before the
stream connects are not replayed; use 'repoloop results' for the full record.

Examples:
  repoloop watch               # Follow until Ctrl+C
  repoloop watch --until-done  # Exit when the session completes
  repoloop watch --json | jq 'select(.type == "repo_created") .payload.repoUrl'`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		c, err := newClient()
		if err != nil {
			return err
		}
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		events, err := c.Events(ctx)
		if err != nil {
			return err
		}
		return followEvents(ctx, cmd, events, watchUntilDone, watchJSON)
	},
}

func init() {
	watchCmd.Flags().BoolVar(&watchUntilDone, "until-done", false, "Exit when the session completes")
	watchCmd.Flags().BoolVar(&watchJSON, "json", false, "Print one JSON object per event")
	rootCmd.AddCommand(watchCmd)
}

// followEvents prints events until the stream ends, ctx is cancelled or,
// with untilDone, the session finishes.
func followEvents(ctx context.Context, cmd *cobra.Command, events <-chan client.Event, untilDone, asJSON bool) error {
	out := cmd.OutOrStdout()
	f := newFormatter(cmd)
	enc := json.NewEncoder(out)

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-events:
			if !ok {
				if ctx.Err() != nil {
					return nil
				}
				return fmt.Errorf("event stream closed by server")
			}
			if err := printEvent(f, enc, ev, asJSON); err != nil {
				return err
			}
			if untilDone && isFinal(ev) {
				return nil
			}
		}
	}
}

func printEvent(f *presentation.Formatter, enc *json.Encoder, ev client.Event, asJSON bool) error {
	if ev.Type == client.EventConnected {
		if asJSON {
			return nil
		}
		return f.FormatEvent("log", json.RawMessage(`{"message":"connected"}`), ev.Timestamp)
	}
	if asJSON {
		return enc.Encode(ev)
	}
	return f.FormatEvent(ev.Type, ev.Payload, ev.Timestamp)
}

// isFinal reports whether ev ends a session.
func isFinal(ev client.Event) bool {
	switch ev.Type {
	case string(session.EventSessionComplete):
		return true
	case string(session.EventStatusUpdate):
		var p struct {
			Status session.Status `json:"status"`
		}
		return ev.Decode(&p) == nil && p.Status == session.StatusError
	}
	return false
}
