package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/zjrosen/repoloop/internal/session"
)

var controlSessionID string

func newControlCmd(use, short, done string, call func(ctx context.Context, c controlClient, id session.ID) error) *cobra.Command {
	cmd := &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			id := session.ID(controlSessionID)
			if id != "" && !id.IsValid() {
				return fmt.Errorf("invalid session id %q", controlSessionID)
			}
			c, err := newClient()
			if err != nil {
				return err
			}
			if err := call(cmd.Context(), c, id); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), done)
			return nil
		},
	}
	cmd.Flags().StringVar(&controlSessionID, "session", "", "Target session ID (default: the active session)")
	return cmd
}

type controlClient interface {
	Pause(ctx context.Context, id session.ID) error
	Resume(ctx context.Context, id session.ID) error
	Abort(ctx context.Context, id session.ID) error
}

func init() {
	rootCmd.AddCommand(
		newControlCmd("pause", "Pause the active session before its next iteration", "Paused",
			func(ctx context.Context, c controlClient, id session.ID) error { return c.Pause(ctx, id) }),
		newControlCmd("resume", "Resume a paused session", "Resumed",
			func(ctx context.Context, c controlClient, id session.ID) error { return c.Resume(ctx, id) }),
		newControlCmd("abort", "Stop the active session at its next check", "Aborted",
			func(ctx context.Context, c controlClient, id session.ID) error { return c.Abort(ctx, id) }),
	)
}
