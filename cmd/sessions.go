package cmd

import (
	"github.com/spf13/cobra"
)

var sessionsJSON bool

var sessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "List sessions, newest first",
	Long: `List sessions known to the daemon: those started since it launched, followed
by persisted history.

Examples:
  repoloop sessions
  repoloop sessions --json | jq '.sessions[] | select(.errors > 0) .id'`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		c, err := newClient()
		if err != nil {
			return err
		}
		resp, err := c.Sessions(cmd.Context())
		if err != nil {
			return err
		}
		f := newFormatter(cmd)
		if sessionsJSON {
			return f.FormatJSON(resp)
		}
		return f.FormatSessions(resp.Sessions)
	},
}

func init() {
	sessionsCmd.Flags().BoolVar(&sessionsJSON, "json", false, "Print JSON")
	rootCmd.AddCommand(sessionsCmd)
}
