package cmd

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"
)

var errNotAuthenticated = errors.New("gh is not authenticated")

var authCmd = &cobra.Command{
	Use:   "auth",
	Short: "Check whether the daemon can publish repositories",
	Long: `Ask the daemon whether the gh CLI is installed and logged in. Exits non-zero
when publishing would fail.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		c, err := newClient()
		if err != nil {
			return err
		}
		status, err := c.CheckAuth(cmd.Context())
		if err != nil {
			return err
		}
		if !status.Authenticated {
			fmt.Fprintf(cmd.OutOrStdout(), "Not authenticated: %s\n", status.Error)
			return errNotAuthenticated
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Authenticated as %s\n", status.Identity)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(authCmd)
}
