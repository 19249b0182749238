package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"
	"github.com/spf13/cobra"

	"github.com/zjrosen/repoloop/internal/presentation"
	"github.com/zjrosen/repoloop/internal/session"
)

var (
	resultsSessionID string
	resultsJSON      bool
	resultsExport    string
	resultsRender    bool
)

var resultsCmd = &cobra.Command{
	Use:   "results",
	Short: "Show the current or a past session's results",
	Long: `Show the records of the current session, or of the latest persisted one when
the daemon has restarted since.

Examples:
  repoloop results                      # Styled summary
  repoloop results --render             # Include each README rendered as markdown
  repoloop results --json | jq '.repos[].url'
  repoloop results --export .           # Save repoloop-results-<ms>.json here
  repoloop results --export out.json
  repoloop results --session <id>`,
	RunE: runResults,
}

func init() {
	resultsCmd.Flags().StringVar(&resultsSessionID, "session", "", "Show this session instead of the current one")
	resultsCmd.Flags().BoolVar(&resultsJSON, "json", false, "Print a condensed JSON summary")
	resultsCmd.Flags().StringVar(&resultsExport, "export", "", "Write the full export document to a file or directory")
	resultsCmd.Flags().BoolVar(&resultsRender, "render", false, "Render each created README")
	rootCmd.AddCommand(resultsCmd)
}

func runResults(cmd *cobra.Command, _ []string) error {
	c, err := newClient()
	if err != nil {
		return err
	}
	ctx := cmd.Context()

	if resultsExport != "" {
		body, filename, err := c.Export(ctx)
		if err != nil {
			return err
		}
		path := exportPath(resultsExport, filename)
		if err := os.WriteFile(path, body, 0o600); err != nil {
			return fmt.Errorf("writing export: %w", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Exported results to %s\n", path)
		return nil
	}

	var s *session.Session
	if resultsSessionID != "" {
		id := session.ID(resultsSessionID)
		if !id.IsValid() {
			return fmt.Errorf("invalid session id %q", resultsSessionID)
		}
		s, err = c.Session(ctx, id)
	} else {
		s, err = c.Results(ctx)
	}
	if err != nil {
		return err
	}

	f := newFormatter(cmd)
	if resultsJSON {
		if s == nil {
			return f.FormatJSON(nil)
		}
		return f.FormatJSON(presentation.FromSession(s))
	}

	var md *presentation.MarkdownRenderer
	if resultsRender {
		md, err = presentation.NewMarkdownRenderer(presentation.DefaultWidth-4, markdownStyle())
		if err != nil {
			return fmt.Errorf("creating markdown renderer: %w", err)
		}
	}
	return f.FormatResults(s, md)
}

// exportPath resolves --export: a directory (or trailing separator) gets
// the server's suggested filename.
func exportPath(target, suggested string) string {
	if suggested == "" {
		suggested = "repoloop-results.json"
	}
	if info, err := os.Stat(target); err == nil && info.IsDir() {
		return filepath.Join(target, suggested)
	}
	if os.IsPathSeparator(target[len(target)-1]) {
		return filepath.Join(target, suggested)
	}
	return target
}

// markdownStyle picks a glamour style without an extra terminal query.
func markdownStyle() string {
	if termenv.NewOutput(os.Stdout).Profile == termenv.Ascii {
		return "notty"
	}
	if lipgloss.HasDarkBackground() {
		return "dark"
	}
	return "light"
}
