package cmd

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/zjrosen/repoloop/internal/config"
)

var (
	promptExport string
	promptSave   string
)

var promptCmd = &cobra.Command{
	Use:   "prompt",
	Short: "Show, export or install the default prompt template",
	Long: `Print the daemon's default prompt template. The template may reference
{{GOAL}}, which is replaced by each session's goal.

--export writes the template to a file. --save does the same and points
generation.prompt_file at it, so a running daemon with a prompt file picks up
later edits without a restart.

Examples:
  repoloop prompt
  repoloop prompt --export prompt.txt
  repoloop prompt --save ~/.config/repoloop/prompt.txt`,
	Args: cobra.NoArgs,
	RunE: runPrompt,
}

func init() {
	promptCmd.Flags().StringVar(&promptExport, "export", "", "Write the template to this file")
	promptCmd.Flags().StringVar(&promptSave, "save", "", "Write the template and set generation.prompt_file")
	rootCmd.AddCommand(promptCmd)
}

func runPrompt(cmd *cobra.Command, _ []string) error {
	c, err := newClient()
	if err != nil {
		return err
	}
	text, err := c.Prompt(cmd.Context())
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	switch {
	case promptSave != "":
		abs, err := filepath.Abs(promptSave)
		if err != nil {
			return fmt.Errorf("resolving %s: %w", promptSave, err)
		}
		if err := writePrompt(abs, text); err != nil {
			return err
		}
		if err := config.SetValue(configPath(), "generation.prompt_file", abs); err != nil {
			return fmt.Errorf("updating config: %w", err)
		}
		fmt.Fprintf(out, "Saved prompt to %s and set generation.prompt_file in %s\n", abs, configPath())
		fmt.Fprintln(out, "Restart the daemon if it was started without a prompt file.")
	case promptExport != "":
		if err := writePrompt(promptExport, text); err != nil {
			return err
		}
		fmt.Fprintf(out, "Exported prompt to %s\n", promptExport)
	default:
		_, err = io.WriteString(out, text)
		if err == nil && len(text) > 0 && text[len(text)-1] != '\n' {
			_, err = io.WriteString(out, "\n")
		}
		return err
	}
	return nil
}

func writePrompt(path, text string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return fmt.Errorf("creating directory for %s: %w", path, err)
	}
	if err := os.WriteFile(path, []byte(text), 0o600); err != nil {
		return fmt.Errorf("writing %s: %w", path, err)
	}
	return nil
}
