package cmd

import (
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/zjrosen/repoloop/internal/client"
	"github.com/zjrosen/repoloop/internal/session/api"
)

// credentialEnvVars are consulted in order when --api-key is absent.
var credentialEnvVars = []string{"REPOLOOP_API_KEY", "OPENROUTER_API_KEY", "GEMINI_API_KEY", "GOOGLE_API_KEY"}

var (
	runGoal          string
	runIterations    int
	runPrefix        string
	runModel         string
	runAPIKey        string
	runReference     string
	runReferenceFile string
	runPromptFile    string
	runWatch         bool
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start a session",
	Long: `Start a session on the daemon. The credential comes from --api-key, else the
first of REPOLOOP_API_KEY, OPENROUTER_API_KEY, GEMINI_API_KEY or GOOGLE_API_KEY.
It is sent to the daemon only and never stored.

Examples:
  repoloop run --goal "tiny CLI tools" --iterations 5
  repoloop run -g "data viz demos" -n 3 --prefix viz --watch
  repoloop run -g "docs" --reference-file notes.md --prompt-file prompt.txt`,
	RunE: runRun,
}

func init() {
	runCmd.Flags().StringVarP(&runGoal, "goal", "g", "", "What the generated projects should explore (required)")
	runCmd.Flags().IntVarP(&runIterations, "iterations", "n", 1, "Number of repositories to create")
	runCmd.Flags().StringVarP(&runPrefix, "prefix", "p", "", "Repository name prefix (default: session.default_prefix)")
	runCmd.Flags().StringVarP(&runModel, "model", "m", "", "Model identifier (default: generation.model)")
	runCmd.Flags().StringVar(&runAPIKey, "api-key", "", "Generation provider API key")
	runCmd.Flags().StringVar(&runReference, "reference", "", "Reference material included in the prompt")
	runCmd.Flags().StringVar(&runReferenceFile, "reference-file", "", "Read reference material from a file")
	runCmd.Flags().StringVar(&runPromptFile, "prompt-file", "", "Replace the default prompt template with this file")
	runCmd.Flags().BoolVarP(&runWatch, "watch", "w", false, "Stream progress until the session completes")
	rootCmd.AddCommand(runCmd)
}

func runRun(cmd *cobra.Command, _ []string) error {
	if strings.TrimSpace(runGoal) == "" {
		return cmd.Help()
	}

	req, err := buildRunRequest()
	if err != nil {
		return err
	}

	c, err := newClient()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Subscribe first so no early event is missed.
	var events <-chan client.Event
	if runWatch {
		if events, err = c.Events(ctx); err != nil {
			return err
		}
	}

	resp, err := c.Run(ctx, req)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Started session %s (%d iterations)\n", resp.SessionID, resp.TotalIterations)

	if !runWatch {
		return nil
	}
	return followEvents(ctx, cmd, events, true, false)
}

func buildRunRequest() (api.RunRequest, error) {
	reference := runReference
	if runReferenceFile != "" {
		data, err := os.ReadFile(runReferenceFile) //nolint:gosec // user-selected file
		if err != nil {
			return api.RunRequest{}, fmt.Errorf("reading reference file: %w", err)
		}
		reference = string(data)
	}

	var override string
	if runPromptFile != "" {
		data, err := os.ReadFile(runPromptFile) //nolint:gosec // user-selected file
		if err != nil {
			return api.RunRequest{}, fmt.Errorf("reading prompt file: %w", err)
		}
		override = string(data)
	}

	credential := resolveCredential(runAPIKey, os.Getenv)
	if credential == "" {
		return api.RunRequest{}, fmt.Errorf("no API key: pass --api-key or set %s", strings.Join(credentialEnvVars, ", "))
	}

	return api.RunRequest{
		Credential:        credential,
		Model:             runModel,
		Goal:              runGoal,
		ReferenceMaterial: reference,
		PromptOverride:    override,
		NamePrefix:        runPrefix,
		Iterations:        runIterations,
	}, nil
}

func resolveCredential(flag string, getenv func(string) string) string {
	if k := strings.TrimSpace(flag); k != "" {
		return k
	}
	for _, name := range credentialEnvVars {
		if k := strings.TrimSpace(getenv(name)); k != "" {
			return k
		}
	}
	return ""
}
