package cmd

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/zjrosen/repoloop/internal/client"
	"github.com/zjrosen/repoloop/internal/config"
	"github.com/zjrosen/repoloop/internal/log"
	"github.com/zjrosen/repoloop/internal/presentation"
)

func init() {
	// Query the terminal background before any styled output so the OSC 11
	// reply cannot race with streamed event lines.
	_ = lipgloss.HasDarkBackground()
}

const localConfigPath = ".repoloop/config.yaml"

var (
	version   = "dev"
	cfgFile   string
	debugFlag bool
	serverURL string
	cfg       config.Config
)

var rootCmd = &cobra.Command{
	Use:   "repoloop",
	Short: "Generate README-only repositories in a loop",
	Long: `repoloop asks a language model for a README, publishes it as a new GitHub
repository through the gh CLI, and repeats for the requested number of
iterations. Progress streams to any number of observers.

Start the daemon with 'repoloop serve'; every other command talks to it.`,
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
		return initLogging(cmd.Name())
	},
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "",
		"config file (default: .repoloop/config.yaml, then ~/.config/repoloop/config.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&debugFlag, "debug", "d", false,
		"write debug logs (path from REPOLOOP_LOG, default debug.log)")
	rootCmd.PersistentFlags().StringVarP(&serverURL, "server", "s", "",
		"daemon base URL (overrides server.url)")
}

func initConfig() {
	cfg = loadConfig(viper.New(), cfgFile)
}

// loadConfig reads configuration into a fresh Config. A missing file means
// defaults; REPOLOOP_* environment variables override file values.
func loadConfig(v *viper.Viper, path string) config.Config {
	setDefaults(v, config.Defaults())

	v.SetEnvPrefix("REPOLOOP")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		// Config lookup order:
		// 1. .repoloop/config.yaml (current directory)
		// 2. ~/.config/repoloop/config.yaml (user config)
		if _, err := os.Stat(localConfigPath); err == nil {
			v.SetConfigFile(localConfigPath)
		} else {
			v.AddConfigPath(config.ConfigDir())
			v.SetConfigName("config")
			v.SetConfigType("yaml")
		}
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			fmt.Fprintf(os.Stderr, "warning: reading config: %v\n", err)
		}
	}

	out := config.Defaults()
	if err := v.Unmarshal(&out); err != nil {
		fmt.Fprintf(os.Stderr, "warning: decoding config: %v\n", err)
		return config.Defaults()
	}
	return out
}

func setDefaults(v *viper.Viper, d config.Config) {
	v.SetDefault("server.addr", d.Server.Addr)
	v.SetDefault("server.url", d.Server.URL)
	v.SetDefault("server.shutdown_timeout", d.Server.ShutdownTimeout)
	v.SetDefault("server.heartbeat", d.Server.Heartbeat)
	v.SetDefault("server.cors_origins", d.Server.CORSOrigins)

	v.SetDefault("generation.provider", d.Generation.Provider)
	v.SetDefault("generation.model", d.Generation.Model)
	v.SetDefault("generation.base_url", d.Generation.BaseURL)
	v.SetDefault("generation.max_tokens", d.Generation.MaxTokens)
	v.SetDefault("generation.timeout", d.Generation.Timeout)
	v.SetDefault("generation.prompt_file", d.Generation.PromptFile)

	v.SetDefault("publishing.visibility", d.Publishing.Visibility)
	v.SetDefault("publishing.command_timeout", d.Publishing.CommandTimeout)
	v.SetDefault("publishing.auth_cache_ttl", d.Publishing.AuthCacheTTL)
	v.SetDefault("publishing.git_user_name", d.Publishing.GitUserName)
	v.SetDefault("publishing.git_user_email", d.Publishing.GitUserEmail)

	v.SetDefault("session.default_prefix", d.Session.DefaultPrefix)
	v.SetDefault("session.iteration_delay", d.Session.IterationDelay)
	v.SetDefault("session.max_iterations", d.Session.MaxIterations)

	v.SetDefault("store.enabled", d.Store.Enabled)
	v.SetDefault("store.path", d.Store.Path)

	v.SetDefault("tracing.enabled", d.Tracing.Enabled)
	v.SetDefault("tracing.exporter", d.Tracing.Exporter)
	v.SetDefault("tracing.file_path", d.Tracing.FilePath)
	v.SetDefault("tracing.otlp_endpoint", d.Tracing.OTLPEndpoint)
	v.SetDefault("tracing.sample_rate", d.Tracing.SampleRate)
	v.SetDefault("tracing.service_name", d.Tracing.ServiceName)
}

// configPath returns the file settings are written to: the --config flag,
// else the local project config.
func configPath() string {
	if cfgFile != "" {
		return cfgFile
	}
	return localConfigPath
}

var logCleanup func()

// initLogging enables the debug log when --debug or REPOLOOP_DEBUG is set.
func initLogging(prefix string) error {
	if logCleanup != nil {
		return nil
	}
	level := log.ParseLevel(os.Getenv("REPOLOOP_LOG_LEVEL"))
	if !debugEnabled() {
		// The daemon always logs to stderr; client commands stay quiet.
		if prefix == "serve" {
			log.InitWriter(os.Stderr, level)
			return nil
		}
		log.SetEnabled(false)
		return nil
	}
	logPath := os.Getenv("REPOLOOP_LOG")
	if logPath == "" {
		logPath = "debug.log"
	}
	if dir := filepath.Dir(logPath); dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return fmt.Errorf("creating log directory: %w", err)
		}
	}
	cleanup, err := log.InitWithTeaLog(logPath, "repoloop-"+prefix)
	if err != nil {
		return fmt.Errorf("initializing logging: %w", err)
	}
	logCleanup = cleanup
	if os.Getenv("REPOLOOP_LOG_LEVEL") != "" {
		log.SetMinLevel(level)
	}
	log.Info(log.CatConfig, "repoloop starting", "command", prefix, "version", version, "logPath", logPath)
	return nil
}

func debugEnabled() bool {
	if debugFlag {
		return true
	}
	on, err := strconv.ParseBool(os.Getenv("REPOLOOP_DEBUG"))
	return err == nil && on
}

// newClient targets --server, else server.url from config.
func newClient() (*client.Client, error) {
	url := serverURL
	if url == "" {
		url = cfg.Server.URL
	}
	return client.New(url)
}

// newFormatter writes to the command's stdout, wrapping at COLUMNS when set.
func newFormatter(cmd *cobra.Command) *presentation.Formatter {
	f := presentation.NewFormatter(cmd.OutOrStdout())
	if cols, err := strconv.Atoi(os.Getenv("COLUMNS")); err == nil {
		f.WithWidth(cols)
	}
	return f
}

// Execute runs the root command
func Execute() error {
	defer func() {
		if logCleanup != nil {
			logCleanup()
		}
	}()
	return rootCmd.ExecuteContext(context.Background())
}

// SetVersion sets the version string (called from main with ldflags)
func SetVersion(v string) {
	version = v
	rootCmd.Version = v
}
