package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/zjrosen/repoloop/internal/config"
	"github.com/zjrosen/repoloop/internal/generator"
	"github.com/zjrosen/repoloop/internal/infrastructure/sqlite"
	"github.com/zjrosen/repoloop/internal/log"
	"github.com/zjrosen/repoloop/internal/publisher"
	"github.com/zjrosen/repoloop/internal/session"
	"github.com/zjrosen/repoloop/internal/session/api"
	"github.com/zjrosen/repoloop/internal/tracing"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the repoloop daemon",
	Long: `Run the daemon that owns sessions and exposes the HTTP API.

The daemon listens on server.addr (default 127.0.0.1:3001) and provides
endpoints to start, pause, resume and abort sessions, read results and
stream progress events. Session history is persisted to SQLite unless
store.enabled is false.

Example:
  repoloop serve                        # Start on the configured address
  repoloop serve --addr 127.0.0.1:8080  # Override the listen address`,
	RunE: runServe,
}

var serveAddr string

const shutdownFlushTimeout = 5 * time.Second

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "Address to listen on (overrides server.addr)")
}

// daemon holds everything serve builds, in the order it must be torn down.
type daemon struct {
	tracer   *tracing.Provider
	prompts  generator.PromptSource
	db       *sqlite.DB
	manager  *session.Manager
	server   *api.Server
	closeFns []func() error
}

func runServe(cmd *cobra.Command, _ []string) error {
	if serveAddr != "" {
		cfg.Server.Addr = serveAddr
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	d, err := buildDaemon(cfg)
	if err != nil {
		return err
	}
	defer d.close()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(d.server.Start)
	g.Go(func() error {
		<-gctx.Done()
		fmt.Fprintln(cmd.OutOrStdout(), "\nShutting down...")
		return d.shutdown(cfg)
	})

	fmt.Fprintf(cmd.OutOrStdout(), "repoloop daemon listening on %s\n", d.server.URL())
	fmt.Fprintln(cmd.OutOrStdout(), "Press Ctrl+C to stop")

	if err := g.Wait(); err != nil {
		return fmt.Errorf("server error: %w", err)
	}
	fmt.Fprintln(cmd.OutOrStdout(), "Daemon stopped")
	return nil
}

func buildDaemon(c config.Config) (*daemon, error) {
	d := &daemon{}

	tp, err := tracing.NewProvider(c.Tracing)
	if err != nil {
		return nil, fmt.Errorf("creating tracer: %w", err)
	}
	d.tracer = tp

	d.prompts = generator.StaticPrompt(generator.DefaultPrompt)
	if c.Generation.PromptFile != "" {
		fp, err := generator.LoadFilePrompt(c.Generation.PromptFile)
		if err != nil {
			d.close()
			return nil, fmt.Errorf("loading prompt file: %w", err)
		}
		if err := fp.Watch(nil); err != nil {
			log.ErrorErr(log.CatWatcher, "prompt hot reload disabled", err, "path", fp.Path())
		}
		d.closeFns = append(d.closeFns, fp.Close)
		d.prompts = fp
	}

	pub := publisher.NewGHPublisher(publisher.Config{
		Visibility:     c.Publishing.Visibility,
		CommandTimeout: c.Publishing.CommandTimeout,
		AuthCacheTTL:   c.Publishing.AuthCacheTTL,
		GitUserName:    c.Publishing.GitUserName,
		GitUserEmail:   c.Publishing.GitUserEmail,
	}, publisher.NewExecExecutor())

	var store session.Store
	var history api.History
	if c.Store.Enabled {
		db, err := sqlite.NewDB(c.Store.Path)
		if err != nil {
			d.close()
			return nil, fmt.Errorf("opening session store: %w", err)
		}
		d.db = db
		repo := db.SessionRepository()
		store, history = repo, repo
		log.Info(log.CatDB, "session store ready", "path", db.Path())
	}

	d.manager = session.NewManager(session.ManagerConfig{
		Publisher:      pub,
		NewGenerator:   generatorFactory(c.Generation, d.prompts),
		Store:          store,
		Tracer:         tp.Tracer(),
		DefaultModel:   c.Generation.EffectiveModel(),
		DefaultPrefix:  c.Session.DefaultPrefix,
		IterationDelay: c.Session.IterationDelay,
		MaxIterations:  c.Session.MaxIterations,
		ValidPrefix:    config.ValidPrefix,
	})

	handler := api.NewHandler(api.HandlerConfig{
		Sessions:    d.manager,
		Auth:        pub,
		History:     history,
		Prompts:     d.prompts,
		Tracer:      tp.Tracer(),
		Heartbeat:   c.Server.Heartbeat,
		CORSOrigins: c.Server.CORSOrigins,
	})

	d.server, err = api.NewServer(api.ServerConfig{Addr: c.Server.Addr, Handler: handler})
	if err != nil {
		d.close()
		return nil, fmt.Errorf("creating API server: %w", err)
	}
	return d, nil
}

// generatorFactory configures one generator per session from the daemon's
// generation settings and the session's own fields.
func generatorFactory(g config.GenerationConfig, prompts generator.PromptSource) session.GeneratorFactory {
	return func(sc session.Config) (generator.Generator, error) {
		return generator.New(generator.Settings{
			Provider:          g.Provider,
			Credential:        sc.Credential,
			Model:             sc.Model,
			Goal:              sc.Goal,
			ReferenceMaterial: sc.ReferenceMaterial,
			PromptOverride:    sc.PromptOverride,
			BaseURL:           g.BaseURL,
			MaxTokens:         g.MaxTokens,
			Timeout:           g.Timeout,
		}, prompts)
	}
}

// shutdown stops accepting requests, then stops every session.
func (d *daemon) shutdown(c config.Config) error {
	ctx, cancel := context.WithTimeout(context.Background(), c.Server.ShutdownTimeout)
	defer cancel()

	var errs []error
	if err := d.server.Stop(ctx); err != nil {
		log.ErrorErr(log.CatHTTP, "Error stopping API server", err)
		errs = append(errs, err)
	}
	if err := d.manager.Shutdown(ctx); err != nil {
		log.ErrorErr(log.CatSession, "Error shutting down sessions", err)
		errs = append(errs, err)
	}
	d.manager.Bus().Close()
	return errors.Join(errs...)
}

func (d *daemon) close() {
	for i := len(d.closeFns) - 1; i >= 0; i-- {
		if err := d.closeFns[i](); err != nil {
			log.ErrorErr(log.CatConfig, "close failed", err)
		}
	}
	if d.db != nil {
		if err := d.db.Close(); err != nil {
			log.ErrorErr(log.CatDB, "closing session store", err)
		}
	}
	if d.tracer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), shutdownFlushTimeout)
		defer cancel()
		if err := d.tracer.Shutdown(ctx); err != nil {
			log.ErrorErr(log.CatTrace, "flushing traces", err)
		}
	}
}
