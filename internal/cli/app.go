// Package cli wires the hivemail executable: configuration loading,
// logger bootstrap, dependency assembly and the HTTP server lifecycle.
package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/urfave/cli/v2"
	"go.uber.org/zap"

	"github.com/hivemail/hivemail/internal/api"
	"github.com/hivemail/hivemail/internal/config"
	"github.com/hivemail/hivemail/internal/pgpkey"
	"github.com/hivemail/hivemail/internal/sessions"
	"github.com/hivemail/hivemail/internal/storage"
	"github.com/hivemail/hivemail/internal/usage"
)

// Version is set at build time.
var Version = "devel"

// App constructs the command-line application.
func App() *cli.App {
	return &cli.App{
		Name:    "hivemail",
		Usage:   "account API of the hivemail platform",
		Version: Version,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "path to the TOML configuration file",
				EnvVars: []string{"HIVEMAIL_CONFIG"},
			},
		},
		Commands: []*cli.Command{
			{
				Name:  "run",
				Usage: "start the API server",
				Action: func(c *cli.Context) error {
					return run(c.String("config"))
				},
			},
		},
	}
}

func run(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	logger, err := buildLogger(cfg.Debug)
	if err != nil {
		return fmt.Errorf("logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()
	log := logger.Sugar()

	if cfg.APIToken == "" {
		log.Warn("no API token configured, all requests will be rejected")
	}

	db, err := storage.Open(cfg.Database)
	if err != nil {
		return fmt.Errorf("storage: %w", err)
	}

	deps := api.Deps{
		Store:    storage.NewRepo(db, log),
		Mutator:  storage.NewMutator(db, log),
		Sessions: sessions.NewRegistry(log),
		Usage: usage.Reader{
			Store:    usage.NewMemStore(),
			Defaults: cfg.Defaults,
			Log:      log,
		},
		Keys:     pgpkey.Verifier{Timeout: cfg.KeyProbeTimeout},
		Defaults: cfg.Defaults,
		Log:      log,
	}

	handler := api.NewHandler(deps, cfg.APIToken)
	defer handler.Close()

	srv := &http.Server{
		Addr:              cfg.Listen,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		log.Infow("listening", "addr", cfg.Listen)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
	case <-ctx.Done():
		log.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
	}
	return nil
}

func buildLogger(debug bool) (*zap.Logger, error) {
	if debug {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}
