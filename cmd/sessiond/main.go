package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/germanamz/sessiond/pkg/api"
	"github.com/germanamz/sessiond/pkg/config"
	"github.com/germanamz/sessiond/pkg/control"
	"github.com/germanamz/sessiond/pkg/datadir"
	"github.com/germanamz/sessiond/pkg/engine"
	"github.com/germanamz/sessiond/pkg/engine/bridge"
	"github.com/germanamz/sessiond/pkg/logging"
	"github.com/germanamz/sessiond/pkg/stream"
	"github.com/germanamz/sessiond/pkg/supervisor"
	"github.com/germanamz/sessiond/pkg/webhook"
)

var version = "dev"

const shutdownTimeout = 30 * time.Second

func main() {
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: sessiond [flags]\n\nRun the messaging session supervisor.\n\nFlags:\n")
		flag.PrintDefaults()
	}

	configPath := flag.String("config", "", "path to configuration file (default: <data-dir>/config.yaml or sessiond.yaml)")
	dataDir := flag.String("data-dir", "", "path to the data directory (overrides data_dir in config)")
	envFile := flag.String("env", ".env", "path to .env file (ignored if missing)")
	serveMCP := flag.Bool("mcp", false, "also serve the control tools over MCP on stdin/stdout")
	flag.Parse()

	if err := loadDotEnv(*envFile); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	if err := run(*configPath, *dataDir, *serveMCP); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath, dataDir string, serveMCP bool) error {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	cfg, err := loadConfig(configPath, dataDir)
	if err != nil {
		return err
	}

	log := logging.New(logging.Config{Level: cfg.Log.Level, Format: cfg.Log.Format})

	dd := datadir.New(cfg.DataDir)
	if err := datadir.EnsureStructure(dd); err != nil {
		return err
	}

	st, authRepo, err := openStorage(cfg, dd)
	if err != nil {
		return err
	}

	hooks := webhook.NewHTTPConductor(webhook.Options{Logger: log.With("component", "webhook")})
	defer hooks.Close()

	sup, err := supervisor.New(supervisor.Options{
		Config:    cfg,
		Selector:  engine.Uniform(bridge.New(cfg.Engines.Bridge)),
		Store:     st,
		Webhooks:  hooks,
		Auth:      authRepo,
		Bootstrap: bridge.NewBootstrap(cfg.Engines.Bridge, nil),
		Logger:    log,
	})
	if err != nil {
		_ = st.Close()
		return err
	}

	if err := sup.Bootstrap(ctx); err != nil {
		_ = sup.Shutdown(context.WithoutCancel(ctx))
		return err
	}

	handler := api.New(sup,
		api.WithLogger(log.With("component", "api")),
		api.WithAuth(api.NewAuthenticator(cfg.API)),
		api.WithStream(stream.NewHandler(sup, stream.WithLogger(log.With("component", "stream")))),
	)
	srv := &http.Server{
		Addr:              cfg.Listen,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errs := make(chan error, 2)
	go func() {
		log.Info("listening", "addr", cfg.Listen, "engine", sup.Variant(), "version", version)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errs <- fmt.Errorf("http: %w", err)
		}
	}()

	if serveMCP {
		go func() {
			mcp := control.NewServer("sessiond", version)
			mcp.Register(control.Tools(sup)...)
			if err := mcp.Serve(ctx, os.Stdin, os.Stdout); err != nil && ctx.Err() == nil {
				errs <- fmt.Errorf("mcp: %w", err)
			}
		}()
	}

	var runErr error
	select {
	case <-ctx.Done():
		log.Info("shutting down")
	case runErr = <-errs:
		log.Error("server failed", "error", runErr)
	}

	return errors.Join(runErr, shutdown(log, srv, sup))
}

// shutdown stops accepting requests, then stops every session.
func shutdown(log *slog.Logger, srv *http.Server, sup *supervisor.Supervisor) error {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	httpErr := srv.Shutdown(ctx)
	supErr := sup.Shutdown(ctx)
	if supErr == nil {
		log.Info("sessions stopped")
	}
	return errors.Join(httpErr, supErr)
}

// loadConfig resolves and validates the configuration. Without a config file
// the defaults are used.
func loadConfig(configPath, dataDir string) (config.Config, error) {
	cfg := config.Default()

	if path := resolveConfigPath(configPath, dataDir); path != "" {
		loaded, err := config.Load(path)
		if err != nil {
			return config.Config{}, err
		}
		cfg = loaded
	}

	if dataDir != "" {
		cfg.DataDir = dataDir
	}

	if err := cfg.Validate(); err != nil {
		return config.Config{}, err
	}
	return cfg, nil
}
