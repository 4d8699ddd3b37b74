// Package main provides the server entry point.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/exec"
	"os/signal"
	"sort"
	"strings"
	"syscall"
	"time"

	"connectrpc.com/connect"
	"github.com/alecthomas/kingpin/v2"
	"github.com/cenkalti/backoff/v4"
	"github.com/cockroachdb/errors"
	"github.com/joho/godotenv"
	"github.com/mitchellh/mapstructure"
	zlog "github.com/rs/zerolog/log"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"

	apiconnect "github.com/osa030/tagbox/internal/api/connect"
	"github.com/osa030/tagbox/internal/api/ws"
	"github.com/osa030/tagbox/internal/app/control"
	"github.com/osa030/tagbox/internal/app/filter"
	"github.com/osa030/tagbox/internal/app/lookup"
	"github.com/osa030/tagbox/internal/app/session"
	"github.com/osa030/tagbox/internal/infra/config"
	"github.com/osa030/tagbox/internal/infra/logger"
	"github.com/osa030/tagbox/internal/infra/metrics"
	"github.com/osa030/tagbox/internal/infra/sim"
	"github.com/osa030/tagbox/internal/infra/spotify"
)

var (
	app        = kingpin.New("tagbox-server", "tagbox tag-driven playback server")
	configPath = app.Flag("config", "Path to config file").Default("config/server.yaml").String()
	verbose    = app.Flag("verbose", "Enable verbose (DEBUG) logging").Short('v').Bool()
	logfile    = app.Flag("logfile", "Path to log file (default: stdout)").String()

	// list-actions command
	listActionsCmd = app.Command("list-actions", "List manual actions and command guards, then exit")
)

func init() {
	// start command (default) - no need to store the command
	app.Command("start", "Start the server (default)").Default()
}

func main() {
	// Load .env file if it exists (errors are ignored)
	_ = godotenv.Load()

	// Parse command
	command := kingpin.MustParse(app.Parse(os.Args[1:]))

	if command == listActionsCmd.FullCommand() {
		printActions()
		return
	}

	// Load config
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	loggerConfig := logger.Config{
		Output:     "stdout",
		Level:      "info",
		File:       cfg.Log.File,
		MaxSizeMB:  cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAgeDays: cfg.Log.MaxAgeDays,
	}
	// Override with command-line flags if specified
	if *verbose {
		loggerConfig.Level = "debug"
	}
	if *logfile != "" {
		loggerConfig.File = *logfile
	}
	if loggerConfig.File != "" {
		loggerConfig.Output = loggerConfig.File
	}
	if err := logger.Init(loggerConfig); err != nil {
		panic(fmt.Sprintf("Failed to initialize logger: %v", err))
	}
	zlog.Info().Msgf("Loaded config from %s", *configPath)

	// Run server (defer ensures shutdown hook is called)
	if err := run(cfg); err != nil {
		zlog.Error().Msgf("Server error: %v", err)
		os.Exit(1)
	}
}

// run executes the main server logic. Using a separate function ensures
// defer statements are executed even when returning with an error.
func run(cfg *config.Config) error {
	ctx := context.Background()

	// Create Spotify client when a spotify resolver is configured
	var source lookup.TrackSource
	if cfg.SpotifyEnabled() {
		spotifyClient, err := spotify.New(ctx, spotify.Config{
			ClientID:     cfg.Spotify.ClientID,
			ClientSecret: cfg.Spotify.ClientSecret,
			RefreshToken: cfg.Spotify.RefreshToken,
			Market:       cfg.Spotify.Market,
		})
		if err != nil {
			return errors.Wrap(err, "failed to create Spotify client")
		}
		if err := validatePlaylists(ctx, cfg, spotifyClient); err != nil {
			return errors.Wrap(err, "playlist validation failed")
		}
		source = spotifyClient
	}

	chain, err := lookup.NewChainFromConfig(cfg, source)
	if err != nil {
		return errors.Wrap(err, "failed to create playlist lookup")
	}

	// Simulated hardware; drivers plug in through the same interfaces.
	buttons := sim.NewButtons()
	defer buttons.Close()

	m := metrics.New()
	hub := ws.NewHub(config.Ms(cfg.Broadcast.WriteTimeoutMs))

	sessionMgr, err := session.NewManager(cfg, session.Deps{
		Hardware:  sim.NewAudio(),
		Reader:    sim.NewReader(),
		Inputs:    buttons,
		Transport: hub,
		Lookup:    chain,
		Metrics:   m,
	})
	if err != nil {
		return errors.Wrap(err, "failed to create session manager")
	}

	// Create HTTP mux
	mux := http.NewServeMux()

	controlPath, controlHandler := apiconnect.NewControlServiceHandler(
		apiconnect.NewControlService(sessionMgr, cfg),
		connect.WithInterceptors(apiconnect.NewOperatorAuthInterceptor(cfg)),
	)
	mux.Handle(controlPath, controlHandler)
	mux.Handle("/ws", ws.NewHandler(sessionMgr, hub))
	mux.Handle("/metrics", m.Handler(sessionMgr.UpdateGauges))

	// Create server with h2c (HTTP/2 cleartext) support
	serverAddr := cfg.Server.Addr
	server := &http.Server{
		Addr:              serverAddr,
		Handler:           h2c.NewHandler(mux, &http2.Server{}),
		ReadHeaderTimeout: 10 * time.Second,
	}

	// Channel to capture server startup errors
	serverErrCh := make(chan error, 1)

	if err := sessionMgr.Start(ctx); err != nil {
		return errors.Wrap(err, "failed to start session")
	}

	// Start server
	go func() {
		zlog.Info().Msgf("Starting server: addr=%s", serverAddr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErrCh <- err
		}
	}()

	// Give the server a moment to fully initialize
	time.Sleep(100 * time.Millisecond)

	// Execute startup hook if configured (after server is running)
	executeHooks(cfg.Server.Hooks.OnStarted, "on_started")
	defer executeHooks(cfg.Server.Hooks.OnStopped, "on_stopped")

	// Wait for shutdown signal, session end, or server error
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	var runErr error
	select {
	case <-sigCh:
		zlog.Info().Msg("Received shutdown signal...")
	case <-sessionMgr.Done():
		zlog.Info().Msg("Session ended, shutting down...")
	case err := <-serverErrCh:
		runErr = errors.Wrap(err, "server error")
	}

	// Graceful shutdown
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	// Stop the session first so clients see the final state
	if err := sessionMgr.Stop(shutdownCtx); err != nil && !errors.Is(err, session.ErrNotStarted) {
		zlog.Error().Msgf("Failed to stop session: %v", err)
	}

	if err := server.Shutdown(shutdownCtx); err != nil {
		zlog.Error().Msgf("Failed to shutdown server: %v", err)
	}

	zlog.Info().Msg("Server stopped")
	return runErr
}

// printActions prints manual actions and command guards.
func printActions() {
	fmt.Println("Manual Actions:")
	for _, a := range control.Actions() {
		fmt.Printf("  %s\n", a)
	}

	fmt.Println("\nCommand Guards:")
	registry := filter.GetRegistered()
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		f := registry[name]()
		codes := strings.Join(f.ReturnCodes(), ", ")
		fmt.Printf("  %-20s - %s [codes: %s]\n", f.Name(), f.Description(), codes)
	}
}

// validatePlaylists checks that every playlist referenced by a spotify
// resolver exists. Transient errors during startup are retried.
func validatePlaylists(ctx context.Context, cfg *config.Config, spotifyClient *spotify.Client) error {
	var errs []string

	for _, rcfg := range cfg.Library.Resolvers {
		if rcfg.Type != "spotify" {
			continue
		}
		var settings lookup.SpotifyConfig
		if err := mapstructure.Decode(rcfg.Settings, &settings); err != nil {
			return errors.Wrap(err, "failed to decode spotify resolver settings")
		}

		urls := make([]string, 0, len(settings.Tags))
		for _, url := range settings.Tags {
			urls = append(urls, url)
		}
		sort.Strings(urls)

		for _, url := range urls {
			zlog.Info().Msgf("Validating playlist: url=%s", url)
			policy := backoff.WithContext(
				backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 4), ctx)
			err := backoff.RetryNotify(func() error {
				return spotifyClient.CheckPlaylistExists(ctx, url)
			}, policy, func(err error, d time.Duration) {
				zlog.Warn().Msgf("Failed to validate playlist, retrying in %v: url=%s err=%v", d, url, err)
			})
			if err != nil {
				errs = append(errs, fmt.Sprintf("%s: %v", url, err))
			}
		}
	}

	if len(errs) > 0 {
		return errors.Newf("playlist validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

// executeHooks runs a list of shell commands.
func executeHooks(hooks []string, stage string) {
	if len(hooks) == 0 {
		return
	}

	zlog.Info().Msgf("Executing %s hooks (%d commands)", stage, len(hooks))

	for _, hook := range hooks {
		zlog.Info().Msgf("Executing hook: %s", hook)
		// Use sh -c to allow shell features like redirection or pipes
		cmd := exec.Command("sh", "-c", hook)
		cmd.Stdout = os.Stdout
		cmd.Stderr = os.Stderr

		if err := cmd.Run(); err != nil {
			zlog.Error().Err(err).Msgf("Failed to execute hook: %s", hook)
		}
	}
}
