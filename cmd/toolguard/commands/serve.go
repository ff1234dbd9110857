package commands

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/opencode-ai/toolguard/internal/event"
	"github.com/opencode-ai/toolguard/internal/logging"
	"github.com/opencode-ai/toolguard/internal/server"
)

var (
	servePort     int
	serveHostname string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the toolguard HTTP server",
	Long: `Start toolguard as a server that exposes the gate over HTTP.

Agents POST calls to /exec; approvers list /permission, reply to
/permission/{id}/reply and follow /event.`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().IntVarP(&servePort, "port", "p", 0, "Port to listen on (default: config, then 8080)")
	serveCmd.Flags().StringVar(&serveHostname, "hostname", "", "Hostname to listen on (default: config, then 127.0.0.1)")
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	log := logging.Component("serve")

	bus := event.NewBus()
	defer bus.Close()

	g, stop, err := buildGate(cfg, bus)
	if err != nil {
		return err
	}
	defer stop()

	serverConfig := server.DefaultConfig()
	if cfg.Server.Host != "" {
		serverConfig.Host = cfg.Server.Host
	}
	if serveHostname != "" {
		serverConfig.Host = serveHostname
	}
	if cfg.Server.Port != 0 {
		serverConfig.Port = cfg.Server.Port
	}
	if servePort != 0 {
		serverConfig.Port = servePort
	}
	if len(cfg.Server.CORSOrigins) > 0 {
		serverConfig.EnableCORS = true
		serverConfig.CORSOrigins = cfg.Server.CORSOrigins
	}

	srv := server.New(serverConfig, g, bus, logging.Component("server"))

	log.Info().
		Str("version", Version).
		Str("backend", string(g.Executor.Backend().Kind())).
		Strs("config", cfg.Sources).
		Msg("starting toolguard server")

	errCh := make(chan error, 1)
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-quit:
	case err := <-errCh:
		return err
	}

	log.Info().Msg("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("server shutdown error")
	}

	log.Info().Msg("server stopped")
	return nil
}
