package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	crdptls "github.com/polisai/crdp-orchestrator/internal/tls"
	"github.com/polisai/crdp-orchestrator/pkg/domain"
	"github.com/polisai/crdp-orchestrator/pkg/emulator"
	"github.com/polisai/crdp-orchestrator/pkg/request"
	"github.com/polisai/crdp-orchestrator/pkg/storage"
)

func (a *app) newEmulateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "emulate",
		Short: "Run a local gateway emulator",
		Long: `Run an in-memory gateway that serves the protect, reveal, bulk and health routes
under /api/crdp, a demo login under /api/auth/login (when a JWT secret is configured)
and Prometheus metrics under /metrics.

With --tls-dev-dir a development CA, server and client certificate are generated into
the directory and the emulator serves mutual TLS with them.`,
		Args: cobra.NoArgs,
		RunE: a.runEmulator,
	}
	cmd.Flags().String("listen", "", "Listen address (defaults to the configured emulator address)")
	cmd.Flags().String("tls-dev-dir", "", "Generate development certificates here and serve mutual TLS")
	return cmd
}

// newEmulator builds the emulator from configuration. Unparseable session settings
// leave the health defaults empty instead of failing.
func (a *app) newEmulator() *emulator.Server {
	cfg := a.cfg
	defaults, err := request.ParseConfiguration(cfg.Session.Settings)
	if err != nil {
		a.logger.Warn("emulator health defaults unavailable", "error", err)
		defaults = domain.Configuration{Policy: cfg.Session.Settings.Policy}
	}

	var auth *emulator.Authenticator
	if cfg.Emulator.JWTSecret != "" {
		auth = emulator.NewAuthenticator(cfg.Emulator.JWTSecret, cfg.Emulator.TokenTTL, cfg.Emulator.Username, cfg.Emulator.Password)
	}

	return emulator.New(emulator.Options{
		Vault:    storage.NewMemoryTokenVault(),
		Auth:     auth,
		Logger:   a.logger,
		Defaults: defaults,
	})
}

func (a *app) runEmulator(cmd *cobra.Command, _ []string) error {
	listen, err := cmd.Flags().GetString("listen")
	if err != nil {
		return fmt.Errorf("failed to get listen flag: %w", err)
	}
	if listen == "" {
		listen = a.cfg.Emulator.Listen
	}

	server := &http.Server{
		Addr:              listen,
		Handler:           a.newEmulator().Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	if err := a.configureEmulatorTLS(cmd, server); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		a.logger.Info("Starting CRDP emulator",
			"listen", listen,
			"auth", a.cfg.Emulator.JWTSecret != "",
			"tls", server.TLSConfig != nil,
		)
		if server.TLSConfig != nil {
			errCh <- server.ListenAndServeTLS("", "")
			return
		}
		errCh <- server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("emulator stopped: %w", err)
	case <-ctx.Done():
	}

	a.logger.Info("Shutting down CRDP emulator")
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown error: %w", err)
	}
	return nil
}

// configureEmulatorTLS sets server.TLSConfig from --tls-dev-dir or the emulator TLS
// configuration, leaving it nil for plain HTTP.
func (a *app) configureEmulatorTLS(cmd *cobra.Command, server *http.Server) error {
	devDir, err := cmd.Flags().GetString("tls-dev-dir")
	if err != nil {
		return fmt.Errorf("failed to get tls-dev-dir flag: %w", err)
	}

	tlsCfg := a.cfg.Emulator.TLS
	if devDir != "" {
		set, err := crdptls.GenerateDevelopmentSet(devDir)
		if err != nil {
			return err
		}
		tlsCfg = set.Server()
		a.logger.Info("Generated development certificates",
			"ca_file", set.CAFile,
			"client_cert", set.ClientCert,
			"client_key", set.ClientKey,
		)
	}
	if !tlsCfg.Enabled() {
		return nil
	}

	server.TLSConfig, err = crdptls.BuildServer(tlsCfg)
	if err != nil {
		return fmt.Errorf("emulator tls: %w", err)
	}
	return nil
}
