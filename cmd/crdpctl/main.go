// Package main is the entry point for the crdpctl binary.
// It drives protect and reveal operations against a CRDP gateway and can run a local
// gateway emulator.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	crdptls "github.com/polisai/crdp-orchestrator/internal/tls"
	"github.com/polisai/crdp-orchestrator/pkg/config"
	"github.com/polisai/crdp-orchestrator/pkg/gateway"
	"github.com/polisai/crdp-orchestrator/pkg/logging"
	"github.com/polisai/crdp-orchestrator/pkg/orchestrator"
	"github.com/polisai/crdp-orchestrator/pkg/telemetry"
)

// errOperationFailed marks a completed command whose gateway operation failed. The
// result has already been printed.
var errOperationFailed = errors.New("operation failed")

func main() {
	if err := newRootCmd().Execute(); err != nil {
		if !errors.Is(err, errOperationFailed) {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		}
		os.Exit(1)
	}
}

// app carries the state shared by every subcommand once the root has been set up.
type app struct {
	cfg      *config.Config
	logger   *slog.Logger
	shutdown func(context.Context) error
}

// newRootCmd creates the root command for crdpctl
func newRootCmd() *cobra.Command {
	a := &app{}

	rootCmd := &cobra.Command{
		Use:   "crdpctl",
		Short: "Protect and reveal data through a CRDP gateway",
		Long: `crdpctl submits values for protection and tokens for reveal, singly or in
batches, against a configurable gateway endpoint (host, port, policy).

Example:
  crdpctl emulate --listen :8000 &
  crdpctl protect 1234567890123
  crdpctl roundtrip --count 10`,
		SilenceUsage:       true,
		SilenceErrors:      true,
		PersistentPreRunE:  a.setup,
		PersistentPostRunE: a.teardown,
	}

	flags := rootCmd.PersistentFlags()
	flags.StringP("config", "c", "", "Path to configuration file (YAML)")
	flags.StringP("log-level", "l", "", "Log level (debug, info, warn, error)")
	flags.Bool("pretty", false, "Human-readable log output")
	flags.String("gateway-url", "", "Gateway base URL")
	flags.String("token", "", "Bearer token passed to the gateway")
	flags.String("host", "", "CRDP API host sent with each request")
	flags.String("port", "", "CRDP API port sent with each request")
	flags.String("policy", "", "Protection policy sent with each request")

	rootCmd.AddCommand(
		a.newProtectCmd(),
		a.newRevealCmd(),
		a.newProtectBulkCmd(),
		a.newRevealBulkCmd(),
		a.newHealthCmd(),
		a.newRoundTripCmd(),
		a.newSessionCmd(),
		a.newEmulateCmd(),
	)

	return rootCmd
}

// setup loads configuration, applies flag overrides and initialises logging and tracing.
func (a *app) setup(cmd *cobra.Command, _ []string) error {
	// Optional; a missing .env file is not an error.
	_ = godotenv.Load()

	configPath, err := cmd.Flags().GetString("config")
	if err != nil {
		return fmt.Errorf("failed to get config flag: %w", err)
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if err := applyFlagOverrides(cmd, cfg); err != nil {
		return err
	}
	a.cfg = cfg

	a.logger = logging.NewLogger(logging.Config{
		Level:  cfg.Logging.Level,
		Pretty: cfg.Logging.Pretty,
		Output: cmd.ErrOrStderr(),
	})
	slog.SetDefault(a.logger)

	shutdown, err := telemetry.SetupProvider(cmd.Context(), telemetry.Config{
		ServiceName: cfg.Telemetry.ServiceName,
		Endpoint:    cfg.Telemetry.OTLPEndpoint,
		Insecure:    cfg.Telemetry.Insecure,
	})
	if err != nil {
		return fmt.Errorf("failed to initialise telemetry: %w", err)
	}
	a.shutdown = shutdown

	a.logger.Debug("configuration loaded",
		"gateway", cfg.Gateway.BaseURL,
		"host", cfg.Session.Settings.Host,
		"port", cfg.Session.Settings.Port,
		"policy", cfg.Session.Settings.Policy,
	)
	return nil
}

func (a *app) teardown(cmd *cobra.Command, _ []string) error {
	if a.shutdown == nil {
		return nil
	}
	if err := a.shutdown(context.WithoutCancel(cmd.Context())); err != nil {
		a.logger.Warn("telemetry shutdown failed", "error", err)
	}
	return nil
}

// applyFlagOverrides applies explicitly set root flags on top of file and environment
// configuration, then re-validates.
func applyFlagOverrides(cmd *cobra.Command, cfg *config.Config) error {
	overrides := []struct {
		flag   string
		target *string
	}{
		{"log-level", &cfg.Logging.Level},
		{"gateway-url", &cfg.Gateway.BaseURL},
		{"token", &cfg.Gateway.Token},
		{"host", &cfg.Session.Settings.Host},
		{"port", &cfg.Session.Settings.Port},
		{"policy", &cfg.Session.Settings.Policy},
	}
	for _, o := range overrides {
		if !cmd.Flags().Changed(o.flag) {
			continue
		}
		value, err := cmd.Flags().GetString(o.flag)
		if err != nil {
			return fmt.Errorf("failed to get %s flag: %w", o.flag, err)
		}
		*o.target = value
	}

	if cmd.Flags().Changed("pretty") {
		pretty, err := cmd.Flags().GetBool("pretty")
		if err != nil {
			return fmt.Errorf("failed to get pretty flag: %w", err)
		}
		cfg.Logging.Pretty = pretty
	}

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("configuration validation failed: %w", err)
	}
	return nil
}

// credentials picks the credential source: an environment variable wins over a static token.
func (a *app) credentials() gateway.CredentialSource {
	switch {
	case a.cfg.Gateway.TokenEnv != "":
		return gateway.EnvCredential(a.cfg.Gateway.TokenEnv)
	case a.cfg.Gateway.Token != "":
		return gateway.StaticCredential(a.cfg.Gateway.Token)
	default:
		return nil
	}
}

func (a *app) newClient() (*gateway.Client, error) {
	opts := gateway.Options{
		BaseURL:     a.cfg.Gateway.BaseURL,
		Credentials: a.credentials(),
		Logger:      a.logger,
	}

	if a.cfg.Gateway.TLS.Enabled() {
		tlsConfig, err := crdptls.BuildClient(a.cfg.Gateway.TLS)
		if err != nil {
			return nil, fmt.Errorf("gateway tls: %w", err)
		}
		transport := http.DefaultTransport.(*http.Transport).Clone()
		transport.TLSClientConfig = tlsConfig
		opts.HTTPClient = &http.Client{Transport: otelhttp.NewTransport(transport)}
	}

	return gateway.New(opts)
}

// newController builds a controller over settings, seeded with the configured samples.
func (a *app) newController(settings orchestrator.SettingsSource) (*orchestrator.Controller, error) {
	client, err := a.newClient()
	if err != nil {
		return nil, err
	}
	return orchestrator.New(orchestrator.Options{
		Gateway:  client,
		Settings: settings,
		Logger:   a.logger,
		Defaults: orchestrator.Inputs{
			Protect:     a.cfg.Session.SampleProtect,
			BulkProtect: a.cfg.Session.SampleBulk,
		},
	})
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
