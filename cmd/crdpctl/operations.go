package main

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/polisai/crdp-orchestrator/pkg/domain"
	"github.com/polisai/crdp-orchestrator/pkg/orchestrator"
	"github.com/polisai/crdp-orchestrator/pkg/request"
	"github.com/polisai/crdp-orchestrator/pkg/runner"
	"github.com/polisai/crdp-orchestrator/pkg/validation"
)

// operationOutput is printed by the single-operation commands.
type operationOutput struct {
	Result *domain.OperationResult `json:"result,omitempty"`
	Health *domain.HealthStatus    `json:"health,omitempty"`
	Log    []domain.LogEntry       `json:"log,omitempty"`
}

// runSlot triggers one slot on a fresh controller, prints its outcome and reports
// errOperationFailed when the operation did not succeed.
func (a *app) runSlot(cmd *cobra.Command, slot orchestrator.Slot, prepare func(*orchestrator.Controller)) error {
	c, err := a.newController(orchestrator.StaticSettings(a.cfg.Session.Settings))
	if err != nil {
		return err
	}
	prepare(c)

	state, err := c.Run(cmd.Context(), slot)
	if err != nil {
		return err
	}

	out := operationOutput{Result: state.Result, Health: state.Health}
	if showLog, _ := cmd.Flags().GetBool("show-log"); showLog {
		out.Log = c.Log().Snapshot()
	}
	if err := writeJSON(cmd.OutOrStdout(), out); err != nil {
		return err
	}

	switch {
	case state.Result != nil && state.Result.Failed():
		return errOperationFailed
	case state.Health != nil && !state.Health.OK:
		return errOperationFailed
	}
	return nil
}

func (a *app) newProtectCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "protect [data]",
		Short: "Protect a 13-digit value",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data := a.cfg.Session.SampleProtect
			if len(args) == 1 {
				data = args[0]
			}
			return a.runSlot(cmd, orchestrator.SlotProtect, func(c *orchestrator.Controller) {
				c.SetProtectInput(data)
			})
		},
	}
	cmd.Flags().Bool("show-log", false, "Include the session log in the output")
	return cmd
}

func (a *app) newRevealCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "reveal <token>",
		Short: "Reveal a protected token",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			username, err := cmd.Flags().GetString("username")
			if err != nil {
				return fmt.Errorf("failed to get username flag: %w", err)
			}
			return a.runSlot(cmd, orchestrator.SlotReveal, func(c *orchestrator.Controller) {
				c.SetRevealInput(args[0])
				c.SetRevealUsername(username)
			})
		},
	}
	cmd.Flags().StringP("username", "u", "", "Username sent with the reveal request")
	cmd.Flags().Bool("show-log", false, "Include the session log in the output")
	return cmd
}

func (a *app) newProtectBulkCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "protect-bulk [file|-]",
		Short: "Protect one value per line",
		Long:  "Protect one value per line read from a file, from stdin (-) or, without an argument, from the configured sample.",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			block, err := readBlock(cmd, args, a.cfg.Session.SampleBulk)
			if err != nil {
				return err
			}
			return a.runSlot(cmd, orchestrator.SlotBulkProtect, func(c *orchestrator.Controller) {
				c.SetBulkProtectInput(block)
			})
		},
	}
	cmd.Flags().Bool("show-log", false, "Include the session log in the output")
	return cmd
}

func (a *app) newRevealBulkCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "reveal-bulk <file|->",
		Short: "Reveal one token per line",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			block, err := readBlock(cmd, args, "")
			if err != nil {
				return err
			}
			username, err := cmd.Flags().GetString("username")
			if err != nil {
				return fmt.Errorf("failed to get username flag: %w", err)
			}
			return a.runSlot(cmd, orchestrator.SlotBulkReveal, func(c *orchestrator.Controller) {
				c.SetBulkRevealInput(block)
				c.SetRevealUsername(username)
			})
		},
	}
	cmd.Flags().StringP("username", "u", "", "Username sent with the reveal request")
	cmd.Flags().Bool("show-log", false, "Include the session log in the output")
	return cmd
}

func (a *app) newHealthCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "health",
		Short: "Check gateway health for the configured endpoint",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.runSlot(cmd, orchestrator.SlotHealth, func(*orchestrator.Controller) {})
		},
	}
	cmd.Flags().Bool("show-log", false, "Include the session log in the output")
	return cmd
}

// roundTripOutput is printed by the roundtrip command.
type roundTripOutput struct {
	Summary    runner.Summary               `json:"summary"`
	Iterations []runner.IterationResult     `json:"iterations,omitempty"`
	Batches    []runner.BulkIterationResult `json:"batches,omitempty"`
}

func (a *app) newRoundTripCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "roundtrip [data|file|-]",
		Short: "Protect then reveal and check the values match",
		Long: `Protect then reveal and check that the revealed values match the inputs.

Without --bulk the argument is a single value protected --count times. With --bulk it
is a file (or - for stdin) of one value per line, processed in batches.`,
		Args: cobra.MaximumNArgs(1),
		RunE: a.runRoundTrip,
	}
	cmd.Flags().Int("count", 1, "Number of single round trips")
	cmd.Flags().Bool("bulk", false, "Use bulk protect and bulk reveal")
	cmd.Flags().Int("batch-size", 0, "Items per bulk call (defaults to the configured batch size)")
	cmd.Flags().StringP("username", "u", "", "Username sent with reveal requests")
	return cmd
}

func (a *app) runRoundTrip(cmd *cobra.Command, args []string) error {
	count, err := cmd.Flags().GetInt("count")
	if err != nil {
		return fmt.Errorf("failed to get count flag: %w", err)
	}
	bulk, err := cmd.Flags().GetBool("bulk")
	if err != nil {
		return fmt.Errorf("failed to get bulk flag: %w", err)
	}
	batchSize, err := cmd.Flags().GetInt("batch-size")
	if err != nil {
		return fmt.Errorf("failed to get batch-size flag: %w", err)
	}
	if batchSize <= 0 {
		batchSize = a.cfg.Session.BatchSize
	}
	username, err := cmd.Flags().GetString("username")
	if err != nil {
		return fmt.Errorf("failed to get username flag: %w", err)
	}

	cfg, err := request.ParseConfiguration(a.cfg.Session.Settings)
	if err != nil {
		return err
	}
	client, err := a.newClient()
	if err != nil {
		return err
	}
	r := runner.New(client, a.logger)

	var out roundTripOutput
	if bulk {
		block, err := readBlock(cmd, args, a.cfg.Session.SampleBulk)
		if err != nil {
			return err
		}
		items, err := validation.ValidateBulk(block)
		if err != nil {
			return fmt.Errorf("roundtrip: %w", err)
		}
		out.Batches = r.RunBulkIteration(cmd.Context(), cfg, items, batchSize, username)
		out.Summary = runner.SummarizeBulk(out.Batches)
	} else {
		data := a.cfg.Session.SampleProtect
		if len(args) == 1 {
			data = args[0]
		}
		for range max(count, 1) {
			out.Iterations = append(out.Iterations, r.RunIteration(cmd.Context(), cfg, data, username))
		}
		out.Summary = runner.Summarize(out.Iterations)
	}

	a.logger.Info("round trip complete",
		"items", out.Summary.Items,
		"matched", out.Summary.Matched,
		"failed", out.Summary.Failed,
		"duration", out.Summary.Duration,
	)
	if err := writeJSON(cmd.OutOrStdout(), out); err != nil {
		return err
	}
	if out.Summary.Matched != out.Summary.Items {
		return errOperationFailed
	}
	return nil
}

// readBlock returns the text of the file named by args[0], stdin for "-", or fallback
// when no argument is given.
func readBlock(cmd *cobra.Command, args []string, fallback string) (string, error) {
	if len(args) == 0 {
		return fallback, nil
	}

	var (
		data []byte
		err  error
	)
	if args[0] == "-" {
		data, err = io.ReadAll(cmd.InOrStdin())
	} else {
		//nolint:gosec // Input path is supplied by the operator
		data, err = os.ReadFile(args[0])
	}
	if err != nil {
		return "", fmt.Errorf("failed to read input: %w", err)
	}
	return strings.ReplaceAll(string(data), "\r\n", "\n"), nil
}
