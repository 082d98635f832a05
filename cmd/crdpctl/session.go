package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/polisai/crdp-orchestrator/pkg/config"
	"github.com/polisai/crdp-orchestrator/pkg/domain"
	"github.com/polisai/crdp-orchestrator/pkg/orchestrator"
)

const sessionHelp = `Commands:
  set <field> <value>   field: protect, reveal, username, bulk-protect, bulk-reveal,
                        host, port, policy (use \n to separate bulk lines)
  run <slot>            slot: protect, reveal, bulk_protect, bulk_reveal, health
  wait                  wait for in-flight operations, then show every slot
  state [slot]          show one or every slot
  inputs                show the current inputs
  settings              show the current settings
  log                   show the session log
  reset                 restore sample inputs, clear results and the log
  help                  show this help
  quit                  leave the session`

func (a *app) newSessionCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "session",
		Short: "Interactive console over the five operation slots",
		Long: `Interactive console over the five operation slots.

Operations run in the background; a successful protect or bulk protect copies its
tokens into the matching reveal input. With --settings-file the host, port and policy
are reloaded whenever the file changes.`,
		Args: cobra.NoArgs,
		RunE: a.runSession,
	}
	cmd.Flags().String("settings-file", "", "YAML or JSON file with host, port and policy to watch")
	return cmd
}

func (a *app) runSession(cmd *cobra.Command, _ []string) error {
	store := config.NewSettingsStore(a.cfg.Session.Settings)

	settingsFile, err := cmd.Flags().GetString("settings-file")
	if err != nil {
		return fmt.Errorf("failed to get settings-file flag: %w", err)
	}
	if settingsFile != "" {
		watcher, err := config.NewSettingsWatcher(settingsFile, store, a.logger)
		if err != nil {
			return err
		}
		defer func() { _ = watcher.Close() }()
	}

	c, err := a.newController(store)
	if err != nil {
		return err
	}

	changes := store.Subscribe()
	<-changes

	s := &session{
		ctx:        cmd.Context(),
		controller: c,
		settings:   store,
		changes:    changes,
		out:        cmd.OutOrStdout(),
	}
	return s.loop(cmd.InOrStdin())
}

// session is a line-driven console bound to one controller.
type session struct {
	ctx        context.Context
	controller *orchestrator.Controller
	settings   *config.SettingsStore
	changes    <-chan domain.Settings
	out        io.Writer
}

var errQuit = errors.New("quit")

func (s *session) loop(in io.Reader) error {
	defer s.controller.Wait()

	fmt.Fprintln(s.out, "crdpctl session; type help for commands")
	scanner := bufio.NewScanner(in)
	for {
		s.reportSettingsChanges()
		fmt.Fprint(s.out, "> ")
		if !scanner.Scan() {
			fmt.Fprintln(s.out)
			return scanner.Err()
		}

		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if err := s.exec(line); err != nil {
			if errors.Is(err, errQuit) {
				return nil
			}
			fmt.Fprintf(s.out, "error: %v\n", err)
		}
	}
}

// reportSettingsChanges prints the current settings once if they changed since the
// last prompt, whether edited here or reloaded from the settings file.
func (s *session) reportSettingsChanges() {
	select {
	case <-s.changes:
	default:
		return
	}
	st := s.settings.Current()
	fmt.Fprintf(s.out, "settings: host=%s, port=%s, policy=%s\n", st.Host, st.Port, st.Policy)
}

func (s *session) exec(line string) error {
	verb, rest, _ := strings.Cut(line, " ")
	rest = strings.TrimSpace(rest)

	switch verb {
	case "help":
		fmt.Fprintln(s.out, sessionHelp)
		return nil
	case "quit", "exit":
		return errQuit
	case "set":
		field, value, _ := strings.Cut(rest, " ")
		return s.set(field, value)
	case "run":
		slot, err := orchestrator.ParseSlot(rest)
		if err != nil {
			return err
		}
		if _, err := s.controller.Trigger(s.ctx, slot); err != nil {
			return err
		}
		fmt.Fprintf(s.out, "%s started\n", slot)
		return nil
	case "wait":
		s.controller.Wait()
		return s.showStates(orchestrator.Slots())
	case "state":
		if rest == "" {
			return s.showStates(orchestrator.Slots())
		}
		slot, err := orchestrator.ParseSlot(rest)
		if err != nil {
			return err
		}
		return s.showStates([]orchestrator.Slot{slot})
	case "inputs":
		return writeJSON(s.out, s.controller.Inputs())
	case "settings":
		return writeJSON(s.out, s.settings.Current())
	case "log":
		return writeJSON(s.out, s.controller.Log().Snapshot())
	case "reset":
		s.controller.Reset()
		fmt.Fprintln(s.out, "session reset")
		return nil
	default:
		return fmt.Errorf("unknown command %q, type help", verb)
	}
}

func (s *session) set(field, value string) error {
	value = strings.ReplaceAll(value, `\n`, "\n")

	switch field {
	case "protect":
		s.controller.SetProtectInput(value)
	case "reveal":
		s.controller.SetRevealInput(value)
	case "username":
		s.controller.SetRevealUsername(value)
	case "bulk-protect":
		s.controller.SetBulkProtectInput(value)
	case "bulk-reveal":
		s.controller.SetBulkRevealInput(value)
	case "host":
		s.settings.Update(func(st *domain.Settings) { st.Host = value })
	case "port":
		s.settings.Update(func(st *domain.Settings) { st.Port = value })
	case "policy":
		s.settings.Update(func(st *domain.Settings) { st.Policy = value })
	default:
		return fmt.Errorf("unknown field %q", field)
	}
	return nil
}

// slotView is the printed form of one slot.
type slotView struct {
	Slot       orchestrator.Slot       `json:"slot"`
	Phase      string                  `json:"phase"`
	CanTrigger bool                    `json:"can_trigger"`
	Result     *domain.OperationResult `json:"result,omitempty"`
	Health     *domain.HealthStatus    `json:"health,omitempty"`
}

func (s *session) showStates(slots []orchestrator.Slot) error {
	views := make([]slotView, 0, len(slots))
	for _, slot := range slots {
		st := s.controller.State(slot)
		views = append(views, slotView{
			Slot:       slot,
			Phase:      st.Phase.String(),
			CanTrigger: s.controller.CanTrigger(slot),
			Result:     st.Result,
			Health:     st.Health,
		})
	}
	return writeJSON(s.out, views)
}
