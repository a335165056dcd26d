// ABOUTME: State subcommands: plan, phases, notes, decisions, errors, history, rollback
// ABOUTME: Each command opens the configured backend, runs one engine call and prints the result

package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
)

func newPlanCmd(flags *globalFlags) *cobra.Command {
	var phases []string
	cmd := &cobra.Command{
		Use:   "plan <goal>",
		Short: "Create a task plan, replacing any existing plan",
		Example: `  agentstate plan "Ship the REST API" --phases Design,Implement,Test
  agentstate plan "Fix flaky test" -p Reproduce -p Fix`,
		Args: cobra.ExactArgs(1),
		RunE: withSession(flags, func(cmd *cobra.Command, args []string, s *session) error {
			plan, err := s.engine.CreatePlan(cmd.Context(), args[0], phases)
			if err != nil {
				return err
			}
			if s.json {
				return printJSON(s.out, plan)
			}
			printSuccess(s.out, "Created plan: %s", plan.Goal)
			printPlan(s.out, plan)
			return nil
		}),
	}
	cmd.Flags().StringSliceVarP(&phases, "phases", "p", nil, "phase names, in order")
	return cmd
}

func newStartCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "start <phase>",
		Short: "Mark a phase in progress",
		Args:  cobra.ExactArgs(1),
		RunE: withSession(flags, func(cmd *cobra.Command, args []string, s *session) error {
			plan, err := s.engine.StartPhase(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if s.json {
				return printJSON(s.out, plan)
			}
			printSuccess(s.out, "Started phase: %s", args[0])
			return nil
		}),
	}
}

func newCompleteCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "complete <phase>",
		Short: "Mark a phase completed",
		Args:  cobra.ExactArgs(1),
		RunE: withSession(flags, func(cmd *cobra.Command, args []string, s *session) error {
			plan, err := s.engine.CompletePhase(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if s.json {
				return printJSON(s.out, plan)
			}
			printSuccess(s.out, "Completed phase: %s", args[0])
			if cur := plan.CurrentPhase(); cur != nil {
				printInfo(s.out, "Now in progress: %s", cur.Name)
			}
			return nil
		}),
	}
}

func newFailCmd(flags *globalFlags) *cobra.Command {
	var reason string
	cmd := &cobra.Command{
		Use:   "fail <phase>",
		Short: "Mark a phase failed",
		Args:  cobra.ExactArgs(1),
		RunE: withSession(flags, func(cmd *cobra.Command, args []string, s *session) error {
			plan, err := s.engine.FailPhase(cmd.Context(), args[0], reason)
			if err != nil {
				return err
			}
			if s.json {
				return printJSON(s.out, plan)
			}
			printWarning(s.out, "Failed phase: %s", args[0])
			return nil
		}),
	}
	cmd.Flags().StringVarP(&reason, "reason", "r", "", "why the phase failed")
	return cmd
}

func newStatusCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the plan, progress and entry counts",
		Args:  cobra.NoArgs,
		RunE: withSession(flags, func(cmd *cobra.Command, args []string, s *session) error {
			st, err := s.engine.Status(cmd.Context())
			if err != nil {
				return err
			}
			if s.json {
				return printJSON(s.out, st)
			}
			printStatus(s.out, st)
			return nil
		}),
	}
}

func newNoteCmd(flags *globalFlags) *cobra.Command {
	var section string
	cmd := &cobra.Command{
		Use:   "note <content>",
		Short: "Record a note",
		Args:  cobra.ExactArgs(1),
		RunE: withSession(flags, func(cmd *cobra.Command, args []string, s *session) error {
			note, err := s.engine.AddNote(cmd.Context(), args[0], section)
			if err != nil {
				return err
			}
			if s.json {
				return printJSON(s.out, note)
			}
			printSuccess(s.out, "Added note %s", shortID(note.ID))
			return nil
		}),
	}
	cmd.Flags().StringVarP(&section, "section", "s", "", "section to file the note under")
	return cmd
}

func newNotesCmd(flags *globalFlags) *cobra.Command {
	var section string
	cmd := &cobra.Command{
		Use:   "notes",
		Short: "List notes",
		Args:  cobra.NoArgs,
		RunE: withSession(flags, func(cmd *cobra.Command, args []string, s *session) error {
			notes, err := s.engine.Notes(cmd.Context(), section)
			if err != nil {
				return err
			}
			if s.json {
				return printJSON(s.out, notes)
			}
			printNotes(s.out, notes)
			return nil
		}),
	}
	cmd.Flags().StringVarP(&section, "section", "s", "", "only notes in this section")
	return cmd
}

func newDecisionCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "decision <decision> <rationale>",
		Short: "Record a decision and its rationale",
		Args:  cobra.ExactArgs(2),
		RunE: withSession(flags, func(cmd *cobra.Command, args []string, s *session) error {
			d, err := s.engine.AddDecision(cmd.Context(), args[0], args[1])
			if err != nil {
				return err
			}
			if s.json {
				return printJSON(s.out, d)
			}
			printSuccess(s.out, "Recorded decision %s", shortID(d.ID))
			return nil
		}),
	}
}

func newDecisionsCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "decisions",
		Short: "List decisions",
		Args:  cobra.NoArgs,
		RunE: withSession(flags, func(cmd *cobra.Command, args []string, s *session) error {
			decisions, err := s.engine.Decisions(cmd.Context())
			if err != nil {
				return err
			}
			if s.json {
				return printJSON(s.out, decisions)
			}
			printDecisions(s.out, decisions)
			return nil
		}),
	}
}

func newErrorCmd(flags *globalFlags) *cobra.Command {
	var resolution string
	cmd := &cobra.Command{
		Use:   "error <message>",
		Short: "Log an error",
		Args:  cobra.ExactArgs(1),
		RunE: withSession(flags, func(cmd *cobra.Command, args []string, s *session) error {
			e, err := s.engine.LogError(cmd.Context(), args[0], resolution)
			if err != nil {
				return err
			}
			if s.json {
				return printJSON(s.out, e)
			}
			printSuccess(s.out, "Logged error %s", shortID(e.ID))
			return nil
		}),
	}
	cmd.Flags().StringVar(&resolution, "resolution", "", "how the error was resolved")
	return cmd
}

func newErrorsCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "errors",
		Short: "List logged errors",
		Args:  cobra.NoArgs,
		RunE: withSession(flags, func(cmd *cobra.Command, args []string, s *session) error {
			errs, err := s.engine.Errors(cmd.Context())
			if err != nil {
				return err
			}
			if s.json {
				return printJSON(s.out, errs)
			}
			printErrors(s.out, errs)
			return nil
		}),
	}
}

func newHistoryCmd(flags *globalFlags) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "history",
		Short: "List history versions, newest first (sqlite_history only)",
		Args:  cobra.NoArgs,
		RunE: withSession(flags, func(cmd *cobra.Command, args []string, s *session) error {
			entries, err := s.engine.History(cmd.Context(), limit)
			if err != nil {
				return err
			}
			if s.json {
				return printJSON(s.out, entries)
			}
			printHistory(s.out, entries)
			return nil
		}),
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "maximum number of versions")
	return cmd
}

func newRollbackCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "rollback <version>",
		Short: "Restore a history version, recording the rollback as a new version",
		Args:  cobra.ExactArgs(1),
		RunE: withSession(flags, func(cmd *cobra.Command, args []string, s *session) error {
			version, err := strconv.ParseInt(strings.TrimPrefix(args[0], "v"), 10, 64)
			if err != nil || version < 1 {
				return fmt.Errorf("invalid version %q", args[0])
			}
			st, err := s.engine.Rollback(cmd.Context(), version)
			if err != nil {
				return err
			}
			if s.json {
				return printJSON(s.out, st)
			}
			printSuccess(s.out, "Rolled back to version %d", version)
			return nil
		}),
	}
}

func newClearCmd(flags *globalFlags) *cobra.Command {
	var yes bool
	cmd := &cobra.Command{
		Use:   "clear",
		Short: "Reset to the empty state",
		Args:  cobra.NoArgs,
		RunE: withSession(flags, func(cmd *cobra.Command, args []string, s *session) error {
			if !yes {
				return fmt.Errorf("refusing to clear state without --yes")
			}
			if err := s.engine.Clear(cmd.Context()); err != nil {
				return err
			}
			if s.json {
				return printJSON(s.out, map[string]string{"message": "State cleared"})
			}
			printSuccess(s.out, "State cleared")
			return nil
		}),
	}
	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "confirm clearing")
	return cmd
}
