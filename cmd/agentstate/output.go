// ABOUTME: Human-readable and JSON rendering of command results
// ABOUTME: Uses fatih/color for status markers; --json bypasses all formatting

package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/fatih/color"

	"github.com/2389/agentstate/internal/engine"
	"github.com/2389/agentstate/internal/state"
	"github.com/2389/agentstate/internal/store"
)

var (
	green  = color.New(color.FgGreen)
	cyan   = color.New(color.FgCyan)
	yellow = color.New(color.FgYellow)
	red    = color.New(color.FgRed)
	gray   = color.New(color.FgHiBlack)
	bold   = color.New(color.Bold)
)

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func printSuccess(w io.Writer, format string, args ...any) {
	green.Fprint(w, "  ✓ ")
	fmt.Fprintf(w, format+"\n", args...)
}

func printInfo(w io.Writer, format string, args ...any) {
	cyan.Fprint(w, "  ▶ ")
	fmt.Fprintf(w, format+"\n", args...)
}

func printWarning(w io.Writer, format string, args ...any) {
	yellow.Fprint(w, "  ✗ ")
	fmt.Fprintf(w, format+"\n", args...)
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func phaseMarker(s state.PhaseStatus) string {
	switch s {
	case state.PhaseCompleted:
		return green.Sprint("[x]")
	case state.PhaseInProgress:
		return cyan.Sprint("[>]")
	case state.PhaseFailed:
		return red.Sprint("[!]")
	default:
		return gray.Sprint("[ ]")
	}
}

func printPlan(w io.Writer, plan *state.TaskPlan) {
	for i, ph := range plan.Phases {
		fmt.Fprintf(w, "    %s %d. %s", phaseMarker(ph.Status), i+1, ph.Name)
		if ph.ErrorMessage != "" {
			red.Fprintf(w, " (%s)", ph.ErrorMessage)
		}
		fmt.Fprintln(w)
	}
}

func printStatus(w io.Writer, st *engine.Status) {
	bold.Fprintln(w, "Agent state")
	gray.Fprintf(w, "  backend: %s  schema: v%d\n\n", st.Backend, st.SchemaVersion)

	if !st.HasPlan {
		fmt.Fprintln(w, "  No active plan")
	} else {
		fmt.Fprintf(w, "  Goal:     %s\n", st.Plan.Goal)
		fmt.Fprintf(w, "  Status:   %s\n", st.Plan.Status)
		fmt.Fprintf(w, "  Progress: %.1f%%\n", st.Progress)
		if st.CurrentPhase != "" {
			fmt.Fprintf(w, "  Current:  %s\n", st.CurrentPhase)
		}
		printPlan(w, st.Plan)
	}

	fmt.Fprintln(w)
	fmt.Fprintf(w, "  Notes: %d  Decisions: %d  Errors: %d\n", st.NotesCount, st.DecisionsCount, st.ErrorsCount)
}

func printNotes(w io.Writer, notes []state.Note) {
	if len(notes) == 0 {
		gray.Fprintln(w, "  No notes")
		return
	}
	for _, n := range notes {
		gray.Fprintf(w, "  %s %s ", shortID(n.ID), n.CreatedAt.Format(time.DateTime))
		if n.Section != "" {
			cyan.Fprintf(w, "[%s] ", n.Section)
		}
		fmt.Fprintln(w, n.Content)
	}
}

func printDecisions(w io.Writer, decisions []state.Decision) {
	if len(decisions) == 0 {
		gray.Fprintln(w, "  No decisions")
		return
	}
	for _, d := range decisions {
		gray.Fprintf(w, "  %s %s ", shortID(d.ID), d.CreatedAt.Format(time.DateTime))
		fmt.Fprintln(w, d.Decision)
		gray.Fprintf(w, "      because %s\n", d.Rationale)
	}
}

func printErrors(w io.Writer, errs []state.ErrorLog) {
	if len(errs) == 0 {
		gray.Fprintln(w, "  No errors")
		return
	}
	for _, e := range errs {
		gray.Fprintf(w, "  %s %s ", shortID(e.ID), e.CreatedAt.Format(time.DateTime))
		red.Fprintln(w, e.Error)
		if e.Resolution != "" {
			green.Fprintf(w, "      resolved: %s\n", e.Resolution)
		}
	}
}

func printHistory(w io.Writer, entries []*store.HistoryEntry) {
	if len(entries) == 0 {
		gray.Fprintln(w, "  No history")
		return
	}
	for _, e := range entries {
		fmt.Fprintf(w, "  v%-5d ", e.Version)
		gray.Fprintf(w, "%s ", e.CreatedAt.Format(time.DateTime))
		kind := string(e.ChangeType)
		if e.SourceVersion != nil {
			kind = fmt.Sprintf("%s from v%d", kind, *e.SourceVersion)
		}
		switch e.ChangeType {
		case store.ChangeRollback:
			yellow.Fprint(w, kind)
		case store.ChangeClear:
			red.Fprint(w, kind)
		default:
			fmt.Fprint(w, kind)
		}
		if st, err := e.State(); err == nil && st.Plan != nil {
			gray.Fprintf(w, "  %s", truncate(st.Plan.Goal, 40))
		}
		fmt.Fprintln(w)
	}
}

func truncate(s string, n int) string {
	s = strings.TrimSpace(s)
	if len([]rune(s)) <= n {
		return s
	}
	return string([]rune(s)[:n-1]) + "…"
}
