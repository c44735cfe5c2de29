// Package render turns a computed status view into markdown for an agent or
// human reader. Pure presentation: nothing here mutates case state.
package render

import (
	"fmt"
	"strings"

	"caseline/internal/defs"
	"caseline/internal/domain"
)

// Markdown renders the full status report: alerts first, then the statute
// line, recent completions, open pending items, and next actions.
func Markdown(view *domain.StatusView, lib *defs.Library) string {
	var b strings.Builder

	fmt.Fprintf(&b, "# Case %s — %s\n\n", view.CaseID, view.ClientName)
	fmt.Fprintf(&b, "**Phase:** %s", phaseName(lib, view.CurrentPhase))
	if view.CurrentSubphase != "" {
		fmt.Fprintf(&b, " / %s", view.CurrentSubphase)
	}
	b.WriteString("\n")

	if len(view.Alerts) > 0 {
		b.WriteString("\n## Alerts\n\n")
		for _, a := range view.Alerts {
			fmt.Fprintf(&b, "- %s %s\n", alertMarker(a.Level), a.Message)
		}
	}

	if view.SOL != nil {
		b.WriteString("\n## Statute of Limitations\n\n")
		b.WriteString(solLine(view.SOL))
		b.WriteString("\n")
	}

	if len(view.Landmarks) > 0 {
		b.WriteString("\n## Landmarks\n\n")
		for _, lm := range view.Landmarks {
			mark := "○"
			if lm.Met {
				mark = "✓"
			}
			line := fmt.Sprintf("- %s %s", mark, lm.Name)
			if !lm.Met && lm.Kind == defs.KindHardBlocker {
				line += " (blocks phase exit)"
			}
			if !lm.Met && lm.Kind == defs.KindSoftBlocker && lm.OverrideAllowed {
				line += " (soft blocker, override on approval)"
			}
			b.WriteString(line + "\n")
		}
	}

	if len(view.Corrections) > 0 {
		b.WriteString("\n## Applied Corrections\n\n")
		for _, c := range view.Corrections {
			loc := c.Phase
			if c.Subphase != "" {
				loc += "/" + c.Subphase
			}
			fmt.Fprintf(&b, "- %s (%s): %s → %s — %s\n", c.Workflow, loc, c.OldStatus, c.NewStatus, c.Reason)
		}
	}

	if len(view.RecentlyDone) > 0 {
		b.WriteString("\n## Recently Completed\n\n")
		for _, item := range view.RecentlyDone {
			fmt.Fprintf(&b, "- %s (%s)\n", item.Description, item.CompletedAt)
		}
	}

	if len(view.Pending) > 0 {
		b.WriteString("\n## Pending Items\n\n")
		for _, item := range view.Pending {
			line := item.Description
			if item.Blocking {
				line = "**[BLOCKING]** " + line
			}
			if item.DueDate != "" {
				line += " (due " + item.DueDate + ")"
			}
			fmt.Fprintf(&b, "- %s — owner: %s\n", line, item.Owner)
		}
	}

	if len(view.NextActions) > 0 {
		b.WriteString("\n## Next Actions\n\n")
		for i, a := range view.NextActions {
			fmt.Fprintf(&b, "%d. %s — owner: %s", i+1, a.Description, a.Owner)
			if a.Automatable {
				b.WriteString(" (automatable)")
			}
			b.WriteString("\n")
			if a.ManualFallback != "" {
				fmt.Fprintf(&b, "   - fallback: %s\n", a.ManualFallback)
			}
		}
	}

	if view.Suggestion != nil {
		sug := view.Suggestion
		b.WriteString("\n## Phase Change Suggested\n\n")
		fmt.Fprintf(&b, "%s → %s: %s\n\n", sug.FromPhase, sug.ToPhase, sug.Reason)
		for _, ev := range sug.Evidence {
			fmt.Fprintf(&b, "- %s\n", ev)
		}
		b.WriteString("\nApprove with `cl phase approve` or reject with `cl phase reject --reason <why>`.\n")
	}

	return b.String()
}

func solLine(sol *domain.SOLRecord) string {
	switch sol.Status {
	case domain.SOLFulfilled:
		return fmt.Sprintf("Status: **fulfilled** — %s", sol.Message)
	case domain.SOLUnknown:
		return fmt.Sprintf("Status: **unknown** — %s", sol.Message)
	}
	line := fmt.Sprintf("Status: **%s**", sol.Status)
	if sol.Deadline != "" {
		line += fmt.Sprintf(" — deadline %s", sol.Deadline)
	}
	if sol.DaysRemaining != nil {
		line += fmt.Sprintf(" (%d days remaining)", *sol.DaysRemaining)
	}
	if sol.Notes != "" {
		line += " — " + sol.Notes
	}
	return line
}

func alertMarker(level string) string {
	switch level {
	case "critical":
		return "🔴"
	case "warning":
		return "🟡"
	}
	return "ℹ️"
}

func phaseName(lib *defs.Library, phaseID string) string {
	if lib != nil {
		if p, ok := lib.Phase(phaseID); ok {
			return p.Name
		}
	}
	return phaseID
}
