package engine

import (
	"fmt"
	"sort"

	"caseline/internal/defs"
	"caseline/internal/domain"
	"caseline/internal/facts"
)

// EvaluateGate checks the current phase's exit criteria and returns a phase
// change suggestion when every hard blocker and every listed workflow is
// satisfied. Hard blockers come from the phase's exit criteria merged with
// its hard-blocker landmarks. An unmet soft-blocker landmark holds the gate
// unless it allows override, in which case the suggestion carries a warning
// and approval is the override. It never touches current_phase; the
// suggestion waits for explicit approval. Terminal phases and phases without
// a successor yield nil.
func EvaluateGate(lib *defs.Library, state *domain.CaseState, f *facts.CaseFacts, now string) *domain.PhaseSuggestion {
	phaseDef, ok := lib.Phase(state.CurrentPhase)
	if !ok || phaseDef.Track == defs.TrackTerminal || phaseDef.NextPhase == "" {
		return nil
	}

	ctx := evalCtx{state: state, facts: f}
	var evidence, criteriaMet []string

	blockers := hardBlockers(lib, phaseDef)
	names := make([]string, 0, len(blockers))
	for name := range blockers {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		crit := blockers[name]
		if !criterionMet(ctx, crit) {
			return nil
		}
		criteriaMet = append(criteriaMet, name)
		evidence = append(evidence, evidenceFor(f, crit.FieldPath))
	}

	for _, wfID := range phaseWorkflows(phaseDef) {
		st := workflowStatusIn(state, phaseDef, wfID)
		if !domain.TerminalStatus(st) {
			return nil
		}
		evidence = append(evidence, "✓ workflow "+wfID+" "+st)
	}

	for _, lm := range lib.PhaseLandmarks(phaseDef.ID) {
		if lm.Kind != defs.KindSoftBlocker || lm.FieldPath == "" {
			continue
		}
		if criterionMet(ctx, defs.Criterion{FieldPath: lm.FieldPath, RequiredValue: lm.RequiredValue}) {
			continue
		}
		if !lm.OverrideAllowed {
			return nil
		}
		evidence = append(evidence, "⚠ "+lm.Name+" not met; approval overrides")
	}

	return &domain.PhaseSuggestion{
		FromPhase:   phaseDef.ID,
		ToPhase:     phaseDef.NextPhase,
		Reason:      fmt.Sprintf("all exit criteria for %s are met", phaseDef.Name),
		Evidence:    evidence,
		CriteriaMet: criteriaMet,
		SuggestedAt: now,
	}
}

// hardBlockers merges the phase's exit criteria with its hard-blocker
// landmarks. A landmark sharing a criterion's name refines the same check
// rather than doubling it.
func hardBlockers(lib *defs.Library, phaseDef defs.PhaseDef) map[string]defs.Criterion {
	out := map[string]defs.Criterion{}
	for name, crit := range phaseDef.ExitCriteria.HardBlockers {
		out[name] = crit
	}
	for _, lm := range lib.PhaseLandmarks(phaseDef.ID) {
		if lm.Kind != defs.KindHardBlocker || lm.FieldPath == "" {
			continue
		}
		if _, ok := out[lm.ID]; ok {
			continue
		}
		out[lm.ID] = defs.Criterion{FieldPath: lm.FieldPath, RequiredValue: lm.RequiredValue}
	}
	return out
}

// EvaluateLandmarks reports each of the phase's landmarks against the live
// state and facts. A landmark is met when its field-path criterion holds, or
// failing that, when a workflow that achieves it reached a terminal status.
func EvaluateLandmarks(lib *defs.Library, state *domain.CaseState, f *facts.CaseFacts, phaseID string) []domain.LandmarkStatus {
	ctx := evalCtx{state: state, facts: f}
	var out []domain.LandmarkStatus
	for _, lm := range lib.PhaseLandmarks(phaseID) {
		met := false
		if lm.FieldPath != "" {
			met = criterionMet(ctx, defs.Criterion{FieldPath: lm.FieldPath, RequiredValue: lm.RequiredValue})
		}
		if !met {
			for _, wfID := range lm.AchievedBy {
				if workflowComplete(state, wfID) {
					met = true
					break
				}
			}
		}
		out = append(out, domain.LandmarkStatus{
			ID:              lm.ID,
			Name:            lm.Name,
			Kind:            lm.Kind,
			Met:             met,
			OverrideAllowed: lm.OverrideAllowed,
		})
	}
	return out
}

// phaseWorkflows returns the workflows the gate must see finished: the
// phase's own list, plus every subphase workflow on the litigation track.
func phaseWorkflows(phaseDef defs.PhaseDef) []string {
	out := append([]string{}, phaseDef.Workflows...)
	for _, sp := range phaseDef.Subphases {
		out = append(out, sp.Workflows...)
	}
	return out
}

func workflowStatusIn(state *domain.CaseState, phaseDef defs.PhaseDef, wfID string) string {
	if st := phaseWorkflowStatus(state, phaseDef.ID, wfID); st != domain.StatusNotStarted {
		return st
	}
	for _, sp := range phaseDef.Subphases {
		if st := subphaseWorkflowStatus(state, phaseDef.ID, sp.ID, wfID); st != domain.StatusNotStarted {
			return st
		}
	}
	return domain.StatusNotStarted
}

// ApproveSuggestion resolves the pending suggestion. Approval is the only
// code path that writes current_phase: it closes the old phase, opens the
// successor with fresh workflow maps, and appends to the phase history.
// Rejection records the decision and reason. Either way the pending
// suggestion is cleared. With no suggestion pending this is a silent no-op.
func ApproveSuggestion(lib *defs.Library, state *domain.CaseState, approve bool, reason, actorID, now string) bool {
	sug := state.Suggestion
	if sug == nil {
		return false
	}
	entry := domain.PhaseChange{
		FromPhase: sug.FromPhase,
		ToPhase:   sug.ToPhase,
		Approved:  approve,
		Reason:    reason,
		Evidence:  sug.Evidence,
		ChangedAt: now,
		ActorID:   actorID,
	}
	if approve {
		old := state.EnsurePhase(sug.FromPhase)
		old.Status = domain.StatusComplete
		old.CompletedAt = now

		state.CurrentPhase = sug.ToPhase
		state.CurrentSubphase = ""
		// workflow state recorded ahead of the change survives the opening
		next := state.EnsurePhase(sug.ToPhase)
		next.Status = domain.StatusInProgress
		next.EnteredAt = now
		if nextDef, ok := lib.Phase(sug.ToPhase); ok && nextDef.Track == defs.TrackLitigation {
			if len(nextDef.Subphases) > 0 {
				first := nextDef.Subphases[0]
				state.CurrentSubphase = first.ID
				sp := next.EnsureSubphase(first.ID)
				if sp.Status == "" || sp.Status == domain.StatusNotStarted {
					sp.Status = domain.StatusInProgress
					sp.EnteredAt = now
				}
			}
		}
	}
	state.History = append(state.History, entry)
	state.Suggestion = nil
	state.UpdatedAt = now
	return true
}
