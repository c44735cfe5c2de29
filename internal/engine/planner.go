package engine

import (
	"caseline/internal/defs"
	"caseline/internal/domain"
	"caseline/internal/facts"
)

// PlanNextActions walks the current phase's workflows in declared order and
// emits at most one action per active workflow. Litigation phases resolve
// their workflows through the subphase list, current subphase first. Unknown
// workflow ids are skipped.
func PlanNextActions(lib *defs.Library, state *domain.CaseState, f *facts.CaseFacts) []domain.NextAction {
	phaseDef, ok := lib.Phase(state.CurrentPhase)
	if !ok {
		return nil
	}
	ctx := evalCtx{state: state, facts: f}
	var out []domain.NextAction

	if phaseDef.Track == defs.TrackLitigation {
		for _, spDef := range prioritizedSubphases(phaseDef, state.CurrentSubphase) {
			for _, wfID := range spDef.Workflows {
				st := subphaseWorkflowState(state, phaseDef.ID, spDef.ID, wfID)
				if a, ok := planWorkflow(lib, ctx, phaseDef.ID, spDef.ID, wfID, st); ok {
					out = append(out, a)
				}
			}
		}
		return out
	}

	for _, wfID := range phaseDef.Workflows {
		var st *domain.WorkflowState
		if ph := state.Phase(phaseDef.ID); ph != nil {
			st = ph.Workflows[wfID]
		}
		if a, ok := planWorkflow(lib, ctx, phaseDef.ID, "", wfID, st); ok {
			out = append(out, a)
		}
	}
	return out
}

// prioritizedSubphases keeps declaration order but moves the current
// subphase to the front so its work surfaces first.
func prioritizedSubphases(phaseDef defs.PhaseDef, current string) []defs.SubphaseDef {
	if current == "" {
		return phaseDef.Subphases
	}
	out := make([]defs.SubphaseDef, 0, len(phaseDef.Subphases))
	for _, sp := range phaseDef.Subphases {
		if sp.ID == current {
			out = append(out, sp)
		}
	}
	for _, sp := range phaseDef.Subphases {
		if sp.ID != current {
			out = append(out, sp)
		}
	}
	return out
}

func subphaseWorkflowState(state *domain.CaseState, phaseID, subphaseID, wfID string) *domain.WorkflowState {
	ph := state.Phase(phaseID)
	if ph == nil || ph.Subphases == nil || ph.Subphases[subphaseID] == nil {
		return nil
	}
	return ph.Subphases[subphaseID].Workflows[wfID]
}

func planWorkflow(lib *defs.Library, ctx evalCtx, phaseID, subphaseID, wfID string, st *domain.WorkflowState) (domain.NextAction, bool) {
	wfDef, ok := lib.Workflow(wfID)
	if !ok || len(wfDef.Steps) == 0 {
		return domain.NextAction{}, false
	}
	status := domain.StatusNotStarted
	if st != nil {
		status = st.Status
	}
	if domain.TerminalStatus(status) {
		return domain.NextAction{}, false
	}

	if status == domain.StatusNotStarted || status == "" {
		for _, req := range lib.Requires[wfID] {
			if !req.Eval(ctx) {
				return domain.NextAction{}, false
			}
		}
		return actionFor(phaseID, subphaseID, wfID, wfDef.Steps[0]), true
	}

	for _, step := range wfDef.Steps {
		if st != nil {
			if ss := st.Steps[step.ID]; ss != nil && domain.TerminalStatus(ss.Status) {
				continue
			}
		}
		if step.CondExpr != nil && !step.CondExpr.Eval(ctx) {
			continue
		}
		return actionFor(phaseID, subphaseID, wfID, step), true
	}
	return domain.NextAction{}, false
}

func actionFor(phaseID, subphaseID, wfID string, step defs.StepDef) domain.NextAction {
	return domain.NextAction{
		Description:    step.Description,
		Owner:          step.Owner,
		Phase:          phaseID,
		Subphase:       subphaseID,
		Workflow:       wfID,
		Step:           step.ID,
		Automatable:    step.Automatable,
		Prompt:         step.Prompt,
		ManualFallback: step.ManualFallback,
	}
}
