package engine

import (
	"caseline/internal/defs"
	"caseline/internal/domain"
	"caseline/internal/facts"
)

// litigationFacts maps litigation workflows to the fact that proves them.
// The subphase each workflow lands in comes from the definition library's
// litigation map.
func litigationSuggestion(workflowID string, lit facts.Litigation) Suggestion {
	switch workflowID {
	case "file_complaint":
		if lit.ComplaintFiledDate != "" {
			return Suggestion{domain.StatusComplete, "complaint is filed", "filed " + lit.ComplaintFiledDate}
		}
	case "serve_defendant":
		if lit.ServiceDate != "" {
			return Suggestion{domain.StatusComplete, "defendant has been served", "served " + lit.ServiceDate}
		}
	case "propound_discovery":
		if lit.DiscoveryRequestDate != "" {
			return Suggestion{domain.StatusComplete, "discovery propounded", "requested " + lit.DiscoveryRequestDate}
		}
	case "respond_discovery":
		if lit.DiscoveryResponseDate != "" {
			return Suggestion{domain.StatusComplete, "discovery responses served", "responded " + lit.DiscoveryResponseDate}
		}
	case "take_depositions":
		if lit.DepositionDate != "" {
			return Suggestion{domain.StatusComplete, "depositions taken", "deposed " + lit.DepositionDate}
		}
	case "schedule_mediation":
		if lit.MediationDate != "" {
			return Suggestion{domain.StatusComplete, "mediation scheduled", "mediation " + lit.MediationDate}
		}
	case "prepare_trial":
		if lit.TrialDate != "" {
			return Suggestion{domain.StatusInProgress, "trial date is set", "trial " + lit.TrialDate}
		}
	}
	return Suggestion{}
}

// DeriveCorrections compares persisted workflow status against the facts
// snapshot and returns the monotonic upgrades that should be applied. It is
// pure: the case state is not touched. Re-running with unchanged facts after
// ApplyCorrections yields an empty list.
func DeriveCorrections(lib *defs.Library, state *domain.CaseState, f *facts.CaseFacts) []domain.Correction {
	// no facts means no evidence: nothing to correct
	if lib == nil || state == nil || f == nil {
		return nil
	}
	var out []domain.Correction
	for _, phaseDef := range lib.OrderedPhases() {
		if phaseDef.Track == defs.TrackLitigation {
			for _, spDef := range phaseDef.Subphases {
				for _, wfID := range spDef.Workflows {
					cur := subphaseWorkflowStatus(state, phaseDef.ID, spDef.ID, wfID)
					s := litigationSuggestion(wfID, f.Litigation)
					if c, ok := correctionFor(phaseDef.ID, spDef.ID, wfID, cur, s); ok {
						out = append(out, c)
					}
				}
			}
			continue
		}
		for _, wfID := range phaseDef.Workflows {
			cur := phaseWorkflowStatus(state, phaseDef.ID, wfID)
			if domain.TerminalStatus(cur) {
				continue
			}
			s := Derive(wfID, f)
			if c, ok := correctionFor(phaseDef.ID, "", wfID, cur, s); ok {
				out = append(out, c)
			}
		}
	}
	return out
}

func correctionFor(phaseID, subphaseID, wfID, current string, s Suggestion) (domain.Correction, bool) {
	if s.Status == "" {
		return domain.Correction{}, false
	}
	if domain.StatusRank(s.Status) <= domain.StatusRank(current) {
		return domain.Correction{}, false
	}
	if current == "" {
		current = domain.StatusNotStarted
	}
	return domain.Correction{
		Workflow:  wfID,
		Phase:     phaseID,
		Subphase:  subphaseID,
		OldStatus: current,
		NewStatus: s.Status,
		Reason:    s.Reason,
		Evidence:  s.Evidence,
	}, true
}

func phaseWorkflowStatus(state *domain.CaseState, phaseID, wfID string) string {
	ph := state.Phase(phaseID)
	if ph == nil {
		return domain.StatusNotStarted
	}
	if w := ph.Workflows[wfID]; w != nil {
		return w.Status
	}
	return domain.StatusNotStarted
}

func subphaseWorkflowStatus(state *domain.CaseState, phaseID, subphaseID, wfID string) string {
	ph := state.Phase(phaseID)
	if ph == nil || ph.Subphases == nil {
		return domain.StatusNotStarted
	}
	sp := ph.Subphases[subphaseID]
	if sp == nil {
		return domain.StatusNotStarted
	}
	if w := sp.Workflows[wfID]; w != nil {
		return w.Status
	}
	return domain.StatusNotStarted
}

// ApplyCorrections mutates the case state with the derived upgrades, stamping
// started/completed timestamps as statuses cross those boundaries.
func ApplyCorrections(state *domain.CaseState, corrections []domain.Correction, now string) {
	for _, c := range corrections {
		ph := state.EnsurePhase(c.Phase)
		var wf *domain.WorkflowState
		if c.Subphase != "" {
			wf = ph.EnsureSubphase(c.Subphase).EnsureWorkflow(c.Workflow)
		} else {
			wf = ph.EnsureWorkflow(c.Workflow)
		}
		if domain.StatusRank(c.NewStatus) <= domain.StatusRank(wf.Status) {
			continue
		}
		if wf.Status == "" || wf.Status == domain.StatusNotStarted {
			wf.StartedAt = now
		}
		wf.Status = c.NewStatus
		if domain.TerminalStatus(c.NewStatus) {
			wf.CompletedAt = now
		}
	}
	state.UpdatedAt = now
}

// AdvanceSubphase moves the litigation pointer to the first subphase that
// still has open workflows, marking fully-terminal predecessors complete.
// No-op outside the litigation track.
func AdvanceSubphase(lib *defs.Library, state *domain.CaseState, now string) bool {
	phaseDef, ok := lib.Phase(state.CurrentPhase)
	if !ok || phaseDef.Track != defs.TrackLitigation {
		return false
	}
	ph := state.EnsurePhase(state.CurrentPhase)
	changed := false
	for _, spDef := range phaseDef.Subphases {
		sp := ph.EnsureSubphase(spDef.ID)
		if !subphaseDone(spDef, sp) {
			if state.CurrentSubphase != spDef.ID {
				state.CurrentSubphase = spDef.ID
				if sp.Status == domain.StatusNotStarted {
					sp.Status = domain.StatusInProgress
					sp.EnteredAt = now
				}
				changed = true
			}
			return changed
		}
		if sp.Status != domain.StatusComplete {
			sp.Status = domain.StatusComplete
			sp.CompletedAt = now
			changed = true
		}
	}
	return changed
}

func subphaseDone(def defs.SubphaseDef, sp *domain.SubphaseState) bool {
	for _, wfID := range def.Workflows {
		w := sp.Workflows[wfID]
		if w == nil || !domain.TerminalStatus(w.Status) {
			return false
		}
	}
	return len(def.Workflows) > 0
}
