package engine_test

import (
	"testing"

	"caseline/internal/defs"
	"caseline/internal/domain"
	"caseline/internal/engine"
	"caseline/internal/facts"
)

const plannerDefs = `{
  "phases": {
    "p1": {
      "name": "Phase One",
      "order": 0,
      "track": "pre_litigation",
      "next_phase": "p2",
      "workflows": ["alpha", "beta"],
      "exit_criteria": {}
    },
    "p2": {"name": "Phase Two", "order": 1, "track": "terminal", "exit_criteria": {}}
  },
  "workflows": {
    "alpha": {
      "name": "Alpha",
      "steps": [
        {"id": "s1", "description": "first", "owner": "user"},
        {"id": "s2", "description": "second", "owner": "user", "condition": "documents.report.signed"},
        {"id": "s3", "description": "third", "owner": "agent", "automatable": true, "prompt": "do it", "manual_fallback": "by hand"}
      ]
    },
    "beta": {
      "name": "Beta",
      "steps": [{"id": "b1", "description": "beta first", "owner": "client"}]
    }
  },
  "workflow_dependencies": {
    "beta": ["workflow.alpha.complete"]
  }
}`

func plannerLib(t *testing.T) *defs.Library {
	t.Helper()
	lib, err := defs.FromJSON([]byte(plannerDefs))
	if err != nil {
		t.Fatalf("load planner defs: %v", err)
	}
	return lib
}

// s1 complete, s2 condition unmet, s3 unconditional: the planner must emit s3.
func TestPlannerSkipsDoneAndConditionUnmetSteps(t *testing.T) {
	lib := plannerLib(t)
	state := &domain.CaseState{ID: "c1", CurrentPhase: "p1", Phases: map[string]*domain.PhaseState{}}
	wf := state.EnsurePhase("p1").EnsureWorkflow("alpha")
	wf.Status = domain.StatusInProgress
	wf.Steps["s1"] = &domain.StepState{Status: domain.StatusComplete, CompletedAt: "2021-01-02T00:00:00Z"}

	actions := engine.PlanNextActions(lib, state, &facts.CaseFacts{})
	if len(actions) != 1 {
		t.Fatalf("expected one action, got %+v", actions)
	}
	a := actions[0]
	if a.Workflow != "alpha" || a.Step != "s3" {
		t.Fatalf("expected alpha/s3, got %s/%s", a.Workflow, a.Step)
	}
	if !a.Automatable || a.Prompt != "do it" || a.ManualFallback != "by hand" {
		t.Fatalf("step metadata not carried through: %+v", a)
	}
}

func TestPlannerHoldsWorkflowBehindDependency(t *testing.T) {
	lib := plannerLib(t)
	state := &domain.CaseState{ID: "c1", CurrentPhase: "p1", Phases: map[string]*domain.PhaseState{}}
	state.EnsurePhase("p1")

	// alpha not complete: beta must not surface
	actions := engine.PlanNextActions(lib, state, &facts.CaseFacts{})
	for _, a := range actions {
		if a.Workflow == "beta" {
			t.Fatalf("beta surfaced before its dependency: %+v", actions)
		}
	}

	wf := state.EnsurePhase("p1").EnsureWorkflow("alpha")
	wf.Status = domain.StatusComplete
	actions = engine.PlanNextActions(lib, state, &facts.CaseFacts{})
	if len(actions) != 1 || actions[0].Workflow != "beta" || actions[0].Step != "b1" {
		t.Fatalf("expected beta/b1 once alpha completes, got %+v", actions)
	}
}

func TestPlannerPrioritizesCurrentSubphase(t *testing.T) {
	lib, err := defs.Default()
	if err != nil {
		t.Fatal(err)
	}
	state := &domain.CaseState{
		ID:              "lit-1",
		CurrentPhase:    "litigation",
		CurrentSubphase: "discovery",
		Phases:          map[string]*domain.PhaseState{},
	}
	ph := state.EnsurePhase("litigation")
	// complaint subphase finished
	sp := ph.EnsureSubphase("complaint")
	for _, wf := range []string{"file_complaint", "serve_defendant"} {
		w := sp.EnsureWorkflow(wf)
		w.Status = domain.StatusComplete
	}
	f := &facts.CaseFacts{
		Documents:  map[string]facts.Document{"retainer": {Name: "retainer", Signed: true}},
		Litigation: facts.Litigation{ComplaintFiledDate: "2021-02-01"},
	}
	actions := engine.PlanNextActions(lib, state, f)
	if len(actions) == 0 {
		t.Fatalf("expected actions in the discovery subphase")
	}
	if actions[0].Subphase != "discovery" {
		t.Fatalf("expected discovery work first, got %+v", actions[0])
	}
}
