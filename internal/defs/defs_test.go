package defs_test

import (
	"strings"
	"testing"

	"caseline/internal/defs"
)

func TestDefaultDefinitionsLoad(t *testing.T) {
	lib, err := defs.Default()
	if err != nil {
		t.Fatalf("embedded definitions must load: %v", err)
	}
	first, ok := lib.FirstPhase()
	if !ok || first.ID != "file_setup" {
		t.Fatalf("expected file_setup as the starting phase, got %+v", first)
	}
	ordered := lib.OrderedPhases()
	if ordered[len(ordered)-1].Track != defs.TrackTerminal {
		t.Fatalf("last phase should be terminal, got %+v", ordered[len(ordered)-1])
	}
	lit, ok := lib.Phase("litigation")
	if !ok || len(lit.Subphases) == 0 {
		t.Fatalf("litigation phase must carry subphases")
	}
	for wfID, sub := range lib.LitigationMap {
		if _, ok := lib.Workflow(wfID); !ok {
			t.Fatalf("litigation_map references unknown workflow %s", wfID)
		}
		if _, ok := lit.Subphase(sub); !ok {
			t.Fatalf("litigation_map routes %s to unknown subphase %s", wfID, sub)
		}
	}
	// every phase workflow must exist
	for _, p := range ordered {
		for _, wfID := range p.Workflows {
			if _, ok := lib.Workflow(wfID); !ok {
				t.Fatalf("phase %s lists unknown workflow %s", p.ID, wfID)
			}
		}
	}
	// dependency expressions are parsed at load time
	if len(lib.Requires["send_demand"]) != 2 {
		t.Fatalf("send_demand should carry two parsed dependencies, got %+v", lib.RequiresText["send_demand"])
	}
}

func TestStepConditionsParsedAtLoad(t *testing.T) {
	lib, err := defs.Default()
	if err != nil {
		t.Fatal(err)
	}
	wf, _ := lib.Workflow("sign_retainer")
	var conditioned bool
	for _, s := range wf.Steps {
		if s.Condition != "" {
			if s.CondExpr == nil {
				t.Fatalf("step %s condition was not parsed", s.ID)
			}
			conditioned = true
		}
	}
	if !conditioned {
		t.Fatalf("expected at least one conditional step in sign_retainer")
	}
}

func TestMalformedConditionIsLoadError(t *testing.T) {
	doc := `{
	  "phases": {"p": {"name": "P", "order": 0, "track": "pre_litigation", "workflows": ["w"], "exit_criteria": {}}},
	  "workflows": {"w": {"name": "W", "steps": [{"id": "s", "description": "d", "owner": "user", "condition": "a =="}]}}
	}`
	if _, err := defs.FromJSON([]byte(doc)); err == nil {
		t.Fatalf("malformed condition must fail at load time")
	}
}

func TestValidationRejectsBadReferences(t *testing.T) {
	cases := map[string]string{
		"unknown next_phase": `{
		  "phases": {"p": {"name": "P", "order": 0, "track": "pre_litigation", "next_phase": "ghost", "exit_criteria": {}}},
		  "workflows": {}
		}`,
		"no order zero phase": `{
		  "phases": {"p": {"name": "P", "order": 1, "track": "pre_litigation", "exit_criteria": {}}},
		  "workflows": {}
		}`,
		"litigation without subphases": `{
		  "phases": {"p": {"name": "P", "order": 0, "track": "litigation", "exit_criteria": {}}},
		  "workflows": {}
		}`,
		"overridable hard blocker": `{
		  "phases": {"p": {"name": "P", "order": 0, "track": "pre_litigation", "exit_criteria": {}}},
		  "workflows": {},
		  "landmarks": {"l": {"name": "L", "phase": "p", "kind": "hard_blocker", "override_allowed": true}}
		}`,
	}
	for name, doc := range cases {
		if _, err := defs.FromJSON([]byte(doc)); err == nil {
			t.Fatalf("%s: expected a validation error", name)
		} else if strings.TrimSpace(err.Error()) == "" {
			t.Fatalf("%s: error should carry a message", name)
		}
	}
}
