package render_test

import (
	"strings"
	"testing"

	"caseline/internal/defs"
	"caseline/internal/domain"
	"caseline/internal/render"
)

func TestMarkdownOrdersSections(t *testing.T) {
	lib, err := defs.Default()
	if err != nil {
		t.Fatal(err)
	}
	days := 10
	view := &domain.StatusView{
		CaseID:       "mva-smith",
		ClientName:   "Jane Smith",
		CurrentPhase: "treatment",
		Alerts: []domain.Alert{
			{Kind: "sol", Level: "critical", Message: "statute deadline in 10 days"},
		},
		SOL: &domain.SOLRecord{Status: domain.SOLCritical, Deadline: "2021-06-11", DaysRemaining: &days},
		RecentlyDone: []domain.CompletedItem{
			{Description: "Open Bodily Injury Claim", Phase: "file_setup", Workflow: "open_bi_claim", CompletedAt: "2021-05-01T00:00:00Z"},
		},
		Pending: []domain.PendingItem{
			{ID: "p1", Description: "obtain police report", Owner: "user", Blocking: true},
		},
		NextActions: []domain.NextAction{
			{Description: "Check in with client", Owner: "agent", Workflow: "treatment_monitoring", Step: "check_in_client", Automatable: true, ManualFallback: "call the client"},
		},
	}
	out := render.Markdown(view, lib)

	for _, want := range []string{
		"Jane Smith", "Treatment", "statute deadline in 10 days",
		"10 days remaining", "Open Bodily Injury Claim",
		"[BLOCKING]", "obtain police report",
		"Check in with client", "(automatable)", "fallback: call the client",
	} {
		if !strings.Contains(out, want) {
			t.Fatalf("output missing %q:\n%s", want, out)
		}
	}
	// alerts come before next actions
	if strings.Index(out, "Alerts") > strings.Index(out, "Next Actions") {
		t.Fatalf("alerts must render before next actions")
	}
}

func TestMarkdownLandmarks(t *testing.T) {
	view := &domain.StatusView{
		CaseID:       "mva-y",
		ClientName:   "Y",
		CurrentPhase: "file_setup",
		Landmarks: []domain.LandmarkStatus{
			{ID: "retainer_signed", Name: "Retainer Signed", Kind: "hard_blocker", Met: false},
			{ID: "bi_claim_open", Name: "BI Claim Opened", Kind: "progress", Met: true},
			{ID: "liens_cleared", Name: "Liens Cleared", Kind: "soft_blocker", Met: false, OverrideAllowed: true},
		},
	}
	out := render.Markdown(view, nil)
	for _, want := range []string{
		"## Landmarks",
		"○ Retainer Signed (blocks phase exit)",
		"✓ BI Claim Opened",
		"○ Liens Cleared (soft blocker, override on approval)",
	} {
		if !strings.Contains(out, want) {
			t.Fatalf("output missing %q:\n%s", want, out)
		}
	}
}

func TestMarkdownSuggestionBlock(t *testing.T) {
	view := &domain.StatusView{
		CaseID:       "mva-x",
		ClientName:   "X",
		CurrentPhase: "file_setup",
		Suggestion: &domain.PhaseSuggestion{
			FromPhase: "file_setup",
			ToPhase:   "treatment",
			Reason:    "all exit criteria for File Setup are met",
			Evidence:  []string{"✓ retainer signed"},
		},
	}
	out := render.Markdown(view, nil)
	if !strings.Contains(out, "file_setup → treatment") || !strings.Contains(out, "✓ retainer signed") {
		t.Fatalf("suggestion block incomplete:\n%s", out)
	}
}
