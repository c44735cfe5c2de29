package engine_test

import (
	"context"
	"strings"
	"testing"
	"time"

	"caseline/internal/config"
	"caseline/internal/db"
	"caseline/internal/defs"
	"caseline/internal/domain"
	"caseline/internal/engine"
	"caseline/internal/facts"
	"caseline/internal/migrate"
)

type testEnv struct {
	Engine engine.Engine
	Facts  map[string]*facts.CaseFacts
	Ctx    context.Context
}

func newTestEnv(t *testing.T) testEnv {
	t.Helper()
	dir := t.TempDir()
	conn, err := db.Open(db.Config{Workspace: dir})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	lib, err := defs.Default()
	if err != nil {
		t.Fatalf("load definitions: %v", err)
	}
	byCase := map[string]*facts.CaseFacts{}
	eng := engine.New(conn, config.Default("firm-1"), lib, facts.Static{ByCase: byCase})
	eng.Now = func() time.Time { return time.Date(2021, 6, 1, 0, 0, 0, 0, time.UTC) }
	return testEnv{Engine: eng, Facts: byCase, Ctx: context.Background()}
}

func (env testEnv) setFacts(caseID string, f *facts.CaseFacts) {
	f.Overview.CaseID = caseID
	env.Facts[caseID] = f
}

func TestCreateCaseStartsInFirstPhaseWithSOL(t *testing.T) {
	env := newTestEnv(t)
	state, err := env.Engine.CreateCase(env.Ctx, engine.CreateCaseParams{
		ID:           "mva-smith",
		ClientName:   "Jane Smith",
		AccidentDate: "2021-01-01",
		AccidentType: "motor vehicle",
	}, "tester")
	if err != nil {
		t.Fatalf("create case: %v", err)
	}
	if state.CurrentPhase != "file_setup" {
		t.Fatalf("expected file_setup, got %s", state.CurrentPhase)
	}
	if state.Phases["file_setup"].Status != domain.StatusInProgress {
		t.Fatalf("first phase should be in_progress")
	}
	sol := state.SOL
	if sol == nil || sol.Status != domain.SOLSafe {
		t.Fatalf("expected safe SOL, got %+v", sol)
	}
	if sol.Deadline != "2023-01-01" {
		t.Fatalf("expected deadline 2023-01-01 (2x365 days), got %s", sol.Deadline)
	}
	if sol.DaysRemaining == nil || *sol.DaysRemaining != 579 {
		t.Fatalf("expected 579 days remaining, got %v", sol.DaysRemaining)
	}
}

func TestSyncDerivesClaimCompletion(t *testing.T) {
	env := newTestEnv(t)
	if _, err := env.Engine.CreateCase(env.Ctx, engine.CreateCaseParams{
		ID: "mva-jones", ClientName: "Bob Jones", AccidentDate: "2021-01-01",
	}, "tester"); err != nil {
		t.Fatal(err)
	}
	env.setFacts("mva-jones", &facts.CaseFacts{
		Claims: map[string][]facts.Claim{
			"bi": {{Type: "bi", Insurer: "Acme Mutual", ClaimNumber: "123"}},
		},
	})

	corrections, state, err := env.Engine.Sync(env.Ctx, "mva-jones", "tester")
	if err != nil {
		t.Fatalf("sync: %v", err)
	}
	var found *domain.Correction
	for i := range corrections {
		if corrections[i].Workflow == "open_bi_claim" {
			found = &corrections[i]
		}
	}
	if found == nil {
		t.Fatalf("expected a correction for open_bi_claim, got %+v", corrections)
	}
	if found.NewStatus != domain.StatusComplete || found.OldStatus != domain.StatusNotStarted {
		t.Fatalf("unexpected correction %+v", found)
	}
	if !strings.Contains(found.Evidence, "123") {
		t.Fatalf("evidence should cite the claim number, got %q", found.Evidence)
	}
	wf := state.Phases["file_setup"].Workflows["open_bi_claim"]
	if wf == nil || wf.Status != domain.StatusComplete || wf.CompletedAt == "" {
		t.Fatalf("workflow state not upgraded: %+v", wf)
	}

	// idempotent: unchanged facts yield no further corrections
	again, _, err := env.Engine.Sync(env.Ctx, "mva-jones", "tester")
	if err != nil {
		t.Fatalf("second sync: %v", err)
	}
	if len(again) != 0 {
		t.Fatalf("expected no corrections on re-run, got %+v", again)
	}

	// monotonic: removing the evidence never downgrades
	env.setFacts("mva-jones", &facts.CaseFacts{})
	_, state, err = env.Engine.Sync(env.Ctx, "mva-jones", "tester")
	if err != nil {
		t.Fatal(err)
	}
	if state.Phases["file_setup"].Workflows["open_bi_claim"].Status != domain.StatusComplete {
		t.Fatalf("sync downgraded a completed workflow")
	}
}

// completeSetupFacts drives every file_setup workflow to complete except
// sign_retainer, which the test controls through the retainer document.
func completeSetupFacts(retainerSigned bool) *facts.CaseFacts {
	return &facts.CaseFacts{
		Claims: map[string][]facts.Claim{
			"bi": {{Type: "bi", Insurer: "Acme Mutual", ClaimNumber: "123", PolicyLimit: 100000}},
			"pd": {{Type: "pd", Insurer: "Acme Mutual", ClaimNumber: "PD-9"}},
		},
		Documents: map[string]facts.Document{
			"retainer": {Name: "retainer", Signed: retainerSigned, SentAt: "2021-02-01", SignedAt: "2021-02-03"},
		},
	}
}

func TestGateRespectsHardBlocker(t *testing.T) {
	env := newTestEnv(t)
	if _, err := env.Engine.CreateCase(env.Ctx, engine.CreateCaseParams{
		ID: "mva-lee", ClientName: "Ann Lee", AccidentDate: "2021-01-01",
	}, "tester"); err != nil {
		t.Fatal(err)
	}
	// every workflow reports complete, including a manual sign_retainer
	env.setFacts("mva-lee", completeSetupFacts(false))
	for _, step := range []string{"send_retainer", "confirm_signature"} {
		if _, err := env.Engine.CompleteStep(env.Ctx, "mva-lee", "sign_retainer", step, "tester"); err != nil {
			t.Fatalf("complete %s: %v", step, err)
		}
	}
	view, err := env.Engine.Status(env.Ctx, "mva-lee", "tester")
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if view.Suggestion != nil {
		t.Fatalf("gate suggested advancement with unmet hard blocker: %+v", view.Suggestion)
	}

	// once the retainer is signed the suggestion appears, phase unchanged
	env.setFacts("mva-lee", completeSetupFacts(true))
	view, err = env.Engine.Status(env.Ctx, "mva-lee", "tester")
	if err != nil {
		t.Fatal(err)
	}
	if view.Suggestion == nil {
		t.Fatalf("expected a phase change suggestion")
	}
	if view.Suggestion.FromPhase != "file_setup" || view.Suggestion.ToPhase != "treatment" {
		t.Fatalf("unexpected suggestion %+v", view.Suggestion)
	}
	if view.CurrentPhase != "file_setup" {
		t.Fatalf("suggestion must not move current_phase")
	}
}

func TestApproveAndRejectPhaseChange(t *testing.T) {
	env := newTestEnv(t)
	if _, err := env.Engine.CreateCase(env.Ctx, engine.CreateCaseParams{
		ID: "mva-kim", ClientName: "Sam Kim", AccidentDate: "2021-01-01",
	}, "tester"); err != nil {
		t.Fatal(err)
	}

	// approve with nothing pending is a silent no-op
	state, err := env.Engine.ApprovePhaseChange(env.Ctx, "mva-kim", true, "", "attorney-1")
	if err != nil {
		t.Fatalf("no-op approve: %v", err)
	}
	if state.CurrentPhase != "file_setup" || len(state.History) != 0 {
		t.Fatalf("no-op approve mutated state: %+v", state)
	}

	env.setFacts("mva-kim", completeSetupFacts(true))
	if _, err := env.Engine.Status(env.Ctx, "mva-kim", "tester"); err != nil {
		t.Fatal(err)
	}

	// rejection keeps the phase, records the reason, clears the suggestion
	state, err = env.Engine.ApprovePhaseChange(env.Ctx, "mva-kim", false, "client hesitant", "attorney-1")
	if err != nil {
		t.Fatalf("reject: %v", err)
	}
	if state.CurrentPhase != "file_setup" {
		t.Fatalf("rejection moved current_phase to %s", state.CurrentPhase)
	}
	if state.Suggestion != nil {
		t.Fatalf("rejection did not clear the suggestion")
	}
	if len(state.History) != 1 || state.History[0].Approved || state.History[0].Reason != "client hesitant" {
		t.Fatalf("unexpected history %+v", state.History)
	}

	// the gate re-suggests on the next status read; approval advances
	if _, err := env.Engine.Status(env.Ctx, "mva-kim", "tester"); err != nil {
		t.Fatal(err)
	}
	state, err = env.Engine.ApprovePhaseChange(env.Ctx, "mva-kim", true, "ready to treat", "attorney-1")
	if err != nil {
		t.Fatalf("approve: %v", err)
	}
	if state.CurrentPhase != "treatment" {
		t.Fatalf("approval should advance to treatment, got %s", state.CurrentPhase)
	}
	if state.Phases["file_setup"].Status != domain.StatusComplete {
		t.Fatalf("old phase not closed")
	}
	next := state.Phases["treatment"]
	if next == nil || next.Status != domain.StatusInProgress || len(next.Workflows) != 0 {
		t.Fatalf("new phase should open fresh, got %+v", next)
	}
	if len(state.History) != 2 || !state.History[1].Approved {
		t.Fatalf("approval not recorded: %+v", state.History)
	}
}

func TestSOLFulfilledWinsOverElapsedTime(t *testing.T) {
	env := newTestEnv(t)
	if _, err := env.Engine.CreateCase(env.Ctx, engine.CreateCaseParams{
		ID: "mva-old", ClientName: "Old Case", AccidentDate: "2018-03-01",
	}, "tester"); err != nil {
		t.Fatal(err)
	}
	env.setFacts("mva-old", &facts.CaseFacts{
		Litigation: facts.Litigation{ComplaintFiledDate: "2021-03-01"},
	})
	view, err := env.Engine.Status(env.Ctx, "mva-old", "tester")
	if err != nil {
		t.Fatal(err)
	}
	if view.SOL == nil || view.SOL.Status != domain.SOLFulfilled {
		t.Fatalf("expected fulfilled, got %+v", view.SOL)
	}
	if view.SOL.DaysRemaining != nil {
		t.Fatalf("fulfilled SOL must not carry days_remaining")
	}
}

func TestSOLOverrideTakesPrecedence(t *testing.T) {
	env := newTestEnv(t)
	if _, err := env.Engine.CreateCase(env.Ctx, engine.CreateCaseParams{
		ID: "wc-doe", ClientName: "John Doe", AccidentDate: "2021-01-01",
	}, "tester"); err != nil {
		t.Fatal(err)
	}
	state, err := env.Engine.SetSOLOverride(env.Ctx, "wc-doe", domain.SOLTolled, "minor plaintiff", "", "attorney-1")
	if err != nil {
		t.Fatalf("override: %v", err)
	}
	if state.SOL.Status != domain.SOLTolled || state.SOL.Notes != "minor plaintiff" {
		t.Fatalf("override not applied: %+v", state.SOL)
	}
	// override survives a sync
	_, state, err = env.Engine.Sync(env.Ctx, "wc-doe", "tester")
	if err != nil {
		t.Fatal(err)
	}
	if state.SOL.Status != domain.SOLTolled {
		t.Fatalf("sync clobbered the override: %+v", state.SOL)
	}
	if _, err := env.Engine.SetSOLOverride(env.Ctx, "wc-doe", "bogus", "", "", "attorney-1"); err == nil {
		t.Fatalf("expected invalid override status to be rejected")
	}
}

func TestPendingItemsLifecycle(t *testing.T) {
	env := newTestEnv(t)
	if _, err := env.Engine.CreateCase(env.Ctx, engine.CreateCaseParams{
		ID: "mva-pend", ClientName: "Pat Doe", AccidentDate: "2021-01-01",
	}, "tester"); err != nil {
		t.Fatal(err)
	}
	item, err := env.Engine.AddPendingItem(env.Ctx, "mva-pend", engine.PendingItemParams{
		Description: "obtain police report",
		Owner:       "user",
		Blocking:    true,
		DueDate:     "2021-05-01",
	}, "tester")
	if err != nil {
		t.Fatalf("add pending: %v", err)
	}
	view, err := env.Engine.Status(env.Ctx, "mva-pend", "tester")
	if err != nil {
		t.Fatal(err)
	}
	if len(view.Pending) != 1 || !view.Pending[0].Blocking {
		t.Fatalf("pending item missing from view: %+v", view.Pending)
	}
	overdue := false
	for _, a := range view.Alerts {
		if a.Kind == "overdue_item" {
			overdue = true
		}
	}
	if !overdue {
		t.Fatalf("expected an overdue alert, got %+v", view.Alerts)
	}

	if _, err := env.Engine.ResolvePendingItem(env.Ctx, "mva-pend", item.ID, "tester"); err != nil {
		t.Fatalf("resolve: %v", err)
	}
	view, err = env.Engine.Status(env.Ctx, "mva-pend", "tester")
	if err != nil {
		t.Fatal(err)
	}
	if len(view.Pending) != 0 {
		t.Fatalf("resolved item still listed: %+v", view.Pending)
	}
	if _, err := env.Engine.ResolvePendingItem(env.Ctx, "mva-pend", "nope", "tester"); err == nil {
		t.Fatalf("expected error for unknown pending item")
	}
}

func TestDeriveCorrectionsWithoutFacts(t *testing.T) {
	lib, err := defs.Default()
	if err != nil {
		t.Fatal(err)
	}
	state := &domain.CaseState{
		ID:           "mva-nofacts",
		CurrentPhase: "file_setup",
		Phases:       map[string]*domain.PhaseState{},
	}
	// a missing snapshot is "no evidence", not a reason to fail
	if got := engine.DeriveCorrections(lib, state, nil); len(got) != 0 {
		t.Fatalf("expected no corrections without facts, got %+v", got)
	}
}

func TestCompleteStepFilesUnderOwningPhase(t *testing.T) {
	env := newTestEnv(t)
	if _, err := env.Engine.CreateCase(env.Ctx, engine.CreateCaseParams{
		ID: "mva-ahead", ClientName: "Eve Park", AccidentDate: "2021-01-01",
	}, "tester"); err != nil {
		t.Fatal(err)
	}
	// work a treatment step while the case is still in file setup
	state, err := env.Engine.CompleteStep(env.Ctx, "mva-ahead", "treatment_monitoring", "check_in_client", "tester")
	if err != nil {
		t.Fatalf("complete step: %v", err)
	}
	ph := state.Phases["treatment"]
	if ph == nil || ph.Workflows["treatment_monitoring"] == nil {
		t.Fatalf("workflow not filed under its owning phase: %+v", state.Phases)
	}
	if ph.Workflows["treatment_monitoring"].Status != domain.StatusInProgress {
		t.Fatalf("unexpected workflow status %q", ph.Workflows["treatment_monitoring"].Status)
	}
	if state.Phases["file_setup"].Workflows["treatment_monitoring"] != nil {
		t.Fatalf("workflow filed under the current phase instead of its owner")
	}

	// the recorded work survives advancing into the owning phase
	env.setFacts("mva-ahead", completeSetupFacts(true))
	if _, err := env.Engine.Status(env.Ctx, "mva-ahead", "tester"); err != nil {
		t.Fatal(err)
	}
	state, err = env.Engine.ApprovePhaseChange(env.Ctx, "mva-ahead", true, "ready", "attorney-1")
	if err != nil {
		t.Fatalf("approve: %v", err)
	}
	if state.CurrentPhase != "treatment" {
		t.Fatalf("expected treatment, got %s", state.CurrentPhase)
	}
	wf := state.Phases["treatment"].Workflows["treatment_monitoring"]
	if wf == nil || wf.Steps["check_in_client"] == nil {
		t.Fatalf("approval discarded work recorded ahead of the phase change")
	}
}

func TestLandmarksEvaluateInStatusView(t *testing.T) {
	env := newTestEnv(t)
	if _, err := env.Engine.CreateCase(env.Ctx, engine.CreateCaseParams{
		ID: "mva-lm", ClientName: "Lia Marsh", AccidentDate: "2021-01-01",
	}, "tester"); err != nil {
		t.Fatal(err)
	}
	env.setFacts("mva-lm", completeSetupFacts(false))
	view, err := env.Engine.Status(env.Ctx, "mva-lm", "tester")
	if err != nil {
		t.Fatal(err)
	}
	byID := map[string]domain.LandmarkStatus{}
	for _, lm := range view.Landmarks {
		byID[lm.ID] = lm
	}
	if lm, ok := byID["bi_claim_open"]; !ok || !lm.Met {
		t.Fatalf("bi_claim_open should be met from the claim number, got %+v", view.Landmarks)
	}
	if lm, ok := byID["retainer_signed"]; !ok || lm.Met {
		t.Fatalf("retainer_signed should be unmet, got %+v", view.Landmarks)
	}
}

// gateTestLib builds a two-phase library whose gate has no workflow or exit
// criteria checks, so landmark behavior is observed in isolation.
func gateTestLib(t *testing.T, landmarks string) *defs.Library {
	t.Helper()
	doc := `{
	  "phases": {
	    "intake": {"name": "Intake", "order": 0, "track": "pre_litigation", "next_phase": "done", "exit_criteria": {}},
	    "done": {"name": "Done", "order": 1, "track": "terminal", "exit_criteria": {}}
	  },
	  "workflows": {},
	  "landmarks": {` + landmarks + `}
	}`
	lib, err := defs.FromJSON([]byte(doc))
	if err != nil {
		t.Fatalf("load definitions: %v", err)
	}
	return lib
}

func TestGateHardBlockerLandmark(t *testing.T) {
	lib := gateTestLib(t, `"photo_received": {
	  "name": "Photo Received", "phase": "intake", "kind": "hard_blocker",
	  "field_path": "documents.photo.received_at", "required_value": "present"}`)
	state := &domain.CaseState{ID: "x", CurrentPhase: "intake"}
	now := "2021-06-01T00:00:00Z"

	if sug := engine.EvaluateGate(lib, state, &facts.CaseFacts{}, now); sug != nil {
		t.Fatalf("unmet hard-blocker landmark must hold the gate, got %+v", sug)
	}
	f := &facts.CaseFacts{Documents: map[string]facts.Document{
		"photo": {Name: "photo", ReceivedAt: "2021-05-01"},
	}}
	sug := engine.EvaluateGate(lib, state, f, now)
	if sug == nil {
		t.Fatalf("expected a suggestion once the landmark is met")
	}
	found := false
	for _, name := range sug.CriteriaMet {
		if name == "photo_received" {
			found = true
		}
	}
	if !found {
		t.Fatalf("landmark missing from criteria_met: %+v", sug.CriteriaMet)
	}
}

func TestGateSoftBlockerDefersToApproval(t *testing.T) {
	state := &domain.CaseState{ID: "x", CurrentPhase: "intake"}
	now := "2021-06-01T00:00:00Z"

	// overridable soft blocker: the suggestion carries a warning instead
	lib := gateTestLib(t, `"liens_cleared": {
	  "name": "Liens Cleared", "phase": "intake", "kind": "soft_blocker", "override_allowed": true,
	  "field_path": "liens.all_resolved", "required_value": "true"}`)
	f := &facts.CaseFacts{Liens: []facts.Lien{{Holder: "MedFund", Amount: 1200}}}
	sug := engine.EvaluateGate(lib, state, f, now)
	if sug == nil {
		t.Fatalf("overridable soft blocker must not hold the gate")
	}
	warned := false
	for _, ev := range sug.Evidence {
		if strings.Contains(ev, "Liens Cleared") && strings.Contains(ev, "override") {
			warned = true
		}
	}
	if !warned {
		t.Fatalf("suggestion should warn about the unmet soft blocker: %+v", sug.Evidence)
	}

	// without override_allowed the unmet soft blocker holds the gate
	strict := gateTestLib(t, `"liens_cleared": {
	  "name": "Liens Cleared", "phase": "intake", "kind": "soft_blocker",
	  "field_path": "liens.all_resolved", "required_value": "true"}`)
	if sug := engine.EvaluateGate(strict, state, f, now); sug != nil {
		t.Fatalf("non-overridable soft blocker must hold the gate, got %+v", sug)
	}
}

func TestDeriveStatusIsPure(t *testing.T) {
	env := newTestEnv(t)
	if _, err := env.Engine.CreateCase(env.Ctx, engine.CreateCaseParams{
		ID: "mva-pure", ClientName: "Pure Case", AccidentDate: "2021-01-01",
	}, "tester"); err != nil {
		t.Fatal(err)
	}
	state, err := env.Engine.Repo.GetCase(env.Ctx, "mva-pure")
	if err != nil {
		t.Fatal(err)
	}
	f := completeSetupFacts(true)
	view, corrections := env.Engine.DeriveStatus(state, f)
	if len(corrections) == 0 || view.Suggestion == nil {
		t.Fatalf("expected derived corrections and a suggestion")
	}
	if wf := state.Phases["file_setup"].Workflows["open_bi_claim"]; wf != nil {
		t.Fatalf("DeriveStatus mutated the input state")
	}
	if state.Suggestion != nil {
		t.Fatalf("DeriveStatus persisted a suggestion on the input state")
	}
}
