package engine

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"caseline/internal/config"
	"caseline/internal/defs"
	"caseline/internal/domain"
	"caseline/internal/events"
	"caseline/internal/facts"
	"caseline/internal/repo"
)

// Engine orchestrates the case lifecycle: it loads the aggregate, derives
// corrections from facts, evaluates the advancement gate, and persists the
// result together with audit events in one transaction.
type Engine struct {
	DB     *sql.DB
	Repo   repo.Repo
	Facts  facts.Port
	Defs   *defs.Library
	Events events.Writer
	Config *config.Config
	Now    func() time.Time
}

// New wires an Engine over an open database. The facts port defaults to the
// SQLite-backed store on the same connection.
func New(conn *sql.DB, cfg *config.Config, lib *defs.Library, port facts.Port) Engine {
	if port == nil {
		port = facts.NewStore(conn)
	}
	return Engine{
		DB:     conn,
		Repo:   repo.Repo{DB: conn},
		Facts:  port,
		Defs:   lib,
		Events: events.Writer{DB: conn},
		Config: cfg,
	}
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e Engine) nowStr() string {
	return e.now().UTC().Format(time.RFC3339)
}

type CreateCaseParams struct {
	ID           string
	ClientName   string
	AccidentDate string
	AccidentType string
}

// CreateCase opens a new case in the first phase. The aggregate is created
// exactly once; every later change goes through a designated operation.
func (e Engine) CreateCase(ctx context.Context, p CreateCaseParams, actorID string) (*domain.CaseState, error) {
	if p.ID == "" {
		return nil, fmt.Errorf("case id is required")
	}
	if p.ClientName == "" {
		return nil, fmt.Errorf("client name is required")
	}
	first, ok := e.Defs.FirstPhase()
	if !ok {
		return nil, fmt.Errorf("definitions have no starting phase")
	}
	now := e.nowStr()
	state := &domain.CaseState{
		ID:           p.ID,
		ClientName:   p.ClientName,
		AccidentDate: p.AccidentDate,
		AccidentType: p.AccidentType,
		CurrentPhase: first.ID,
		Phases: map[string]*domain.PhaseState{
			first.ID: {
				Status:    domain.StatusInProgress,
				EnteredAt: now,
				Workflows: map[string]*domain.WorkflowState{},
			},
		},
		CreatedAt: now,
		UpdatedAt: now,
	}
	state.SOL = ComputeSOL(e.Config, state, nil, e.now())

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()
	if err := e.Repo.InsertCase(ctx, tx, state); err != nil {
		return nil, err
	}
	if err := e.Events.Append(ctx, tx, "case.created", state.ID, "case", state.ID, actorID, events.EventPayload{
		"client_name": p.ClientName,
		"phase":       first.ID,
	}); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return state, nil
}

// DeriveStatus is the pure form of Status: it computes the view and the
// corrections that sync would apply, without mutating the given state or
// touching storage.
func (e Engine) DeriveStatus(state *domain.CaseState, f *facts.CaseFacts) (*domain.StatusView, []domain.Correction) {
	work := cloneState(state)
	corrections := DeriveCorrections(e.Defs, work, f)
	now := e.nowStr()
	ApplyCorrections(work, corrections, now)
	AdvanceSubphase(e.Defs, work, now)
	work.SOL = ComputeSOL(e.Config, work, f, e.now())
	if work.Suggestion == nil {
		work.Suggestion = EvaluateGate(e.Defs, work, f, now)
	}
	return e.buildView(work, f, corrections), corrections
}

// Status computes the case view and persists the side effects: applied
// corrections, a refreshed SOL record, and any new phase change suggestion.
func (e Engine) Status(ctx context.Context, caseID, actorID string) (*domain.StatusView, error) {
	_, view, err := e.sync(ctx, caseID, actorID)
	return view, err
}

// Sync applies fact-derived corrections and returns them along with the
// updated aggregate.
func (e Engine) Sync(ctx context.Context, caseID, actorID string) ([]domain.Correction, *domain.CaseState, error) {
	res, _, err := e.sync(ctx, caseID, actorID)
	if err != nil {
		return nil, nil, err
	}
	return res.lastCorrections, res.state, nil
}

type syncResult struct {
	state           *domain.CaseState
	lastCorrections []domain.Correction
}

func (e Engine) sync(ctx context.Context, caseID, actorID string) (*syncResult, *domain.StatusView, error) {
	state, err := e.Repo.GetCase(ctx, caseID)
	if err != nil {
		return nil, nil, err
	}
	f, err := e.caseFacts(ctx, caseID)
	if err != nil {
		return nil, nil, fmt.Errorf("facts unavailable, status is stale: %w", err)
	}

	now := e.nowStr()
	corrections := DeriveCorrections(e.Defs, state, f)
	ApplyCorrections(state, corrections, now)
	AdvanceSubphase(e.Defs, state, now)
	state.SOL = ComputeSOL(e.Config, state, f, e.now())

	suggested := false
	if state.Suggestion == nil {
		if sug := EvaluateGate(e.Defs, state, f, now); sug != nil {
			state.Suggestion = sug
			suggested = true
		}
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return nil, nil, err
	}
	defer tx.Rollback()
	if err := e.Repo.UpdateCase(ctx, tx, state); err != nil {
		return nil, nil, err
	}
	for _, c := range corrections {
		if err := e.Events.Append(ctx, tx, "workflow.corrected", caseID, "workflow", c.Workflow, actorID, events.EventPayload{
			"phase":      c.Phase,
			"subphase":   c.Subphase,
			"old_status": c.OldStatus,
			"new_status": c.NewStatus,
			"reason":     c.Reason,
			"evidence":   c.Evidence,
		}); err != nil {
			return nil, nil, err
		}
	}
	if suggested {
		if err := e.Events.Append(ctx, tx, "phase.suggested", caseID, "phase", state.Suggestion.ToPhase, actorID, events.EventPayload{
			"from_phase": state.Suggestion.FromPhase,
			"to_phase":   state.Suggestion.ToPhase,
			"reason":     state.Suggestion.Reason,
		}); err != nil {
			return nil, nil, err
		}
	}
	if err := tx.Commit(); err != nil {
		return nil, nil, err
	}
	return &syncResult{state: state, lastCorrections: corrections}, e.buildView(state, f, corrections), nil
}

// ApprovePhaseChange resolves the pending suggestion. With nothing pending it
// returns the state unchanged and writes nothing.
func (e Engine) ApprovePhaseChange(ctx context.Context, caseID string, approve bool, reason, actorID string) (*domain.CaseState, error) {
	state, err := e.Repo.GetCase(ctx, caseID)
	if err != nil {
		return nil, err
	}
	pending := state.Suggestion
	if !ApproveSuggestion(e.Defs, state, approve, reason, actorID, e.nowStr()) {
		return state, nil
	}
	evtType := "phase.approved"
	if !approve {
		evtType = "phase.rejected"
	}
	err = e.save(ctx, state, evtType, "phase", pending.ToPhase, actorID, events.EventPayload{
		"from_phase": pending.FromPhase,
		"to_phase":   pending.ToPhase,
		"reason":     reason,
	})
	if err != nil {
		return nil, err
	}
	return state, nil
}

// CompleteStep marks a step done and rolls the workflow status up. The
// workflow is filed under the phase that owns it in the definitions, so the
// owning phase's gate sees the completion even when the step is worked ahead
// of (or behind) the current phase. Litigation workflows are additionally
// routed to their subphase through the definition map.
func (e Engine) CompleteStep(ctx context.Context, caseID, workflowID, stepID, actorID string) (*domain.CaseState, error) {
	wfDef, ok := e.Defs.Workflow(workflowID)
	if !ok {
		return nil, fmt.Errorf("unknown workflow %s", workflowID)
	}
	stepDef, ok := findStep(wfDef, stepID)
	if !ok {
		return nil, fmt.Errorf("workflow %s has no step %s", workflowID, stepID)
	}
	state, err := e.Repo.GetCase(ctx, caseID)
	if err != nil {
		return nil, err
	}
	now := e.nowStr()

	phaseID := state.CurrentPhase
	if owner, ok := e.Defs.OwningPhase(workflowID); ok {
		phaseID = owner.ID
	}
	ph := state.EnsurePhase(phaseID)
	var wf *domain.WorkflowState
	if sub, ok := e.Defs.LitigationMap[workflowID]; ok {
		wf = ph.EnsureSubphase(sub).EnsureWorkflow(workflowID)
	} else {
		wf = ph.EnsureWorkflow(workflowID)
	}

	if wf.Status == domain.StatusNotStarted || wf.Status == "" {
		wf.Status = domain.StatusInProgress
		wf.StartedAt = now
	}
	if wf.Steps == nil {
		wf.Steps = map[string]*domain.StepState{}
	}
	wf.Steps[stepID] = &domain.StepState{Status: domain.StatusComplete, CompletedAt: now}

	if allStepsDone(wfDef, wf) {
		wf.Status = domain.StatusComplete
		wf.CompletedAt = now
	}
	AdvanceSubphase(e.Defs, state, now)
	state.UpdatedAt = now

	err = e.save(ctx, state, "step.completed", "step", workflowID+"/"+stepID, actorID, events.EventPayload{
		"workflow":    workflowID,
		"step":        stepID,
		"description": stepDef.Description,
	})
	if err != nil {
		return nil, err
	}
	return state, nil
}

type PendingItemParams struct {
	Description string
	Owner       string
	Workflow    string
	Blocking    bool
	DueDate     string
}

// AddPendingItem appends an open item to the case.
func (e Engine) AddPendingItem(ctx context.Context, caseID string, p PendingItemParams, actorID string) (*domain.PendingItem, error) {
	if p.Description == "" {
		return nil, fmt.Errorf("description is required")
	}
	state, err := e.Repo.GetCase(ctx, caseID)
	if err != nil {
		return nil, err
	}
	owner := p.Owner
	if owner == "" {
		owner = "user"
	}
	item := domain.PendingItem{
		ID:          uuid.NewString(),
		Description: p.Description,
		Owner:       owner,
		Phase:       state.CurrentPhase,
		Workflow:    p.Workflow,
		Blocking:    p.Blocking,
		CreatedAt:   e.nowStr(),
		DueDate:     p.DueDate,
	}
	state.Pending = append(state.Pending, item)
	state.UpdatedAt = item.CreatedAt

	err = e.save(ctx, state, "pending.added", "pending_item", item.ID, actorID, events.EventPayload{
		"description": item.Description,
		"owner":       item.Owner,
		"blocking":    item.Blocking,
	})
	if err != nil {
		return nil, err
	}
	return &item, nil
}

// ResolvePendingItem stamps resolved_at on an open item.
func (e Engine) ResolvePendingItem(ctx context.Context, caseID, itemID, actorID string) (*domain.CaseState, error) {
	state, err := e.Repo.GetCase(ctx, caseID)
	if err != nil {
		return nil, err
	}
	now := e.nowStr()
	found := false
	for i := range state.Pending {
		if state.Pending[i].ID == itemID && state.Pending[i].ResolvedAt == "" {
			state.Pending[i].ResolvedAt = now
			found = true
			break
		}
	}
	if !found {
		return nil, fmt.Errorf("pending item %s: %w", itemID, repo.ErrNotFound)
	}
	state.UpdatedAt = now
	err = e.save(ctx, state, "pending.resolved", "pending_item", itemID, actorID, nil)
	if err != nil {
		return nil, err
	}
	return state, nil
}

// SetSOLOverride records an explicit statute override (filed, tolled, n/a) or
// clears it with an empty status.
func (e Engine) SetSOLOverride(ctx context.Context, caseID, status, notes, filingDate, actorID string) (*domain.CaseState, error) {
	switch status {
	case "", domain.SOLFiled, domain.SOLTolled, domain.SOLNA:
	default:
		return nil, fmt.Errorf("invalid sol override %q", status)
	}
	state, err := e.Repo.GetCase(ctx, caseID)
	if err != nil {
		return nil, err
	}
	if state.SOL == nil {
		state.SOL = &domain.SOLRecord{}
	}
	state.SOL.OverrideStatus = status
	state.SOL.Notes = notes
	state.SOL.FilingDate = filingDate
	f, _ := e.caseFacts(ctx, caseID)
	state.SOL = ComputeSOL(e.Config, state, f, e.now())
	state.UpdatedAt = e.nowStr()

	err = e.save(ctx, state, "sol.overridden", "sol", caseID, actorID, events.EventPayload{
		"status": status,
		"notes":  notes,
	})
	if err != nil {
		return nil, err
	}
	return state, nil
}

func (e Engine) save(ctx context.Context, state *domain.CaseState, evtType, entityKind, entityID, actorID string, payload events.EventPayload) error {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := e.Repo.UpdateCase(ctx, tx, state); err != nil {
		return err
	}
	if err := e.Events.Append(ctx, tx, evtType, state.ID, entityKind, entityID, actorID, payload); err != nil {
		return err
	}
	return tx.Commit()
}

func (e Engine) caseFacts(ctx context.Context, caseID string) (*facts.CaseFacts, error) {
	if e.Facts == nil {
		return facts.None{}.Facts(ctx, caseID)
	}
	return e.Facts.Facts(ctx, caseID)
}

func (e Engine) buildView(state *domain.CaseState, f *facts.CaseFacts, corrections []domain.Correction) *domain.StatusView {
	return &domain.StatusView{
		CaseID:          state.ID,
		ClientName:      state.ClientName,
		CurrentPhase:    state.CurrentPhase,
		CurrentSubphase: state.CurrentSubphase,
		Alerts:          e.buildAlerts(state, f),
		SOL:             state.SOL,
		Landmarks:       EvaluateLandmarks(e.Defs, state, f, state.CurrentPhase),
		RecentlyDone:    recentlyDone(e.Defs, state, 5),
		Pending:         openPending(state),
		NextActions:     PlanNextActions(e.Defs, state, f),
		Corrections:     corrections,
		Suggestion:      state.Suggestion,
	}
}

func (e Engine) buildAlerts(state *domain.CaseState, f *facts.CaseFacts) []domain.Alert {
	var out []domain.Alert
	if sol := state.SOL; sol != nil {
		switch sol.Status {
		case domain.SOLCritical:
			msg := "statute deadline is critical"
			if sol.DaysRemaining != nil {
				msg = fmt.Sprintf("statute deadline in %d days (%s)", *sol.DaysRemaining, sol.Deadline)
			}
			out = append(out, domain.Alert{Kind: "sol", Level: "critical", Message: msg})
		case domain.SOLUrgent:
			out = append(out, domain.Alert{Kind: "sol", Level: "warning",
				Message: fmt.Sprintf("statute deadline approaching (%s)", sol.Deadline)})
		case domain.SOLFulfilled:
			out = append(out, domain.Alert{Kind: "sol", Level: "info", Message: "complaint filed, statute satisfied"})
		}
	}
	if e.Config != nil && e.Config.Alerts.StaleContactDays > 0 && f != nil {
		if last := f.LastContactDate(); last != "" {
			if t, err := parseDay(last); err == nil {
				stale := e.now().Sub(t) > time.Duration(e.Config.Alerts.StaleContactDays)*24*time.Hour
				if stale {
					out = append(out, domain.Alert{Kind: "stale_contact", Level: "warning",
						Message: fmt.Sprintf("no client contact since %s", last)})
				}
			}
		}
	}
	today := e.now().UTC().Format("2006-01-02")
	for _, item := range state.Pending {
		if item.ResolvedAt == "" && item.DueDate != "" && item.DueDate < today {
			out = append(out, domain.Alert{Kind: "overdue_item", Level: "warning",
				Message: fmt.Sprintf("overdue: %s (due %s)", item.Description, item.DueDate)})
		}
	}
	return out
}

func openPending(state *domain.CaseState) []domain.PendingItem {
	var out []domain.PendingItem
	for _, item := range state.Pending {
		if item.ResolvedAt == "" {
			out = append(out, item)
		}
	}
	return out
}

func recentlyDone(lib *defs.Library, state *domain.CaseState, n int) []domain.CompletedItem {
	var out []domain.CompletedItem
	collect := func(phaseID string, workflows map[string]*domain.WorkflowState) {
		for wfID, wf := range workflows {
			if wf.CompletedAt != "" {
				desc := wfID
				if def, ok := lib.Workflow(wfID); ok {
					desc = def.Name
				}
				out = append(out, domain.CompletedItem{
					Description: desc,
					Phase:       phaseID,
					Workflow:    wfID,
					CompletedAt: wf.CompletedAt,
				})
			}
		}
	}
	for phaseID, ph := range state.Phases {
		collect(phaseID, ph.Workflows)
		for _, sp := range ph.Subphases {
			collect(phaseID, sp.Workflows)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CompletedAt > out[j].CompletedAt })
	if len(out) > n {
		out = out[:n]
	}
	return out
}

func findStep(wfDef defs.WorkflowDef, stepID string) (defs.StepDef, bool) {
	for _, s := range wfDef.Steps {
		if s.ID == stepID {
			return s, true
		}
	}
	return defs.StepDef{}, false
}

func allStepsDone(wfDef defs.WorkflowDef, wf *domain.WorkflowState) bool {
	for _, s := range wfDef.Steps {
		ss := wf.Steps[s.ID]
		if ss == nil || !domain.TerminalStatus(ss.Status) {
			return false
		}
	}
	return len(wfDef.Steps) > 0
}

func cloneState(state *domain.CaseState) *domain.CaseState {
	b, err := json.Marshal(state)
	if err != nil {
		return state
	}
	var out domain.CaseState
	if err := json.Unmarshal(b, &out); err != nil {
		return state
	}
	return &out
}
