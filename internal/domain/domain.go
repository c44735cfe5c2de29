package domain

// Status values for workflows, steps and phases. Automated sync may only move
// a status up the rank order returned by StatusRank; it never downgrades.
const (
	StatusNotStarted        = "not_started"
	StatusInProgress        = "in_progress"
	StatusWaitingOnUser     = "waiting_on_user"
	StatusWaitingOnExternal = "waiting_on_external"
	StatusBlocked           = "blocked"
	StatusComplete          = "complete"
	StatusSkipped           = "skipped"
)

// StatusRank orders statuses for monotonic upgrades:
// not_started < in_progress/waiting/blocked < complete/skipped.
func StatusRank(status string) int {
	switch status {
	case "", StatusNotStarted:
		return 0
	case StatusInProgress, StatusWaitingOnUser, StatusWaitingOnExternal, StatusBlocked:
		return 1
	case StatusComplete, StatusSkipped:
		return 2
	}
	return 0
}

// TerminalStatus reports whether a workflow no longer needs attention.
func TerminalStatus(status string) bool {
	return status == StatusComplete || status == StatusSkipped
}

// CaseState is the root aggregate. It is created once at intake (phase 0)
// and thereafter mutated only by the engine's designated operations; it is
// never deleted, only moved to the terminal "closed" phase.
type CaseState struct {
	ID              string                 `json:"id"`
	ClientName      string                 `json:"client_name"`
	AccidentDate    string                 `json:"accident_date,omitempty"`
	AccidentType    string                 `json:"accident_type,omitempty"`
	CurrentPhase    string                 `json:"current_phase"`
	CurrentSubphase string                 `json:"current_subphase,omitempty"`
	Phases          map[string]*PhaseState `json:"phases"`
	Pending         []PendingItem          `json:"pending_items,omitempty"`
	SOL             *SOLRecord             `json:"sol,omitempty"`
	History         []PhaseChange          `json:"phase_history,omitempty"`
	Suggestion      *PhaseSuggestion       `json:"pending_suggestion,omitempty"`
	CreatedAt       string                 `json:"created_at" format:"date-time"`
	UpdatedAt       string                 `json:"updated_at" format:"date-time"`
}

// Phase returns the state for a phase id, or nil if the phase was never opened.
func (c *CaseState) Phase(id string) *PhaseState {
	if c.Phases == nil {
		return nil
	}
	return c.Phases[id]
}

// EnsurePhase returns the phase state, creating an empty one if needed.
func (c *CaseState) EnsurePhase(id string) *PhaseState {
	if c.Phases == nil {
		c.Phases = map[string]*PhaseState{}
	}
	if c.Phases[id] == nil {
		c.Phases[id] = &PhaseState{Status: StatusNotStarted, Workflows: map[string]*WorkflowState{}}
	}
	return c.Phases[id]
}

type PhaseState struct {
	Status      string                    `json:"status" enum:"not_started,in_progress,complete,skipped"`
	EnteredAt   string                    `json:"entered_at,omitempty" format:"date-time"`
	CompletedAt string                    `json:"completed_at,omitempty" format:"date-time"`
	Workflows   map[string]*WorkflowState `json:"workflows"`
	// Subphases is populated for the litigation phase only.
	Subphases map[string]*SubphaseState `json:"subphases,omitempty"`
}

// EnsureWorkflow returns the workflow state within the phase, creating it if needed.
func (p *PhaseState) EnsureWorkflow(id string) *WorkflowState {
	if p.Workflows == nil {
		p.Workflows = map[string]*WorkflowState{}
	}
	if p.Workflows[id] == nil {
		p.Workflows[id] = &WorkflowState{Status: StatusNotStarted, Steps: map[string]*StepState{}}
	}
	return p.Workflows[id]
}

// EnsureSubphase returns the nested subphase state, creating it if needed.
func (p *PhaseState) EnsureSubphase(id string) *SubphaseState {
	if p.Subphases == nil {
		p.Subphases = map[string]*SubphaseState{}
	}
	if p.Subphases[id] == nil {
		p.Subphases[id] = &SubphaseState{Status: StatusNotStarted, Workflows: map[string]*WorkflowState{}}
	}
	return p.Subphases[id]
}

// SubphaseState mirrors PhaseState one level down; litigation only.
type SubphaseState struct {
	Status      string                    `json:"status" enum:"not_started,in_progress,complete,skipped"`
	EnteredAt   string                    `json:"entered_at,omitempty" format:"date-time"`
	CompletedAt string                    `json:"completed_at,omitempty" format:"date-time"`
	Workflows   map[string]*WorkflowState `json:"workflows"`
}

// EnsureWorkflow returns the workflow state within the subphase, creating it if needed.
func (s *SubphaseState) EnsureWorkflow(id string) *WorkflowState {
	if s.Workflows == nil {
		s.Workflows = map[string]*WorkflowState{}
	}
	if s.Workflows[id] == nil {
		s.Workflows[id] = &WorkflowState{Status: StatusNotStarted, Steps: map[string]*StepState{}}
	}
	return s.Workflows[id]
}

type WorkflowState struct {
	Status      string                `json:"status" enum:"not_started,in_progress,waiting_on_user,waiting_on_external,complete,skipped,blocked"`
	StartedAt   string                `json:"started_at,omitempty" format:"date-time"`
	CompletedAt string                `json:"completed_at,omitempty" format:"date-time"`
	Steps       map[string]*StepState `json:"steps,omitempty"`
}

type StepState struct {
	Status      string `json:"status" enum:"not_started,complete,skipped"`
	CompletedAt string `json:"completed_at,omitempty" format:"date-time"`
}

// PendingItem is an open item awaiting resolution by its owner.
type PendingItem struct {
	ID          string `json:"id"`
	Description string `json:"description"`
	Owner       string `json:"owner" enum:"agent,user,client,external"`
	Phase       string `json:"phase,omitempty"`
	Workflow    string `json:"workflow,omitempty"`
	Blocking    bool   `json:"blocking,omitempty"`
	CreatedAt   string `json:"created_at" format:"date-time"`
	DueDate     string `json:"due_date,omitempty"`
	ResolvedAt  string `json:"resolved_at,omitempty" format:"date-time"`
}

// SOL status values.
const (
	SOLSafe      = "safe"
	SOLAttention = "attention"
	SOLUrgent    = "urgent"
	SOLCritical  = "critical"
	SOLFulfilled = "fulfilled"
	SOLFiled     = "filed"
	SOLTolled    = "tolled"
	SOLNA        = "n/a"
	SOLUnknown   = "unknown"
)

// SOLRecord is either computed from the accident date or carries an explicit
// override. An override status of "filed" is terminal and wins over any
// computed days-remaining value.
type SOLRecord struct {
	Status         string `json:"status"`
	BaseDate       string `json:"base_date,omitempty"`
	Years          int    `json:"years,omitempty"`
	Deadline       string `json:"deadline,omitempty"`
	DaysRemaining  *int   `json:"days_remaining,omitempty"`
	OverrideStatus string `json:"override_status,omitempty" enum:",filed,tolled,n/a"`
	Notes          string `json:"notes,omitempty"`
	FilingDate     string `json:"filing_date,omitempty"`
	Message        string `json:"message,omitempty"`
}

// PhaseChange is one entry in the phase change history, approved or rejected.
type PhaseChange struct {
	FromPhase string   `json:"from_phase"`
	ToPhase   string   `json:"to_phase"`
	Approved  bool     `json:"approved"`
	Reason    string   `json:"reason,omitempty"`
	Evidence  []string `json:"data_evidence,omitempty"`
	ChangedAt string   `json:"changed_at" format:"date-time"`
	ActorID   string   `json:"actor_id,omitempty"`
}

// PhaseSuggestion is the pending output of the advancement gate. The current
// phase does not move until the suggestion is explicitly approved.
type PhaseSuggestion struct {
	FromPhase   string   `json:"from_phase"`
	ToPhase     string   `json:"to_phase"`
	Reason      string   `json:"reason"`
	Evidence    []string `json:"data_evidence,omitempty"`
	CriteriaMet []string `json:"criteria_met,omitempty"`
	SuggestedAt string   `json:"suggested_at" format:"date-time"`
}

// Correction records one automatic status upgrade applied by state sync.
type Correction struct {
	Workflow  string `json:"workflow"`
	Phase     string `json:"phase"`
	Subphase  string `json:"subphase,omitempty"`
	OldStatus string `json:"old_status"`
	NewStatus string `json:"new_status"`
	Reason    string `json:"reason"`
	Evidence  string `json:"data_evidence,omitempty"`
}

// NextAction is an ephemeral planner output; it is never persisted.
type NextAction struct {
	Description    string `json:"description"`
	Owner          string `json:"owner" enum:"agent,user,client,external"`
	Phase          string `json:"phase"`
	Subphase       string `json:"subphase,omitempty"`
	Workflow       string `json:"workflow"`
	Step           string `json:"step"`
	Automatable    bool   `json:"automatable"`
	Prompt         string `json:"prompt,omitempty"`
	ManualFallback string `json:"manual_fallback,omitempty"`
}

// Alert is a formatter-level warning surfaced ahead of everything else.
type Alert struct {
	Kind    string `json:"kind" enum:"sol,stale_contact,overdue_item"`
	Level   string `json:"level" enum:"info,warning,critical"`
	Message string `json:"message"`
}

// CompletedItem is a recently finished workflow or step, for the status view.
type CompletedItem struct {
	Description string `json:"description"`
	Phase       string `json:"phase"`
	Workflow    string `json:"workflow"`
	CompletedAt string `json:"completed_at" format:"date-time"`
}

// StatusView is the computed read model handed to an agent/UI layer.
type StatusView struct {
	CaseID          string           `json:"case_id"`
	ClientName      string           `json:"client_name"`
	CurrentPhase    string           `json:"current_phase"`
	CurrentSubphase string           `json:"current_subphase,omitempty"`
	Alerts          []Alert          `json:"alerts,omitempty"`
	SOL             *SOLRecord       `json:"sol,omitempty"`
	Landmarks       []LandmarkStatus `json:"landmarks,omitempty"`
	RecentlyDone    []CompletedItem  `json:"recently_done,omitempty"`
	Pending         []PendingItem    `json:"pending_items,omitempty"`
	NextActions     []NextAction     `json:"next_actions,omitempty"`
	Corrections     []Correction     `json:"corrections,omitempty"`
	Suggestion      *PhaseSuggestion `json:"pending_suggestion,omitempty"`
}

// LandmarkStatus is a definition landmark evaluated against the live case.
type LandmarkStatus struct {
	ID              string `json:"id"`
	Name            string `json:"name"`
	Kind            string `json:"kind"`
	Met             bool   `json:"met"`
	OverrideAllowed bool   `json:"override_allowed,omitempty"`
}

// CaseSummary is the lightweight listing row; the full aggregate lives in
// the state blob.
type CaseSummary struct {
	ID           string `json:"id"`
	ClientName   string `json:"client_name"`
	AccidentDate string `json:"accident_date,omitempty"`
	AccidentType string `json:"accident_type,omitempty"`
	CurrentPhase string `json:"current_phase"`
	CreatedAt    string `json:"created_at" format:"date-time"`
	UpdatedAt    string `json:"updated_at" format:"date-time"`
}

// Event is one append-only audit log row.
type Event struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts" format:"date-time"`
	Type       string `json:"type"`
	CaseID     string `json:"case_id,omitempty"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id,omitempty"`
	ActorID    string `json:"actor_id"`
	Payload    string `json:"payload_json"`
}

type APIKey struct {
	ID        string `json:"id"`
	ActorID   string `json:"actor_id"`
	Name      string `json:"name,omitempty"`
	KeyHash   string `json:"key_hash"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

// CaseAssignment maps an actor to a role on a case (attorney, paralegal, agent).
type CaseAssignment struct {
	CaseID    string `json:"case_id"`
	ActorID   string `json:"actor_id"`
	Role      string `json:"role"`
	CreatedAt string `json:"created_at" format:"date-time"`
	UpdatedAt string `json:"updated_at" format:"date-time"`
}
