package server

import (
	"caseline/internal/domain"
	"caseline/internal/facts"
)

// Request payloads

type CreateCaseRequest struct {
	ID           string `json:"id"`
	ClientName   string `json:"client_name"`
	AccidentDate string `json:"accident_date,omitempty"`
	AccidentType string `json:"accident_type,omitempty"`
}

type PhaseDecisionRequest struct {
	Reason string `json:"reason,omitempty"`
}

type AddPendingItemRequest struct {
	Description string `json:"description"`
	Owner       string `json:"owner,omitempty" enum:",agent,user,client,external"`
	Workflow    string `json:"workflow,omitempty"`
	Blocking    bool   `json:"blocking,omitempty"`
	DueDate     string `json:"due_date,omitempty"`
}

type SOLOverrideRequest struct {
	Status     string `json:"status" enum:",filed,tolled,n/a"`
	Notes      string `json:"notes,omitempty"`
	FilingDate string `json:"filing_date,omitempty"`
}

type CompleteStepRequest struct {
	Workflow string `json:"workflow"`
	Step     string `json:"step"`
}

type AssignActorRequest struct {
	ActorID string `json:"actor_id"`
	Role    string `json:"role"`
}

// Response payloads

type StatusResponse struct {
	domain.StatusView
	Markdown string `json:"markdown,omitempty"`
}

type SyncResponse struct {
	Corrections []domain.Correction `json:"corrections"`
	State       *domain.CaseState   `json:"state"`
}

type NextActionsResponse struct {
	Actions []domain.NextAction `json:"actions"`
}

type CaseListResponse struct {
	Cases []domain.CaseSummary `json:"cases"`
}

type EventsResponse struct {
	Events []domain.Event `json:"events"`
}

type AssignmentsResponse struct {
	Assignments []domain.CaseAssignment `json:"assignments"`
}

type ImportFactsRequest = facts.CaseFacts
