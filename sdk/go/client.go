package caselinesdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Client is a minimal Caseline HTTP API client.
type Client struct {
	BaseURL     string
	APIKey      string
	BearerToken string
	HTTPClient  *http.Client
	Timeout     time.Duration
}

// New creates a client with sane defaults.
func New(baseURL string) *Client {
	return &Client{
		BaseURL: baseURL,
		Timeout: 10 * time.Second,
	}
}

// Case is the API case model (partial).
type Case struct {
	ID              string `json:"id"`
	ClientName      string `json:"client_name"`
	CurrentPhase    string `json:"current_phase"`
	CurrentSubphase string `json:"current_subphase,omitempty"`
	UpdatedAt       string `json:"updated_at"`
}

// Status is the computed case view (partial).
type Status struct {
	CaseID       string       `json:"case_id"`
	ClientName   string       `json:"client_name"`
	CurrentPhase string       `json:"current_phase"`
	Alerts       []Alert      `json:"alerts,omitempty"`
	SOL          *SOL         `json:"sol,omitempty"`
	NextActions  []NextAction `json:"next_actions,omitempty"`
	Corrections  []Correction `json:"corrections,omitempty"`
	Suggestion   *Suggestion  `json:"pending_suggestion,omitempty"`
	Markdown     string       `json:"markdown,omitempty"`
}

type Alert struct {
	Kind    string `json:"kind"`
	Level   string `json:"level"`
	Message string `json:"message"`
}

type SOL struct {
	Status        string `json:"status"`
	Deadline      string `json:"deadline,omitempty"`
	DaysRemaining *int   `json:"days_remaining,omitempty"`
	Notes         string `json:"notes,omitempty"`
}

type NextAction struct {
	Description string `json:"description"`
	Workflow    string `json:"workflow"`
	Step        string `json:"step"`
	Owner       string `json:"owner,omitempty"`
	Automatable bool   `json:"automatable,omitempty"`
}

type Correction struct {
	Phase     string `json:"phase"`
	Workflow  string `json:"workflow"`
	OldStatus string `json:"old_status"`
	NewStatus string `json:"new_status"`
	Evidence  string `json:"data_evidence,omitempty"`
}

type Suggestion struct {
	FromPhase string   `json:"from_phase"`
	ToPhase   string   `json:"to_phase"`
	Reason    string   `json:"reason"`
	Evidence  []string `json:"data_evidence,omitempty"`
}

// Event is an audit log entry.
type Event struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts"`
	Type       string `json:"type"`
	CaseID     string `json:"case_id"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id"`
	ActorID    string `json:"actor_id"`
}

// SyncResult pairs the applied corrections with the updated case.
type SyncResult struct {
	Corrections []Correction `json:"corrections"`
	State       *Case        `json:"state"`
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// CreateCase opens a new case.
func (c *Client) CreateCase(ctx context.Context, id, clientName, accidentDate, accidentType string) (Case, error) {
	body := map[string]any{
		"id":            id,
		"client_name":   clientName,
		"accident_date": accidentDate,
		"accident_type": accidentType,
	}
	var resp Case
	err := c.do(ctx, http.MethodPost, "v0/cases", body, &resp)
	return resp, err
}

// Status fetches the computed status view for a case.
func (c *Client) Status(ctx context.Context, caseID string) (Status, error) {
	var resp Status
	err := c.do(ctx, http.MethodGet, c.casePath(caseID, "status"), nil, &resp)
	return resp, err
}

// Sync corrects persisted status against the facts snapshot.
func (c *Client) Sync(ctx context.Context, caseID string) (SyncResult, error) {
	var resp SyncResult
	err := c.do(ctx, http.MethodPost, c.casePath(caseID, "sync"), nil, &resp)
	return resp, err
}

// ImportFacts replaces the stored facts snapshot and syncs.
func (c *Client) ImportFacts(ctx context.Context, caseID string, snapshot any) (SyncResult, error) {
	var resp SyncResult
	err := c.do(ctx, http.MethodPut, c.casePath(caseID, "facts"), snapshot, &resp)
	return resp, err
}

// ApprovePhaseChange accepts the pending phase suggestion.
func (c *Client) ApprovePhaseChange(ctx context.Context, caseID, reason string) (Case, error) {
	var resp Case
	err := c.do(ctx, http.MethodPost, c.casePath(caseID, "phase/approve"), map[string]any{"reason": reason}, &resp)
	return resp, err
}

// RejectPhaseChange declines the pending phase suggestion.
func (c *Client) RejectPhaseChange(ctx context.Context, caseID, reason string) (Case, error) {
	var resp Case
	err := c.do(ctx, http.MethodPost, c.casePath(caseID, "phase/reject"), map[string]any{"reason": reason}, &resp)
	return resp, err
}

// CompleteStep marks a workflow step done.
func (c *Client) CompleteStep(ctx context.Context, caseID, workflow, step string) (Case, error) {
	var resp Case
	err := c.do(ctx, http.MethodPost, c.casePath(caseID, "steps/complete"), map[string]any{
		"workflow": workflow,
		"step":     step,
	}, &resp)
	return resp, err
}

// NextActions returns the derived action list without persisting anything.
func (c *Client) NextActions(ctx context.Context, caseID string) ([]NextAction, error) {
	var resp struct {
		Actions []NextAction `json:"actions"`
	}
	err := c.do(ctx, http.MethodGet, c.casePath(caseID, "actions"), nil, &resp)
	return resp.Actions, err
}

// Events returns recent audit events, newest first.
func (c *Client) Events(ctx context.Context, caseID string, limit int) ([]Event, error) {
	endpoint := c.casePath(caseID, "events")
	if limit > 0 {
		endpoint = fmt.Sprintf("%s?limit=%d", endpoint, limit)
	}
	var resp struct {
		Events []Event `json:"events"`
	}
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp.Events, err
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	url := c.base() + "/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, url, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	switch {
	case c.BearerToken != "":
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	case c.APIKey != "":
		req.Header.Set("X-Api-Key", c.APIKey)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return &APIError{StatusCode: resp.StatusCode, Body: string(b)}
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func (c *Client) casePath(caseID, p string) string {
	return fmt.Sprintf("v0/cases/%s/%s", url.PathEscape(caseID), strings.TrimLeft(p, "/"))
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}
