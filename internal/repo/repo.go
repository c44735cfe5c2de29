package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"caseline/internal/config"
	"caseline/internal/domain"
)

type Repo struct {
	DB *sql.DB
}

var ErrNotFound = errors.New("not found")

// InsertCase writes a new case aggregate. The blob is the source of truth;
// the columns exist for listing and lookups.
func (r Repo) InsertCase(ctx context.Context, tx *sql.Tx, c *domain.CaseState) error {
	payload, err := marshalState(c)
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx, `INSERT INTO cases(id,client_name,accident_date,accident_type,current_phase,state_json,created_at,updated_at)
VALUES (?,?,?,?,?,?,?,?)`,
		c.ID, c.ClientName, nullable(c.AccidentDate), nullable(c.AccidentType), c.CurrentPhase, payload, c.CreatedAt, c.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert case: %w", err)
	}
	return nil
}

// UpdateCase persists the mutated aggregate.
func (r Repo) UpdateCase(ctx context.Context, tx *sql.Tx, c *domain.CaseState) error {
	payload, err := marshalState(c)
	if err != nil {
		return err
	}
	res, err := tx.ExecContext(ctx, `UPDATE cases SET client_name=?, accident_date=?, accident_type=?, current_phase=?, state_json=?, updated_at=? WHERE id=?`,
		c.ClientName, nullable(c.AccidentDate), nullable(c.AccidentType), c.CurrentPhase, payload, c.UpdatedAt, c.ID)
	if err != nil {
		return fmt.Errorf("update case: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// GetCase loads and validates the aggregate at the persistence boundary.
func (r Repo) GetCase(ctx context.Context, id string) (*domain.CaseState, error) {
	var payload string
	err := r.DB.QueryRowContext(ctx, `SELECT state_json FROM cases WHERE id=?`, id).Scan(&payload)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return unmarshalState(id, payload)
}

// SingleCase returns the only case in the workspace, or an error if there is
// none or more than one.
func (r Repo) SingleCase(ctx context.Context) (domain.CaseSummary, error) {
	items, err := r.ListCases(ctx)
	if err != nil {
		return domain.CaseSummary{}, err
	}
	if len(items) == 0 {
		return domain.CaseSummary{}, ErrNotFound
	}
	if len(items) > 1 {
		return domain.CaseSummary{}, fmt.Errorf("multiple cases exist; specify --case")
	}
	return items[0], nil
}

func (r Repo) ListCases(ctx context.Context) ([]domain.CaseSummary, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,client_name,COALESCE(accident_date,''),COALESCE(accident_type,''),current_phase,created_at,updated_at
FROM cases ORDER BY created_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.CaseSummary
	for rows.Next() {
		var c domain.CaseSummary
		if err := rows.Scan(&c.ID, &c.ClientName, &c.AccidentDate, &c.AccidentType, &c.CurrentPhase, &c.CreatedAt, &c.UpdatedAt); err != nil {
			return nil, err
		}
		res = append(res, c)
	}
	return res, rows.Err()
}

func (r Repo) UpsertFirmConfig(ctx context.Context, firmID string, cfg *config.Config) error {
	return upsertFirmConfig(ctx, r.DB, nil, firmID, cfg)
}

func (r Repo) UpsertFirmConfigTx(ctx context.Context, tx *sql.Tx, firmID string, cfg *config.Config) error {
	return upsertFirmConfig(ctx, nil, tx, firmID, cfg)
}

func upsertFirmConfig(ctx context.Context, db *sql.DB, tx *sql.Tx, firmID string, cfg *config.Config) error {
	if cfg == nil {
		return fmt.Errorf("config nil")
	}
	cfg.Firm.ID = firmID
	if err := cfg.Validate(); err != nil {
		return err
	}
	payload, err := json.Marshal(cfg)
	if err != nil {
		return err
	}
	now := time.Now().UTC().Format(time.RFC3339)
	exec := func(query string, args ...any) (sql.Result, error) {
		if tx != nil {
			return tx.ExecContext(ctx, query, args...)
		}
		return db.ExecContext(ctx, query, args...)
	}
	_, err = exec(`INSERT INTO firm_configs(firm_id,config_json,created_at,updated_at) VALUES (?,?,?,?)
ON CONFLICT(firm_id) DO UPDATE SET config_json=excluded.config_json, updated_at=excluded.updated_at`, firmID, string(payload), now, now)
	return err
}

func (r Repo) GetFirmConfig(ctx context.Context, firmID string) (*config.Config, error) {
	var payload string
	err := r.DB.QueryRowContext(ctx, `SELECT config_json FROM firm_configs WHERE firm_id=?`, firmID).Scan(&payload)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	var cfg config.Config
	if err := json.Unmarshal([]byte(payload), &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// ListEvents returns the newest events for a case, newest first.
func (r Repo) ListEvents(ctx context.Context, caseID string, limit int) ([]domain.Event, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `SELECT id,ts,type,COALESCE(case_id,''),entity_kind,COALESCE(entity_id,''),actor_id,payload_json FROM events`
	var args []any
	if caseID != "" {
		query += ` WHERE case_id=?`
		args = append(args, caseID)
	}
	query += ` ORDER BY id DESC LIMIT ?`
	args = append(args, limit)
	return r.scanEvents(ctx, query, args...)
}

// EventsAfter returns events with id greater than the cursor, oldest first.
func (r Repo) EventsAfter(ctx context.Context, limit int, afterID int64, caseID string) ([]domain.Event, error) {
	if limit <= 0 {
		limit = 100
	}
	query := `SELECT id,ts,type,COALESCE(case_id,''),entity_kind,COALESCE(entity_id,''),actor_id,payload_json FROM events WHERE id>?`
	args := []any{afterID}
	if caseID != "" {
		query += ` AND case_id=?`
		args = append(args, caseID)
	}
	query += ` ORDER BY id ASC LIMIT ?`
	args = append(args, limit)
	return r.scanEvents(ctx, query, args...)
}

// LatestEventID returns the highest event id for a case, 0 when none exist.
func (r Repo) LatestEventID(ctx context.Context, caseID string) (int64, error) {
	query := `SELECT COALESCE(MAX(id),0) FROM events`
	var args []any
	if caseID != "" {
		query += ` WHERE case_id=?`
		args = append(args, caseID)
	}
	var id int64
	if err := r.DB.QueryRowContext(ctx, query, args...).Scan(&id); err != nil {
		return 0, err
	}
	return id, nil
}

func (r Repo) scanEvents(ctx context.Context, query string, args ...any) ([]domain.Event, error) {
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Event
	for rows.Next() {
		var e domain.Event
		if err := rows.Scan(&e.ID, &e.TS, &e.Type, &e.CaseID, &e.EntityKind, &e.EntityID, &e.ActorID, &e.Payload); err != nil {
			return nil, err
		}
		res = append(res, e)
	}
	return res, rows.Err()
}

func marshalState(c *domain.CaseState) (string, error) {
	if c == nil || c.ID == "" {
		return "", errors.New("case state with id required")
	}
	b, err := json.Marshal(c)
	if err != nil {
		return "", fmt.Errorf("marshal case state: %w", err)
	}
	return string(b), nil
}

func unmarshalState(id, payload string) (*domain.CaseState, error) {
	var c domain.CaseState
	if err := json.Unmarshal([]byte(payload), &c); err != nil {
		return nil, fmt.Errorf("case %s: corrupt state blob: %w", id, err)
	}
	if c.ID == "" {
		c.ID = id
	}
	if c.Phases == nil {
		c.Phases = map[string]*domain.PhaseState{}
	}
	return &c, nil
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}
