package facts

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
)

// Store reads case facts from the SQLite facts tables. Snapshots are cached
// for the lifetime of the Store with no invalidation; construct a fresh Store
// (or call Invalidate) after importing new facts.
type Store struct {
	DB *sql.DB

	mu    sync.Mutex
	cache map[string]*CaseFacts
}

func NewStore(db *sql.DB) *Store {
	return &Store{DB: db, cache: map[string]*CaseFacts{}}
}

func (s *Store) Facts(ctx context.Context, caseID string) (*CaseFacts, error) {
	s.mu.Lock()
	if f, ok := s.cache[caseID]; ok {
		s.mu.Unlock()
		return f, nil
	}
	s.mu.Unlock()

	f, err := s.load(ctx, caseID)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	if s.cache == nil {
		s.cache = map[string]*CaseFacts{}
	}
	s.cache[caseID] = f
	s.mu.Unlock()
	return f, nil
}

// Invalidate drops the cached snapshot for a case.
func (s *Store) Invalidate(caseID string) {
	s.mu.Lock()
	delete(s.cache, caseID)
	s.mu.Unlock()
}

func (s *Store) load(ctx context.Context, caseID string) (*CaseFacts, error) {
	f := &CaseFacts{Overview: Overview{CaseID: caseID}}

	row := s.DB.QueryRowContext(ctx, `SELECT COALESCE(client_name,''), COALESCE(accident_date,''), COALESCE(accident_type,''), COALESCE(phase_hint,'')
FROM fact_overview WHERE case_id=?`, caseID)
	if err := row.Scan(&f.Overview.ClientName, &f.Overview.AccidentDate, &f.Overview.AccidentType, &f.Overview.PhaseHint); err != nil && err != sql.ErrNoRows {
		return nil, fmt.Errorf("load overview: %w", err)
	}

	rows, err := s.DB.QueryContext(ctx, `SELECT type, COALESCE(insurer,''), COALESCE(claim_number,''), COALESCE(adjuster,''), COALESCE(policy_limit,0)
FROM fact_claims WHERE case_id=? ORDER BY rowid`, caseID)
	if err != nil {
		return nil, fmt.Errorf("load claims: %w", err)
	}
	for rows.Next() {
		var c Claim
		if err := rows.Scan(&c.Type, &c.Insurer, &c.ClaimNumber, &c.Adjuster, &c.PolicyLimit); err != nil {
			rows.Close()
			return nil, err
		}
		if f.Claims == nil {
			f.Claims = map[string][]Claim{}
		}
		f.Claims[c.Type] = append(f.Claims[c.Type], c)
	}
	rows.Close()

	rows, err = s.DB.QueryContext(ctx, `SELECT name, treatment_complete, records_received, bills_received
FROM fact_providers WHERE case_id=? ORDER BY rowid`, caseID)
	if err != nil {
		return nil, fmt.Errorf("load providers: %w", err)
	}
	for rows.Next() {
		var p Provider
		if err := rows.Scan(&p.Name, &p.TreatmentComplete, &p.RecordsReceived, &p.BillsReceived); err != nil {
			rows.Close()
			return nil, err
		}
		f.Providers = append(f.Providers, p)
	}
	rows.Close()

	rows, err = s.DB.QueryContext(ctx, `SELECT holder, COALESCE(amount,0), resolved FROM fact_liens WHERE case_id=? ORDER BY rowid`, caseID)
	if err != nil {
		return nil, fmt.Errorf("load liens: %w", err)
	}
	for rows.Next() {
		var l Lien
		if err := rows.Scan(&l.Holder, &l.Amount, &l.Resolved); err != nil {
			rows.Close()
			return nil, err
		}
		f.Liens = append(f.Liens, l)
	}
	rows.Close()

	rows, err = s.DB.QueryContext(ctx, `SELECT name, signed, COALESCE(signed_at,''), COALESCE(sent_at,''), COALESCE(received_at,'')
FROM fact_documents WHERE case_id=? ORDER BY rowid`, caseID)
	if err != nil {
		return nil, fmt.Errorf("load documents: %w", err)
	}
	for rows.Next() {
		var d Document
		if err := rows.Scan(&d.Name, &d.Signed, &d.SignedAt, &d.SentAt, &d.ReceivedAt); err != nil {
			rows.Close()
			return nil, err
		}
		if f.Documents == nil {
			f.Documents = map[string]Document{}
		}
		f.Documents[d.Name] = d
	}
	rows.Close()

	row = s.DB.QueryRowContext(ctx, `SELECT COALESCE(complaint_filed_date,''), COALESCE(service_date,''), COALESCE(discovery_request_date,''),
COALESCE(discovery_response_date,''), COALESCE(deposition_date,''), COALESCE(mediation_date,''), COALESCE(trial_date,''),
COALESCE(defendant,''), COALESCE(opposing_counsel,'') FROM fact_litigation WHERE case_id=?`, caseID)
	if err := row.Scan(&f.Litigation.ComplaintFiledDate, &f.Litigation.ServiceDate, &f.Litigation.DiscoveryRequestDate,
		&f.Litigation.DiscoveryResponseDate, &f.Litigation.DepositionDate, &f.Litigation.MediationDate, &f.Litigation.TrialDate,
		&f.Litigation.Defendant, &f.Litigation.OpposingCounsel); err != nil && err != sql.ErrNoRows {
		return nil, fmt.Errorf("load litigation: %w", err)
	}

	row = s.DB.QueryRowContext(ctx, `SELECT COALESCE(demand_sent_date,''), COALESCE(last_offer_amount,0), COALESCE(settlement_amount,0), COALESCE(settlement_date,'')
FROM fact_negotiation WHERE case_id=?`, caseID)
	if err := row.Scan(&f.Negotiation.DemandSentDate, &f.Negotiation.LastOfferAmount, &f.Negotiation.SettlementAmount, &f.Negotiation.SettlementDate); err != nil && err != sql.ErrNoRows {
		return nil, fmt.Errorf("load negotiation: %w", err)
	}

	rows, err = s.DB.QueryContext(ctx, `SELECT COALESCE(ts,''), COALESCE(kind,''), text FROM fact_notes WHERE case_id=? ORDER BY ts`, caseID)
	if err != nil {
		return nil, fmt.Errorf("load notes: %w", err)
	}
	for rows.Next() {
		var n Note
		if err := rows.Scan(&n.TS, &n.Kind, &n.Text); err != nil {
			rows.Close()
			return nil, err
		}
		f.Notes = append(f.Notes, n)
	}
	rows.Close()

	return f, nil
}

// Replace overwrites the stored facts snapshot for a case in one transaction
// and drops the cache entry so the next read sees the import.
func (s *Store) Replace(ctx context.Context, caseID string, f *CaseFacts) error {
	if f == nil {
		return fmt.Errorf("facts snapshot required")
	}
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, table := range []string{"fact_overview", "fact_claims", "fact_providers", "fact_liens", "fact_documents", "fact_litigation", "fact_negotiation", "fact_notes"} {
		if _, err := tx.ExecContext(ctx, fmt.Sprintf(`DELETE FROM %s WHERE case_id=?`, table), caseID); err != nil {
			return fmt.Errorf("clear %s: %w", table, err)
		}
	}

	if _, err := tx.ExecContext(ctx, `INSERT INTO fact_overview(case_id,client_name,accident_date,accident_type,phase_hint) VALUES (?,?,?,?,?)`,
		caseID, f.Overview.ClientName, f.Overview.AccidentDate, f.Overview.AccidentType, f.Overview.PhaseHint); err != nil {
		return fmt.Errorf("insert overview: %w", err)
	}
	for claimType, claims := range f.Claims {
		for _, c := range claims {
			if c.Type == "" {
				c.Type = claimType
			}
			if _, err := tx.ExecContext(ctx, `INSERT INTO fact_claims(case_id,type,insurer,claim_number,adjuster,policy_limit) VALUES (?,?,?,?,?,?)`,
				caseID, c.Type, c.Insurer, c.ClaimNumber, c.Adjuster, c.PolicyLimit); err != nil {
				return fmt.Errorf("insert claim: %w", err)
			}
		}
	}
	for _, p := range f.Providers {
		if _, err := tx.ExecContext(ctx, `INSERT INTO fact_providers(case_id,name,treatment_complete,records_received,bills_received) VALUES (?,?,?,?,?)`,
			caseID, p.Name, p.TreatmentComplete, p.RecordsReceived, p.BillsReceived); err != nil {
			return fmt.Errorf("insert provider: %w", err)
		}
	}
	for _, l := range f.Liens {
		if _, err := tx.ExecContext(ctx, `INSERT INTO fact_liens(case_id,holder,amount,resolved) VALUES (?,?,?,?)`,
			caseID, l.Holder, l.Amount, l.Resolved); err != nil {
			return fmt.Errorf("insert lien: %w", err)
		}
	}
	for name, d := range f.Documents {
		if d.Name == "" {
			d.Name = name
		}
		if _, err := tx.ExecContext(ctx, `INSERT INTO fact_documents(case_id,name,signed,signed_at,sent_at,received_at) VALUES (?,?,?,?,?,?)`,
			caseID, d.Name, d.Signed, d.SignedAt, d.SentAt, d.ReceivedAt); err != nil {
			return fmt.Errorf("insert document: %w", err)
		}
	}
	lit := f.Litigation
	if _, err := tx.ExecContext(ctx, `INSERT INTO fact_litigation(case_id,complaint_filed_date,service_date,discovery_request_date,discovery_response_date,deposition_date,mediation_date,trial_date,defendant,opposing_counsel)
VALUES (?,?,?,?,?,?,?,?,?,?)`,
		caseID, lit.ComplaintFiledDate, lit.ServiceDate, lit.DiscoveryRequestDate, lit.DiscoveryResponseDate, lit.DepositionDate, lit.MediationDate, lit.TrialDate, lit.Defendant, lit.OpposingCounsel); err != nil {
		return fmt.Errorf("insert litigation: %w", err)
	}
	neg := f.Negotiation
	if _, err := tx.ExecContext(ctx, `INSERT INTO fact_negotiation(case_id,demand_sent_date,last_offer_amount,settlement_amount,settlement_date) VALUES (?,?,?,?,?)`,
		caseID, neg.DemandSentDate, neg.LastOfferAmount, neg.SettlementAmount, neg.SettlementDate); err != nil {
		return fmt.Errorf("insert negotiation: %w", err)
	}
	for _, n := range f.Notes {
		if _, err := tx.ExecContext(ctx, `INSERT INTO fact_notes(case_id,ts,kind,text) VALUES (?,?,?,?)`,
			caseID, n.TS, n.Kind, n.Text); err != nil {
			return fmt.Errorf("insert note: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	s.Invalidate(caseID)
	return nil
}
