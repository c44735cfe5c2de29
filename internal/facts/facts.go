package facts

import "context"

// CaseFacts is the read-only snapshot of independently-sourced case data the
// derivation rules compare persisted status against. Absent fields mean
// "no evidence", never an error.
type CaseFacts struct {
	Overview    Overview            `json:"overview"`
	Claims      map[string][]Claim  `json:"claims,omitempty"`
	Providers   []Provider          `json:"providers,omitempty"`
	Liens       []Lien              `json:"liens,omitempty"`
	Documents   map[string]Document `json:"documents,omitempty"`
	Litigation  Litigation          `json:"litigation"`
	Negotiation Negotiation         `json:"negotiation"`
	Notes       []Note              `json:"notes,omitempty"`
}

type Overview struct {
	CaseID       string `json:"case_id"`
	ClientName   string `json:"client_name,omitempty"`
	AccidentDate string `json:"accident_date,omitempty"`
	AccidentType string `json:"accident_type,omitempty"`
	PhaseHint    string `json:"phase_hint,omitempty"`
}

// Claim is one insurance claim record, keyed in CaseFacts.Claims by type
// (bi, pd, um, med_pay).
type Claim struct {
	Type        string  `json:"type"`
	Insurer     string  `json:"insurer,omitempty"`
	ClaimNumber string  `json:"claim_number,omitempty"`
	Adjuster    string  `json:"adjuster,omitempty"`
	PolicyLimit float64 `json:"policy_limit,omitempty"`
}

type Provider struct {
	Name              string `json:"name"`
	TreatmentComplete bool   `json:"treatment_complete,omitempty"`
	RecordsReceived   bool   `json:"records_received,omitempty"`
	BillsReceived     bool   `json:"bills_received,omitempty"`
}

type Lien struct {
	Holder   string  `json:"holder"`
	Amount   float64 `json:"amount,omitempty"`
	Resolved bool    `json:"resolved,omitempty"`
}

type Document struct {
	Name       string `json:"name"`
	Signed     bool   `json:"signed,omitempty"`
	SignedAt   string `json:"signed_at,omitempty"`
	SentAt     string `json:"sent_at,omitempty"`
	ReceivedAt string `json:"received_at,omitempty"`
}

// Litigation is the litigation record; all dates are YYYY-MM-DD strings,
// empty when the milestone has not happened.
type Litigation struct {
	ComplaintFiledDate    string `json:"complaint_filed_date,omitempty"`
	ServiceDate           string `json:"service_date,omitempty"`
	DiscoveryRequestDate  string `json:"discovery_request_date,omitempty"`
	DiscoveryResponseDate string `json:"discovery_response_date,omitempty"`
	DepositionDate        string `json:"deposition_date,omitempty"`
	MediationDate         string `json:"mediation_date,omitempty"`
	TrialDate             string `json:"trial_date,omitempty"`
	Defendant             string `json:"defendant,omitempty"`
	OpposingCounsel       string `json:"opposing_counsel,omitempty"`
}

type Negotiation struct {
	DemandSentDate   string  `json:"demand_sent_date,omitempty"`
	LastOfferAmount  float64 `json:"last_offer_amount,omitempty"`
	SettlementAmount float64 `json:"settlement_amount,omitempty"`
	SettlementDate   string  `json:"settlement_date,omitempty"`
}

type Note struct {
	TS   string `json:"ts,omitempty"`
	Kind string `json:"kind,omitempty"`
	Text string `json:"text"`
}

// Claim returns the first claim of the given type, if any.
func (f *CaseFacts) Claim(claimType string) (Claim, bool) {
	if f == nil || f.Claims == nil {
		return Claim{}, false
	}
	list := f.Claims[claimType]
	if len(list) == 0 {
		return Claim{}, false
	}
	return list[0], true
}

// Document returns the named document record, if present.
func (f *CaseFacts) Document(name string) (Document, bool) {
	if f == nil || f.Documents == nil {
		return Document{}, false
	}
	d, ok := f.Documents[name]
	return d, ok
}

// LastContactDate returns the timestamp of the most recent client-contact note.
func (f *CaseFacts) LastContactDate() string {
	if f == nil {
		return ""
	}
	last := ""
	for _, n := range f.Notes {
		if n.Kind != "client_contact" {
			continue
		}
		if n.TS > last {
			last = n.TS
		}
	}
	return last
}

// Port is the case-data boundary. It is the only engine dependency allowed to
// fail upward; callers should treat a Port error as "status is stale".
type Port interface {
	Facts(ctx context.Context, caseID string) (*CaseFacts, error)
}

// Static serves fixed facts from memory. Used in tests and for one-shot
// evaluation of imported snapshots.
type Static struct {
	ByCase map[string]*CaseFacts
}

func (s Static) Facts(_ context.Context, caseID string) (*CaseFacts, error) {
	if s.ByCase != nil {
		if f, ok := s.ByCase[caseID]; ok {
			return f, nil
		}
	}
	return &CaseFacts{Overview: Overview{CaseID: caseID}}, nil
}

// None is the explicit "no facts available" adapter: every lookup yields an
// empty snapshot, so rules uniformly produce no opinion.
type None struct{}

func (None) Facts(_ context.Context, caseID string) (*CaseFacts, error) {
	return &CaseFacts{Overview: Overview{CaseID: caseID}}, nil
}
