package engine

import (
	"fmt"
	"strings"

	"caseline/internal/defs"
	"caseline/internal/domain"
	"caseline/internal/expr"
	"caseline/internal/facts"
)

// evalCtx resolves expression field paths against the combined case state and
// facts snapshot. Unknown roots and absent records resolve to not-found, which
// expressions treat as false.
type evalCtx struct {
	state *domain.CaseState
	facts *facts.CaseFacts
}

func (e evalCtx) Resolve(path string) (any, bool) {
	parts := strings.Split(path, ".")
	switch parts[0] {
	case "documents":
		if len(parts) != 3 || e.facts == nil {
			return nil, false
		}
		doc, ok := e.facts.Document(parts[1])
		if !ok {
			return nil, false
		}
		switch parts[2] {
		case "signed":
			return doc.Signed, true
		case "signed_at":
			return doc.SignedAt, true
		case "sent_at":
			return doc.SentAt, true
		case "received_at":
			return doc.ReceivedAt, true
		}
		return nil, false
	case "claims":
		if len(parts) != 3 || e.facts == nil {
			return nil, false
		}
		claim, ok := e.facts.Claim(parts[1])
		if !ok {
			return nil, false
		}
		switch parts[2] {
		case "insurer":
			return claim.Insurer, true
		case "claim_number":
			return claim.ClaimNumber, true
		case "adjuster":
			return claim.Adjuster, true
		case "policy_limit":
			return claim.PolicyLimit, true
		}
		return nil, false
	case "providers":
		if len(parts) != 2 || e.facts == nil {
			return nil, false
		}
		ps := e.facts.Providers
		switch parts[1] {
		case "count":
			return len(ps), true
		case "all_treatment_complete":
			return allProviders(ps, func(p facts.Provider) bool { return p.TreatmentComplete }), true
		case "all_records_received":
			return allProviders(ps, func(p facts.Provider) bool { return p.RecordsReceived }), true
		case "all_bills_received":
			return allProviders(ps, func(p facts.Provider) bool { return p.BillsReceived }), true
		}
		return nil, false
	case "liens":
		if len(parts) != 2 || e.facts == nil {
			return nil, false
		}
		switch parts[1] {
		case "count":
			return len(e.facts.Liens), true
		case "all_resolved":
			// No liens means nothing is outstanding.
			for _, l := range e.facts.Liens {
				if !l.Resolved {
					return false, true
				}
			}
			return true, true
		}
		return nil, false
	case "litigation":
		if len(parts) != 2 || e.facts == nil {
			return nil, false
		}
		lit := e.facts.Litigation
		switch parts[1] {
		case "complaint_filed_date":
			return lit.ComplaintFiledDate, true
		case "service_date":
			return lit.ServiceDate, true
		case "discovery_request_date":
			return lit.DiscoveryRequestDate, true
		case "discovery_response_date":
			return lit.DiscoveryResponseDate, true
		case "deposition_date":
			return lit.DepositionDate, true
		case "mediation_date":
			return lit.MediationDate, true
		case "trial_date":
			return lit.TrialDate, true
		case "defendant":
			return lit.Defendant, true
		case "opposing_counsel":
			return lit.OpposingCounsel, true
		}
		return nil, false
	case "negotiation":
		if len(parts) != 2 || e.facts == nil {
			return nil, false
		}
		neg := e.facts.Negotiation
		switch parts[1] {
		case "demand_sent_date":
			return neg.DemandSentDate, true
		case "last_offer_amount":
			return neg.LastOfferAmount, true
		case "settlement_amount":
			return neg.SettlementAmount, true
		case "settlement_date":
			return neg.SettlementDate, true
		}
		return nil, false
	case "workflow":
		if len(parts) != 3 || parts[2] != "complete" || e.state == nil {
			return nil, false
		}
		return workflowComplete(e.state, parts[1]), true
	}
	return nil, false
}

func allProviders(ps []facts.Provider, done func(facts.Provider) bool) bool {
	if len(ps) == 0 {
		return false
	}
	for _, p := range ps {
		if !done(p) {
			return false
		}
	}
	return true
}

// workflowComplete searches every phase and litigation subphase for the
// workflow and reports whether it reached a terminal status.
func workflowComplete(state *domain.CaseState, workflowID string) bool {
	for _, ph := range state.Phases {
		if w := ph.Workflows[workflowID]; w != nil && domain.TerminalStatus(w.Status) {
			return true
		}
		for _, sp := range ph.Subphases {
			if w := sp.Workflows[workflowID]; w != nil && domain.TerminalStatus(w.Status) {
				return true
			}
		}
	}
	return false
}

// criterionMet checks a field-path/required-value pair. "true" and "present"
// both mean the resolved value must be truthy; any other required value is
// compared as a string, case-insensitively.
func criterionMet(ctx expr.Context, c defs.Criterion) bool {
	v, ok := ctx.Resolve(c.FieldPath)
	if !ok {
		return false
	}
	switch strings.ToLower(c.RequiredValue) {
	case "", "true", "present":
		return expr.Truthy(v)
	default:
		return strings.EqualFold(fmt.Sprintf("%v", v), c.RequiredValue)
	}
}

// evidenceFor renders a human-readable line for a satisfied criterion.
func evidenceFor(f *facts.CaseFacts, fieldPath string) string {
	switch fieldPath {
	case "providers.all_treatment_complete":
		return fmt.Sprintf("✓ all %d providers have completed treatment", len(f.Providers))
	case "providers.all_records_received":
		return fmt.Sprintf("✓ records received from all %d providers", len(f.Providers))
	case "providers.all_bills_received":
		return fmt.Sprintf("✓ bills received from all %d providers", len(f.Providers))
	case "liens.all_resolved":
		if len(f.Liens) == 0 {
			return "✓ no liens identified"
		}
		return fmt.Sprintf("✓ all %d liens resolved", len(f.Liens))
	case "documents.retainer.signed":
		if doc, ok := f.Document("retainer"); ok && doc.SignedAt != "" {
			return "✓ retainer signed " + doc.SignedAt
		}
		return "✓ retainer signed"
	case "negotiation.settlement_date":
		return "✓ settlement reached " + f.Negotiation.SettlementDate
	}
	return "✓ " + fieldPath
}
