package engine

import (
	"fmt"

	"caseline/internal/domain"
	"caseline/internal/facts"
)

// Suggestion is one derivation rule's opinion about a workflow. An empty
// Status means the rule found no evidence either way.
type Suggestion struct {
	Status   string
	Reason   string
	Evidence string
}

// Rule infers a workflow status from the facts snapshot. Rules never inspect
// the persisted status; monotonicity is enforced by the sync layer. Missing
// or partial facts yield no opinion, never an error.
type Rule func(f *facts.CaseFacts) Suggestion

// rules maps workflow ids to their derivation rule. Workflows without an
// entry are left to manual step completion.
var rules = map[string]Rule{
	"sign_retainer": func(f *facts.CaseFacts) Suggestion {
		doc, ok := f.Document("retainer")
		if !ok {
			return Suggestion{}
		}
		if doc.Signed {
			return Suggestion{domain.StatusComplete, "retainer agreement is signed", signedEvidence(doc)}
		}
		if doc.SentAt != "" {
			return Suggestion{domain.StatusWaitingOnUser, "retainer sent, awaiting signature", "sent " + doc.SentAt}
		}
		return Suggestion{}
	},
	"collect_insurance_info": func(f *facts.CaseFacts) Suggestion {
		claim, ok := f.Claim("bi")
		if !ok || claim.Insurer == "" {
			return Suggestion{}
		}
		if claim.PolicyLimit > 0 {
			return Suggestion{domain.StatusComplete, "coverage verified", fmt.Sprintf("%s policy limit %.0f", claim.Insurer, claim.PolicyLimit)}
		}
		return Suggestion{domain.StatusInProgress, "insurer identified, coverage unverified", claim.Insurer}
	},
	"open_bi_claim": func(f *facts.CaseFacts) Suggestion {
		return claimRule(f, "bi", "BI")
	},
	"open_pd_claim": func(f *facts.CaseFacts) Suggestion {
		return claimRule(f, "pd", "PD")
	},
	"treatment_monitoring": func(f *facts.CaseFacts) Suggestion {
		if len(f.Providers) == 0 {
			return Suggestion{}
		}
		done := 0
		for _, p := range f.Providers {
			if p.TreatmentComplete {
				done++
			}
		}
		if done == len(f.Providers) {
			return Suggestion{domain.StatusComplete, "all providers report treatment complete",
				fmt.Sprintf("all %d providers have completed treatment", len(f.Providers))}
		}
		return Suggestion{domain.StatusInProgress, "client is still treating",
			fmt.Sprintf("%d of %d providers complete", done, len(f.Providers))}
	},
	"collect_medical_records": func(f *facts.CaseFacts) Suggestion {
		return providerCollectionRule(f, "records",
			func(p facts.Provider) bool { return p.RecordsReceived })
	},
	"collect_bills": func(f *facts.CaseFacts) Suggestion {
		return providerCollectionRule(f, "bills",
			func(p facts.Provider) bool { return p.BillsReceived })
	},
	"send_demand": func(f *facts.CaseFacts) Suggestion {
		if f.Negotiation.DemandSentDate != "" {
			return Suggestion{domain.StatusComplete, "demand has been sent", "sent " + f.Negotiation.DemandSentDate}
		}
		return Suggestion{}
	},
	"negotiate_settlement": func(f *facts.CaseFacts) Suggestion {
		neg := f.Negotiation
		if neg.SettlementDate != "" || neg.SettlementAmount > 0 {
			ev := neg.SettlementDate
			if ev == "" {
				ev = fmt.Sprintf("settled for %.0f", neg.SettlementAmount)
			}
			return Suggestion{domain.StatusComplete, "settlement reached", ev}
		}
		if neg.LastOfferAmount > 0 {
			return Suggestion{domain.StatusInProgress, "offer on the table", fmt.Sprintf("last offer %.0f", neg.LastOfferAmount)}
		}
		return Suggestion{}
	},
	"resolve_liens": func(f *facts.CaseFacts) Suggestion {
		if len(f.Liens) == 0 {
			return Suggestion{}
		}
		open := 0
		for _, l := range f.Liens {
			if !l.Resolved {
				open++
			}
		}
		if open == 0 {
			return Suggestion{domain.StatusComplete, "all liens resolved", fmt.Sprintf("all %d liens resolved", len(f.Liens))}
		}
		return Suggestion{domain.StatusInProgress, "liens outstanding", fmt.Sprintf("%d of %d liens open", open, len(f.Liens))}
	},
}

func claimRule(f *facts.CaseFacts, claimType, label string) Suggestion {
	claim, ok := f.Claim(claimType)
	if !ok {
		return Suggestion{}
	}
	if claim.ClaimNumber != "" {
		return Suggestion{domain.StatusComplete,
			label + " claim is open", "claim number " + claim.ClaimNumber}
	}
	if claim.Insurer != "" {
		return Suggestion{domain.StatusInProgress,
			label + " insurer identified, no claim number yet", claim.Insurer}
	}
	return Suggestion{}
}

func providerCollectionRule(f *facts.CaseFacts, what string, received func(facts.Provider) bool) Suggestion {
	if len(f.Providers) == 0 {
		return Suggestion{}
	}
	got := 0
	for _, p := range f.Providers {
		if received(p) {
			got++
		}
	}
	if got == len(f.Providers) {
		return Suggestion{domain.StatusComplete,
			fmt.Sprintf("%s received from all providers", what),
			fmt.Sprintf("%s received from all %d providers", what, len(f.Providers))}
	}
	if got > 0 {
		return Suggestion{domain.StatusInProgress,
			fmt.Sprintf("%s partially received", what),
			fmt.Sprintf("%s from %d of %d providers", what, got, len(f.Providers))}
	}
	return Suggestion{}
}

func signedEvidence(doc facts.Document) string {
	if doc.SignedAt != "" {
		return "signed " + doc.SignedAt
	}
	return "signed"
}

// Derive runs the rule for a workflow id. Unregistered ids return no opinion.
func Derive(workflowID string, f *facts.CaseFacts) Suggestion {
	rule, ok := rules[workflowID]
	if !ok || f == nil {
		return Suggestion{}
	}
	return rule(f)
}
