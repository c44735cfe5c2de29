package engine

import (
	"fmt"
	"time"

	"caseline/internal/config"
	"caseline/internal/domain"
	"caseline/internal/facts"
)

// Fallback thresholds when no firm config is loaded.
const (
	defaultSOLYears      = 2
	defaultCriticalDays  = 14
	defaultUrgentDays    = 30
	defaultAttentionDays = 90
)

// ComputeSOL derives the statute-of-limitations record. Precedence:
// a filed complaint in the litigation record is terminal ("fulfilled");
// then an explicit override status; then the computed deadline. The deadline
// uses a fixed years x 365-day offset, a deliberate approximation that is
// kept rather than corrected. Bad or missing dates yield "unknown" with a
// message; this function never fails.
func ComputeSOL(cfg *config.Config, state *domain.CaseState, f *facts.CaseFacts, now time.Time) *domain.SOLRecord {
	prior := state.SOL

	if f != nil && f.Litigation.ComplaintFiledDate != "" {
		return &domain.SOLRecord{
			Status:     domain.SOLFulfilled,
			FilingDate: f.Litigation.ComplaintFiledDate,
			Message:    "complaint filed " + f.Litigation.ComplaintFiledDate,
		}
	}

	if prior != nil && prior.OverrideStatus != "" {
		rec := &domain.SOLRecord{
			Status:         prior.OverrideStatus,
			OverrideStatus: prior.OverrideStatus,
			Notes:          prior.Notes,
			FilingDate:     prior.FilingDate,
		}
		if prior.OverrideStatus == domain.SOLFiled {
			rec.Message = "suit filed; statute satisfied"
		}
		return rec
	}

	if state.AccidentDate == "" {
		return &domain.SOLRecord{Status: domain.SOLUnknown, Message: "no accident date on file"}
	}
	base, err := parseDay(state.AccidentDate)
	if err != nil {
		return &domain.SOLRecord{
			Status:  domain.SOLUnknown,
			Message: fmt.Sprintf("cannot parse accident date %q", state.AccidentDate),
		}
	}

	years := defaultSOLYears
	if cfg != nil {
		years = cfg.CategoryFor(state.ID).Years
	}
	deadline := base.AddDate(0, 0, years*365)
	days := int(deadline.Sub(now).Hours() / 24)

	rec := &domain.SOLRecord{
		Status:        solStatus(cfg, days),
		BaseDate:      base.Format("2006-01-02"),
		Years:         years,
		Deadline:      deadline.Format("2006-01-02"),
		DaysRemaining: &days,
	}
	if days < 0 {
		rec.Message = "statute period has expired"
	}
	return rec
}

func solStatus(cfg *config.Config, days int) string {
	critical, urgent, attention := defaultCriticalDays, defaultUrgentDays, defaultAttentionDays
	if cfg != nil && cfg.SOL.Thresholds.AttentionDays > 0 {
		critical = cfg.SOL.Thresholds.CriticalDays
		urgent = cfg.SOL.Thresholds.UrgentDays
		attention = cfg.SOL.Thresholds.AttentionDays
	}
	switch {
	case days <= critical:
		return domain.SOLCritical
	case days <= urgent:
		return domain.SOLUrgent
	case days <= attention:
		return domain.SOLAttention
	}
	return domain.SOLSafe
}

// parseDay accepts YYYY-MM-DD or RFC3339 timestamps.
func parseDay(s string) (time.Time, error) {
	if t, err := time.Parse("2006-01-02", s); err == nil {
		return t, nil
	}
	return time.Parse(time.RFC3339, s)
}
