package engine_test

import (
	"testing"
	"time"

	"caseline/internal/config"
	"caseline/internal/domain"
	"caseline/internal/engine"
	"caseline/internal/facts"
)

func solNow() time.Time { return time.Date(2021, 6, 1, 0, 0, 0, 0, time.UTC) }

func TestComputeSOLThresholds(t *testing.T) {
	cfg := config.Default("firm-1")
	cases := []struct {
		name     string
		accident string
		want     string
	}{
		// deadline = accident + 730 days; now is 2021-06-01
		{"safe", "2021-01-01", domain.SOLSafe},
		{"attention", "2019-08-20", domain.SOLAttention}, // ~80 days left
		{"urgent", "2019-06-26", domain.SOLUrgent},       // ~25 days left
		{"critical", "2019-06-11", domain.SOLCritical},   // ~10 days left
		{"expired", "2018-01-01", domain.SOLCritical},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			state := &domain.CaseState{ID: "mva-x", AccidentDate: tc.accident}
			rec := engine.ComputeSOL(cfg, state, nil, solNow())
			if rec.Status != tc.want {
				t.Fatalf("accident %s: expected %s, got %+v", tc.accident, tc.want, rec)
			}
		})
	}
}

func TestComputeSOLCategoryByCaseID(t *testing.T) {
	cfg := config.Default("firm-1")
	state := &domain.CaseState{ID: "premises-fall-2021", AccidentDate: "2021-01-01"}
	rec := engine.ComputeSOL(cfg, state, nil, solNow())
	if rec.Years != 1 {
		t.Fatalf("premises case should get a 1-year statute, got %+v", rec)
	}
	state = &domain.CaseState{ID: "something-else", AccidentDate: "2021-01-01"}
	rec = engine.ComputeSOL(cfg, state, nil, solNow())
	if rec.Years != 2 {
		t.Fatalf("default category should be 2 years, got %+v", rec)
	}
}

func TestComputeSOLNeverFails(t *testing.T) {
	cfg := config.Default("firm-1")
	for _, accident := range []string{"", "not-a-date", "13/45/2021"} {
		state := &domain.CaseState{ID: "mva-x", AccidentDate: accident}
		rec := engine.ComputeSOL(cfg, state, nil, solNow())
		if rec.Status != domain.SOLUnknown || rec.Message == "" {
			t.Fatalf("accident %q: expected unknown with message, got %+v", accident, rec)
		}
	}
}

func TestComputeSOLFiledOverrideIsTerminal(t *testing.T) {
	state := &domain.CaseState{
		ID:           "mva-x",
		AccidentDate: "2019-06-11", // would be critical
		SOL:          &domain.SOLRecord{OverrideStatus: domain.SOLFiled, FilingDate: "2021-01-15"},
	}
	rec := engine.ComputeSOL(config.Default("firm-1"), state, nil, solNow())
	if rec.Status != domain.SOLFiled || rec.DaysRemaining != nil {
		t.Fatalf("filed override must win over the computed value: %+v", rec)
	}
}

func TestComputeSOLComplaintFiledBeatsOverride(t *testing.T) {
	state := &domain.CaseState{
		ID:  "mva-x",
		SOL: &domain.SOLRecord{OverrideStatus: domain.SOLTolled},
	}
	f := &facts.CaseFacts{Litigation: facts.Litigation{ComplaintFiledDate: "2021-03-01"}}
	rec := engine.ComputeSOL(config.Default("firm-1"), state, f, solNow())
	if rec.Status != domain.SOLFulfilled {
		t.Fatalf("filed complaint should yield fulfilled, got %+v", rec)
	}
}
