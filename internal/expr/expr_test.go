package expr

import "testing"

func TestParseBareField(t *testing.T) {
	e, err := Parse("documents.retainer.signed")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	ctx := MapContext{"documents.retainer.signed": true}
	if !e.Eval(ctx) {
		t.Fatalf("expected true for signed document")
	}
	if e.Eval(MapContext{}) {
		t.Fatalf("missing field must be false")
	}
}

func TestParseEquality(t *testing.T) {
	e, err := Parse("claims.bi.status == open")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if !e.Eval(MapContext{"claims.bi.status": "open"}) {
		t.Fatalf("expected equality to hold")
	}
	if e.Eval(MapContext{"claims.bi.status": "closed"}) {
		t.Fatalf("expected equality to fail")
	}
	if e.Eval(MapContext{}) {
		t.Fatalf("missing field must be false")
	}
}

func TestParseOr(t *testing.T) {
	e, err := Parse("documents.hipaa.signed OR documents.retainer.signed")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if !e.Eval(MapContext{"documents.retainer.signed": true}) {
		t.Fatalf("one true operand should satisfy OR")
	}
	if e.Eval(MapContext{"documents.retainer.signed": false}) {
		t.Fatalf("all-false operands should fail OR")
	}
}

func TestParseAnd(t *testing.T) {
	e, err := Parse("litigation.complaint_filed_date AND litigation.defendant")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	ctx := MapContext{
		"litigation.complaint_filed_date": "2025-03-01",
		"litigation.defendant":            "Acme Corp",
	}
	if !e.Eval(ctx) {
		t.Fatalf("both operands present, expected true")
	}
	delete(ctx, "litigation.defendant")
	if e.Eval(ctx) {
		t.Fatalf("missing operand should fail AND")
	}
}

// Equality is recognized before OR, matching the fixed operator order.
func TestEqualityBeforeOr(t *testing.T) {
	e, err := Parse("a == x OR y")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if !e.Eval(MapContext{"a": "x OR y"}) {
		t.Fatalf("expected whole right side treated as equality operand")
	}
}

func TestParseErrors(t *testing.T) {
	for _, in := range []string{"", "  ", "a ==", "== b", "two words"} {
		if _, err := Parse(in); err == nil {
			t.Fatalf("expected parse error for %q", in)
		}
	}
}

func TestParseAllAndsRequirements(t *testing.T) {
	e, err := ParseAll([]string{"documents.retainer.signed", "workflow.open_bi_claim.complete"})
	if err != nil {
		t.Fatalf("parse all: %v", err)
	}
	ctx := MapContext{
		"documents.retainer.signed":      true,
		"workflow.open_bi_claim.complete": true,
	}
	if !e.Eval(ctx) {
		t.Fatalf("all requirements met, expected true")
	}
	ctx["workflow.open_bi_claim.complete"] = false
	if e.Eval(ctx) {
		t.Fatalf("one unmet requirement should fail")
	}
}

func TestTruthy(t *testing.T) {
	cases := []struct {
		in   any
		want bool
	}{
		{nil, false},
		{true, true},
		{false, false},
		{0, false},
		{3, true},
		{"", false},
		{"false", false},
		{"none", false},
		{"2024-01-01", true},
	}
	for _, c := range cases {
		if got := Truthy(c.in); got != c.want {
			t.Fatalf("Truthy(%v) = %v, want %v", c.in, got, c.want)
		}
	}
}
