package tone

import (
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestParsePersona(t *testing.T) {
	p, err := ParsePersona(" boss ")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p != PersonaBoss {
		t.Errorf("expected BOSS, got %q", p)
	}

	if _, err := ParsePersona("FRIEND"); err == nil {
		t.Error("expected error for unknown persona")
	}
}

func TestParseLevel(t *testing.T) {
	l, err := ParseLevel("firm_but_respectful")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if l != LevelFirmButRespectful {
		t.Errorf("expected FIRM_BUT_RESPECTFUL, got %q", l)
	}
	if _, err := ParseLevel("RUDE"); err == nil {
		t.Error("expected error for unknown level")
	}
}

func TestParseContexts_CollapsesDuplicates(t *testing.T) {
	got, err := ParseContexts([]string{"URGING", "request", "URGING", "APOLOGY"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := []Context{ContextApology, ContextRequest, ContextUrging}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("contexts mismatch (-want +got):\n%s", diff)
	}
}

func TestParseContexts_Unknown(t *testing.T) {
	if _, err := ParseContexts([]string{"REQUEST", "PARTY"}); err == nil {
		t.Error("expected error for unknown context")
	}
}

func TestNormalizeContexts_OrderIrrelevant(t *testing.T) {
	a := NormalizeContexts([]Context{ContextUrging, ContextRequest})
	b := NormalizeContexts([]Context{ContextRequest, ContextUrging, ContextRequest})
	if diff := cmp.Diff(a, b); diff != "" {
		t.Errorf("normalised sets differ (-a +b):\n%s", diff)
	}
}

func TestIsReceiverSide(t *testing.T) {
	for _, p := range Personas() {
		want := p == PersonaClient || p == PersonaOfficial
		if got := IsReceiverSide(p); got != want {
			t.Errorf("IsReceiverSide(%s) = %v, want %v", p, got, want)
		}
	}
}

func TestLabels_CoverEveryValue(t *testing.T) {
	for _, p := range Personas() {
		if PersonaLabel(p) == string(p) {
			t.Errorf("persona %s has no label", p)
		}
	}
	for _, c := range Contexts() {
		if ContextLabel(c) == string(c) {
			t.Errorf("context %s has no label", c)
		}
	}
	for _, l := range Levels() {
		if LevelLabel(l) == string(l) {
			t.Errorf("level %s has no label", l)
		}
	}
}

func TestContextLabels(t *testing.T) {
	got := ContextLabels([]Context{ContextRequest, ContextApology})
	if got != "요청, 사과" {
		t.Errorf("unexpected labels %q", got)
	}
}
