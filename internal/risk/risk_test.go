package risk

import "testing"

func TestAllow(t *testing.T) {
	limits := Limits{MaxBidPerPush: 25000}
	if !limits.Allow(24999.99) {
		t.Fatalf("expected bid under limit to pass")
	}
	if limits.Allow(25000.01) {
		t.Fatalf("expected bid above limit to fail")
	}
}

func TestAllowUncapped(t *testing.T) {
	if !(Limits{}).Allow(1e9) {
		t.Fatalf("expected zero ceiling to disable the cap")
	}
}
