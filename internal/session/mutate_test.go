package session

import (
	"testing"
	"time"
)

func TestWithGapsSetsPendingDecisionsToGapCategories(t *testing.T) {
	now := time.Now()
	s := New("s1", "p1", "u1", "d1", now)
	gaps := []Gap{
		{Category: GapAuthentication, Priority: PriorityHigh},
		{Category: GapDatabase, Priority: PriorityCritical},
		{Category: GapStorage, Priority: PriorityMedium},
	}

	next := s.WithGaps(gaps, now)

	if len(next.PendingDecisions) != len(gaps) {
		t.Fatalf("expected %d pending decisions, got %d", len(gaps), len(next.PendingDecisions))
	}
	want := map[GapCategory]bool{GapAuthentication: true, GapDatabase: true, GapStorage: true}
	for _, c := range next.PendingDecisions {
		if !want[c] {
			t.Fatalf("unexpected pending category %q", c)
		}
	}
}

func TestWithDecisionRemovesFromPending(t *testing.T) {
	now := time.Now()
	s := New("s1", "p1", "u1", "d1", now).WithGaps([]Gap{
		{Category: GapAuthentication}, {Category: GapDatabase},
	}, now)

	next := s.WithDecision(Decision{Category: GapAuthentication, Option: "Auth0", DecidedAt: now})

	if len(next.PendingDecisions) != 1 || next.PendingDecisions[0] != GapDatabase {
		t.Fatalf("expected only database pending, got %v", next.PendingDecisions)
	}
	if _, ok := next.SelectedTech[GapAuthentication]; !ok {
		t.Fatalf("expected authentication to be selected")
	}
}

func TestRetractDecisionReturnsCategoryToPending(t *testing.T) {
	now := time.Now()
	s := New("s1", "p1", "u1", "d1", now).
		WithGaps([]Gap{{Category: GapHosting}}, now).
		WithDecision(Decision{Category: GapHosting, Option: "Lambda", DecidedAt: now})

	next := s.RetractDecision(GapHosting)

	if _, ok := next.SelectedTech[GapHosting]; ok {
		t.Fatalf("expected hosting decision retracted")
	}
	if !containsCategory(next.PendingDecisions, GapHosting) {
		t.Fatalf("expected hosting back in pending decisions")
	}
}

func TestProgressNeverDecreases(t *testing.T) {
	now := time.Now()
	s := New("s1", "p1", "u1", "d1", now).WithCompleteness(90, nil, nil, now)
	before := s.ProgressPercentage

	// withProgress with a lower value must not regress progress.
	after := s.withProgress(before - 1)

	if after.ProgressPercentage != before {
		t.Fatalf("progress regressed: %d -> %d", before, after.ProgressPercentage)
	}
}

func TestOriginalSessionUnmutatedByMutators(t *testing.T) {
	now := time.Now()
	original := New("s1", "p1", "u1", "d1", now)

	_ = original.WithGaps([]Gap{{Category: GapEmail}}, now)

	if len(original.PendingDecisions) != 0 {
		t.Fatalf("expected original session's PendingDecisions untouched, got %v", original.PendingDecisions)
	}
}
