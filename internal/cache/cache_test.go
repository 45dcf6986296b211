package cache

import "testing"

func TestTechResearchKeyStableUnderStackReordering(t *testing.T) {
	a := TechResearchKey("database", "web-app", []string{"postgres", "redis"}, "digest1")
	b := TechResearchKey("database", "web-app", []string{"redis", "postgres"}, "digest1")

	if a != b {
		t.Fatalf("expected stable key regardless of stack order: %q != %q", a, b)
	}
}

func TestKeysAreNamespacedByDomain(t *testing.T) {
	tr := TechResearchKey("database", "web-app", nil, "d")
	ca := CodeAnalysisKey("abc123")
	ai := APIInferenceKey("def456")

	if tr[:13] != "tech_research" {
		t.Fatalf("expected tech_research prefix, got %q", tr)
	}
	if ca != "code_analysis:abc123" {
		t.Fatalf("unexpected code analysis key: %q", ca)
	}
	if ai != "api_inference:def456" {
		t.Fatalf("unexpected api inference key: %q", ai)
	}
}
