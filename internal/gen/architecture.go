package gen

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/basegraph-labs/trdforge/internal/llmgw"
	"github.com/basegraph-labs/trdforge/internal/session"
)

// ErrFallbackUsed is returned alongside a valid (fallback) diagram when
// the LLM call failed or produced a diagram missing one of the required
// layers. It is informational, not fatal: callers should still use the
// returned text and only record this as a non-fatal session error.
var ErrFallbackUsed = errors.New("gen: architecture: deterministic fallback used")

// architectureLayers is the fixed six-layer set every diagram must cover
// (§4.11).
var architectureLayers = []string{
	"Client", "Gateway/Load Balancer", "Application/Services",
	"Data (primary + replicas + cache)", "External Services", "Monitoring",
}

// ArchitectureGenerator produces a textual flow-diagram script. When the
// LLM call fails or returns something unparseable, Generate substitutes a
// deterministic fallback template populated from the session's selected
// technologies instead of failing the node outright (§4.11).
type ArchitectureGenerator struct {
	llm llmgw.Gateway
}

// NewArchitecture constructs an ArchitectureGenerator.
func NewArchitecture(l llmgw.Gateway) *ArchitectureGenerator { return &ArchitectureGenerator{llm: l} }

type architectureResponse struct {
	Diagram string `json:"diagram"`
}

func (g *ArchitectureGenerator) Generate(ctx context.Context, s *session.Session) (string, error) {
	prompt := llmgw.Prompt{
		System: "You write a textual flow-diagram script covering exactly these six layers, in " +
			"order: " + strings.Join(architectureLayers, ", ") + ". Label every edge with its " +
			"operation type: read, write, cache, or replication.",
		User:        g.buildUserMessage(s),
		SchemaName:  "architecture_diagram",
		Schema:      llmgw.GenerateSchema[architectureResponse](),
		Temperature: llmgw.Temp(0.2),
		MaxTokens:   4096,
	}

	var out architectureResponse
	_, err := g.llm.CompleteStructured(ctx, prompt, &out)
	if err != nil || !coversAllLayers(out.Diagram) {
		return FallbackArchitectureDiagram(s), ErrFallbackUsed
	}
	return out.Diagram, nil
}

func coversAllLayers(diagram string) bool {
	if diagram == "" {
		return false
	}
	for _, layer := range architectureLayers {
		if !strings.Contains(diagram, layer) {
			return false
		}
	}
	return true
}

func (g *ArchitectureGenerator) buildUserMessage(s *session.Session) string {
	var b strings.Builder
	b.WriteString("Selected technologies:\n")
	for category, decision := range s.SelectedTech {
		fmt.Fprintf(&b, "- %s: %s\n", category, decision.Option)
	}
	return b.String()
}

// FallbackArchitectureDiagram is a pure, deterministic function that
// builds a minimal but complete six-layer diagram from selected
// technologies alone, with no LLM involved — the substitute §4.11
// requires when generation fails.
func FallbackArchitectureDiagram(s *session.Session) string {
	categories := make([]session.GapCategory, 0, len(s.SelectedTech))
	for c := range s.SelectedTech {
		categories = append(categories, c)
	}
	sort.Slice(categories, func(i, j int) bool { return categories[i] < categories[j] })

	techFor := func(c session.GapCategory) string {
		if d, ok := s.SelectedTech[c]; ok {
			return d.Option
		}
		return "unspecified"
	}

	var b strings.Builder
	b.WriteString("Client\n")
	b.WriteString("  -> [write] Gateway/Load Balancer\n")
	b.WriteString("Gateway/Load Balancer\n")
	b.WriteString("  -> [write] Application/Services\n")
	fmt.Fprintf(&b, "Application/Services (hosting: %s)\n", techFor(session.GapHosting))
	fmt.Fprintf(&b, "  -> [write] Data (primary + replicas + cache) (database: %s, cache: %s)\n",
		techFor(session.GapDatabase), techFor(session.GapCaching))
	fmt.Fprintf(&b, "  -> [read] Data (primary + replicas + cache)\n")
	fmt.Fprintf(&b, "  -> [cache] Data (primary + replicas + cache)\n")
	b.WriteString("Data (primary + replicas + cache)\n")
	b.WriteString("  -> [replication] Data (primary + replicas + cache)\n")
	b.WriteString("Application/Services\n")
	external := 0
	for _, c := range categories {
		if c == session.GapHosting || c == session.GapDatabase || c == session.GapCaching {
			continue
		}
		fmt.Fprintf(&b, "  -> [write] External Services (%s: %s)\n", c, techFor(c))
		external++
	}
	if external == 0 {
		b.WriteString("  -> [write] External Services (none selected)\n")
	}
	b.WriteString("Application/Services\n")
	b.WriteString("  -> [write] Monitoring\n")
	return b.String()
}
