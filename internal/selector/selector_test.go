package selector

import (
	"testing"

	"github.com/ScientiaCapital/ai-development-cockpit-sub000/internal/domain"
)

func agents(names ...string) []domain.AgentConfig {
	out := make([]domain.AgentConfig, len(names))
	for i, n := range names {
		out[i] = domain.AgentConfig{Name: n}
	}
	return out
}

func TestSelect_KeywordMatch(t *testing.T) {
	s := New(nil)
	available := agents("dispatch_scheduler", "maintenance_advisor", "quote_builder", "general")

	tests := []struct {
		name  string
		query string
		want  string
	}{
		{"scheduling", "schedule a technician for the Hogan job", "dispatch_scheduler"},
		{"case folded", "SCHEDULE the crew", "dispatch_scheduler"},
		{"maintenance", "which units are overdue for maintenance", "maintenance_advisor"},
		{"quoting", "build a quote for the rooftop unit replacement", "quote_builder"},
		{"substring match", "what's tomorrow's calendar look like", "dispatch_scheduler"},
		{"no keywords", "tell me about my business", "dispatch_scheduler"}, // first declared agent
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := s.Select(tt.query, available); got != tt.want {
				t.Errorf("Select(%q) = %s, want %s", tt.query, got, tt.want)
			}
		})
	}
}

func TestSelect_FirstFitWinsOnMultipleMatches(t *testing.T) {
	// "schedule" and "quote" both appear; dispatch_scheduler is declared
	// first in the route table, so it wins regardless of match counts.
	s := New(nil)
	available := agents("dispatch_scheduler", "quote_builder", "general")

	got := s.Select("schedule a visit to quote the job", available)
	if got != "dispatch_scheduler" {
		t.Errorf("Select = %s, want dispatch_scheduler", got)
	}
}

func TestSelect_SkipsUnavailableAgents(t *testing.T) {
	// The query matches dispatch_scheduler, but this vertical doesn't offer
	// it; the next matching available route wins.
	s := New(nil)
	available := agents("quote_builder", "general")

	got := s.Select("schedule a crew and estimate the cost", available)
	if got != "quote_builder" {
		t.Errorf("Select = %s, want quote_builder", got)
	}
}

func TestSelect_FallbackToFirstDeclaredAgent(t *testing.T) {
	s := New(nil)
	available := agents("pipeline_analyst", "general")

	got := s.Select("hello there", available)
	if got != "pipeline_analyst" {
		t.Errorf("Select = %s, want first declared agent pipeline_analyst", got)
	}
}

func TestSelect_NoAgentsAtAll(t *testing.T) {
	s := New(nil)
	if got := s.Select("anything", nil); got != FallbackAgent {
		t.Errorf("Select = %s, want %s", got, FallbackAgent)
	}
}

func TestSelect_Deterministic(t *testing.T) {
	s := New(nil)
	available := agents("dispatch_scheduler", "maintenance_advisor", "general")

	first := s.Select("equipment maintenance schedule", available)
	for i := 0; i < 100; i++ {
		if got := s.Select("equipment maintenance schedule", available); got != first {
			t.Fatalf("iteration %d: Select = %s, want %s", i, got, first)
		}
	}
}

func TestSelect_CustomRoutes(t *testing.T) {
	s := New([]Route{
		{Agent: "alpha", Keywords: []string{"foo"}},
		{Agent: "beta", Keywords: []string{"bar"}},
	})
	available := agents("beta", "alpha")

	if got := s.Select("foo and bar", available); got != "alpha" {
		t.Errorf("Select = %s, want alpha (route order, not availability order)", got)
	}
}
