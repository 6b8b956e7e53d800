// Package selector maps free-text queries to a named agent by keyword match.
//
// The route table is declaratively ordered and matching is first-fit: the
// earliest route whose agent the vertical offers and whose keywords appear in
// the query wins. Ties are broken by declaration order, never by match count,
// so specific agents declared early shadow generic ones declared later.
package selector

import (
	"strings"

	"github.com/ScientiaCapital/ai-development-cockpit-sub000/internal/domain"
)

// FallbackAgent is returned when a vertical offers no agents at all.
const FallbackAgent = "general"

// Route pairs an agent name with the keywords that select it.
type Route struct {
	Agent    string
	Keywords []string
}

// Selector holds the ordered route table. Immutable after construction, so
// Select is a pure function safe for concurrent use.
type Selector struct {
	routes []Route
}

// New creates a selector from an ordered route table.
// A nil or empty table falls back to DefaultRoutes.
func New(routes []Route) *Selector {
	if len(routes) == 0 {
		routes = DefaultRoutes()
	}
	return &Selector{routes: routes}
}

// Select picks the agent for a query from the vertical's available agents.
// The query is case-folded; a route matches when the query contains at least
// one of its keywords. When no route matches, the vertical's first declared
// agent is returned; when the vertical has no agents, FallbackAgent.
func (s *Selector) Select(query string, available []domain.AgentConfig) string {
	folded := strings.ToLower(query)

	for _, route := range s.routes {
		if !hasAgent(available, route.Agent) {
			continue
		}
		for _, kw := range route.Keywords {
			if strings.Contains(folded, kw) {
				return route.Agent
			}
		}
	}

	if len(available) > 0 {
		return available[0].Name
	}
	return FallbackAgent
}

func hasAgent(available []domain.AgentConfig, name string) bool {
	for _, a := range available {
		if a.Name == name {
			return true
		}
	}
	return false
}

// DefaultRoutes is the built-in route table. Order matters: more specific
// agents come first so their keywords shadow the generic ones below.
func DefaultRoutes() []Route {
	return []Route{
		{
			Agent:    "dispatch_scheduler",
			Keywords: []string{"schedule", "dispatch", "technician", "crew", "appointment", "calendar", "tomorrow"},
		},
		{
			Agent:    "maintenance_advisor",
			Keywords: []string{"maintenance", "service history", "warranty", "overdue", "equipment"},
		},
		{
			Agent:    "quote_builder",
			Keywords: []string{"quote", "estimate", "price", "pricing", "cost", "materials"},
		},
		{
			Agent:    "pipeline_analyst",
			Keywords: []string{"pipeline", "lead", "conversion", "proposal", "sales"},
		},
	}
}
