// Package vertical implements the read-only vertical configuration store.
// Verticals are loaded once at process start from a YAML catalog and are
// immutable afterwards, so lookups on the dispatch path need no locking.
package vertical

import (
	"errors"
	"fmt"
	"os"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/ScientiaCapital/ai-development-cockpit-sub000/internal/domain"
)

// ErrUnknownVertical is returned when a vertical ID is not in the catalog.
var ErrUnknownVertical = errors.New("unknown vertical")

// Store holds the loaded vertical catalog. Immutable after construction.
type Store struct {
	verticals map[string]*domain.VerticalConfig
}

// catalogFile is the YAML shape of the verticals catalog file.
type catalogFile struct {
	Verticals []domain.VerticalConfig `yaml:"verticals"`
}

// Load reads the catalog from a YAML file. An empty path loads the built-in
// default catalog.
func Load(path string) (*Store, error) {
	if path == "" {
		return NewStore(DefaultCatalog())
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading verticals catalog %s: %w", path, err)
	}

	var file catalogFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parsing verticals catalog %s: %w", path, err)
	}
	if len(file.Verticals) == 0 {
		return nil, fmt.Errorf("verticals catalog %s declares no verticals", path)
	}
	return NewStore(file.Verticals)
}

// NewStore builds a Store from explicit configs. Duplicate IDs are rejected.
func NewStore(configs []domain.VerticalConfig) (*Store, error) {
	verticals := make(map[string]*domain.VerticalConfig, len(configs))
	for i := range configs {
		vc := configs[i]
		if vc.ID == "" {
			return nil, fmt.Errorf("vertical at index %d has no id", i)
		}
		if _, dup := verticals[vc.ID]; dup {
			return nil, fmt.Errorf("duplicate vertical id %q", vc.ID)
		}
		verticals[vc.ID] = &vc
	}
	return &Store{verticals: verticals}, nil
}

// Get returns the configuration for a vertical ID.
func (s *Store) Get(id string) (*domain.VerticalConfig, error) {
	vc, ok := s.verticals[id]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownVertical, id)
	}
	return vc, nil
}

// Has reports whether the vertical exists in the catalog.
func (s *Store) Has(id string) bool {
	_, ok := s.verticals[id]
	return ok
}

// List returns all vertical IDs, sorted for stable output.
func (s *Store) List() []string {
	ids := make([]string, 0, len(s.verticals))
	for id := range s.verticals {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// DefaultCatalog returns the built-in vertical catalog used when no external
// catalog file is configured.
func DefaultCatalog() []domain.VerticalConfig {
	return []domain.VerticalConfig{
		{
			ID:          "hvac_mep",
			DisplayName: "HVAC / MEP Contractors",
			Schema: domain.SchemaConfig{
				Tables: []string{"customers", "equipment", "work_orders", "maintenance_contracts", "technicians"},
				Views:  []string{"open_work_orders", "contract_renewals_due"},
			},
			Agents: []domain.AgentConfig{
				{Name: "dispatch_scheduler", Description: "Schedules service calls and assigns technicians."},
				{Name: "maintenance_advisor", Description: "Analyzes equipment service history and maintenance contracts."},
				{Name: "quote_builder", Description: "Builds installation and repair quotes from equipment data."},
				{Name: "general", Description: "Answers general questions about the workspace data."},
			},
			SampleQueries: []string{
				"Which technicians are free to schedule tomorrow morning?",
				"List rooftop units overdue for maintenance.",
				"Build a quote for replacing the compressor on work order 4417.",
			},
		},
		{
			ID:          "solar",
			DisplayName: "Solar Installers",
			Schema: domain.SchemaConfig{
				Tables: []string{"leads", "site_surveys", "proposals", "installations", "crews"},
				Views:  []string{"pipeline_by_stage", "installs_this_month"},
			},
			Agents: []domain.AgentConfig{
				{Name: "pipeline_analyst", Description: "Analyzes the sales pipeline and lead conversion."},
				{Name: "dispatch_scheduler", Description: "Schedules site surveys and installation crews."},
				{Name: "general", Description: "Answers general questions about the workspace data."},
			},
			SampleQueries: []string{
				"How many proposals are waiting on a site survey?",
				"Schedule crew B for the Hendricks installation next week.",
			},
		},
		{
			ID:          "roofing",
			DisplayName: "Roofing Contractors",
			Schema: domain.SchemaConfig{
				Tables: []string{"jobs", "estimates", "materials", "crews", "inspections"},
				Views:  []string{"jobs_in_progress"},
			},
			Agents: []domain.AgentConfig{
				{Name: "quote_builder", Description: "Builds estimates from measurements and material prices."},
				{Name: "general", Description: "Answers general questions about the workspace data."},
			},
			SampleQueries: []string{
				"Estimate materials for a 32-square architectural shingle job.",
			},
		},
	}
}
