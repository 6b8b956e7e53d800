package vertical

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/ScientiaCapital/ai-development-cockpit-sub000/internal/domain"
)

func writeCatalog(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "verticals.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("writing catalog: %v", err)
	}
	return path
}

// --- Load ---

func TestLoad_EmptyPathUsesBuiltinCatalog(t *testing.T) {
	store, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	for _, id := range []string{"hvac_mep", "solar", "roofing"} {
		if !store.Has(id) {
			t.Errorf("built-in catalog missing %q", id)
		}
	}
}

func TestLoad_YAMLFile(t *testing.T) {
	path := writeCatalog(t, `
verticals:
  - id: plumbing
    display_name: Plumbing Contractors
    agents:
      - name: general
        description: Answers general questions.
    sample_queries:
      - "Which jobs are open?"
`)
	store, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	vc, err := store.Get("plumbing")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if vc.DisplayName != "Plumbing Contractors" {
		t.Errorf("DisplayName = %q", vc.DisplayName)
	}
	if len(vc.Agents) != 1 || vc.Agents[0].Name != "general" {
		t.Errorf("Agents = %+v", vc.Agents)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Fatal("expected error for missing catalog file")
	}
}

func TestLoad_InvalidYAML(t *testing.T) {
	path := writeCatalog(t, "verticals: [unclosed")
	if _, err := Load(path); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestLoad_EmptyCatalog(t *testing.T) {
	path := writeCatalog(t, "verticals: []\n")
	if _, err := Load(path); err == nil {
		t.Fatal("expected error for catalog with no verticals")
	}
}

// --- NewStore ---

func TestNewStore_DuplicateID(t *testing.T) {
	_, err := NewStore([]domain.VerticalConfig{
		{ID: "hvac_mep"},
		{ID: "hvac_mep"},
	})
	if err == nil {
		t.Fatal("expected duplicate id error")
	}
}

func TestNewStore_MissingID(t *testing.T) {
	_, err := NewStore([]domain.VerticalConfig{{DisplayName: "No ID"}})
	if err == nil {
		t.Fatal("expected error for vertical without an id")
	}
}

// --- Lookups ---

func TestGet_Unknown(t *testing.T) {
	store, _ := Load("")
	_, err := store.Get("landscaping")
	if !errors.Is(err, ErrUnknownVertical) {
		t.Fatalf("err = %v, want ErrUnknownVertical", err)
	}
}

func TestList_Sorted(t *testing.T) {
	store, _ := Load("")
	got := store.List()
	want := []string{"hvac_mep", "roofing", "solar"}
	if len(got) != len(want) {
		t.Fatalf("List = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("List = %v, want %v", got, want)
		}
	}
}

func TestDefaultCatalog_AgentLookup(t *testing.T) {
	store, _ := Load("")
	vc, err := store.Get("hvac_mep")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if _, ok := vc.Agent("dispatch_scheduler"); !ok {
		t.Error("hvac_mep should offer dispatch_scheduler")
	}
	if _, ok := vc.Agent("pipeline_analyst"); ok {
		t.Error("hvac_mep should not offer pipeline_analyst")
	}
}
