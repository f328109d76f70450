// Package scenario loads the fixture catalogs that describe what a scenario
// is expected to emit. Catalogs are YAML files, one scenario per file,
// loaded once at startup and immutable afterwards.
package scenario

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/OrcaBus/platform-integration-tests/internal/domain"
)

// Fixture describes one expected event within a scenario file.
type Fixture struct {
	// Alias names the fixture so other fixtures can declare it as a
	// prerequisite. Defaults to the detail type when unset.
	Alias       string         `yaml:"alias"`
	DetailType  string         `yaml:"detailType"`
	Source      string         `yaml:"source"`
	MatchFields []string       `yaml:"matchFields"`
	Seq         int            `yaml:"seq"`
	Prereqs     []string       `yaml:"prereqs"`
	Payload     map[string]any `yaml:"payload"`
	// PinPayload pins the full-payload hash; a matched event whose payload
	// digest differs is then classified as a mismatch.
	PinPayload bool `yaml:"pinPayload"`
}

// Scenario is a parsed fixture catalog.
type Scenario struct {
	Name           string    `yaml:"name"`
	Description    string    `yaml:"description"`
	TimeoutSeconds int       `yaml:"timeoutSeconds"`
	Fixtures       []Fixture `yaml:"fixtures"`
}

// Catalog resolves scenario names to fixture catalogs.
type Catalog struct {
	scenarios       map[string]Scenario
	defaultScenario string
}

// LoadCatalog parses every *.yaml file in dir into a Catalog.
// defaultScenario is used as the fallback when an unknown scenario is
// requested.
func LoadCatalog(dir, defaultScenario string) (*Catalog, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read scenario dir %s: %w", dir, err)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if ext := filepath.Ext(e.Name()); ext == ".yaml" || ext == ".yml" {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	c := &Catalog{scenarios: make(map[string]Scenario, len(names)), defaultScenario: defaultScenario}
	for _, name := range names {
		data, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			return nil, fmt.Errorf("read scenario %s: %w", name, err)
		}
		sc, err := Parse(data)
		if err != nil {
			return nil, fmt.Errorf("scenario %s: %w", name, err)
		}
		if _, exists := c.scenarios[sc.Name]; exists {
			return nil, fmt.Errorf("scenario %s: duplicate name %q", name, sc.Name)
		}
		c.scenarios[sc.Name] = sc
	}
	return c, nil
}

// Parse parses and validates a single scenario document.
func Parse(data []byte) (Scenario, error) {
	var sc Scenario
	if err := yaml.Unmarshal(data, &sc); err != nil {
		return Scenario{}, fmt.Errorf("parse scenario: %w", err)
	}
	if err := sc.validate(); err != nil {
		return Scenario{}, err
	}
	return sc, nil
}

func (sc Scenario) validate() error {
	if strings.TrimSpace(sc.Name) == "" {
		return fmt.Errorf("scenario name is required")
	}
	if len(sc.Fixtures) == 0 {
		return fmt.Errorf("scenario %s has no fixtures", sc.Name)
	}
	aliases := make(map[string]bool, len(sc.Fixtures))
	for i, f := range sc.Fixtures {
		if strings.TrimSpace(f.DetailType) == "" {
			return fmt.Errorf("scenario %s: fixture %d has no detailType", sc.Name, i)
		}
		alias := f.effectiveAlias()
		if aliases[alias] {
			return fmt.Errorf("scenario %s: duplicate fixture alias %q", sc.Name, alias)
		}
		aliases[alias] = true
	}
	for i, f := range sc.Fixtures {
		for _, p := range f.Prereqs {
			if !aliases[p] {
				return fmt.Errorf("scenario %s: fixture %d references unknown prerequisite %q", sc.Name, i, p)
			}
			if p == f.effectiveAlias() {
				return fmt.Errorf("scenario %s: fixture %d lists itself as prerequisite", sc.Name, i)
			}
		}
	}
	return nil
}

func (f Fixture) effectiveAlias() string {
	if f.Alias != "" {
		return f.Alias
	}
	return f.DetailType
}

// Resolve returns the named scenario, falling back to the catalog's default
// scenario. domain.ErrScenarioNotFound is returned when neither resolves.
func (c *Catalog) Resolve(name string) (Scenario, error) {
	if sc, ok := c.scenarios[name]; ok {
		return sc, nil
	}
	if sc, ok := c.scenarios[c.defaultScenario]; ok {
		return sc, nil
	}
	return Scenario{}, fmt.Errorf("%w: %q", domain.ErrScenarioNotFound, name)
}

// Names lists the loaded scenario names in sorted order.
func (c *Catalog) Names() []string {
	names := make([]string, 0, len(c.scenarios))
	for name := range c.scenarios {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Expectations converts the scenario's fixtures into expectation records for
// a run, assigning order indexes, resolving prerequisite aliases to
// expectation ids, and pinning payload hashes where requested.
func (sc Scenario) Expectations(runID string) []domain.Expectation {
	idByAlias := make(map[string]string, len(sc.Fixtures))
	for i, f := range sc.Fixtures {
		idByAlias[f.effectiveAlias()] = expectationID(i)
	}
	fixtures := make([]domain.Expectation, 0, len(sc.Fixtures))
	for i, f := range sc.Fixtures {
		e := domain.Expectation{
			ID:              expectationID(i),
			RunID:           runID,
			OrderIndex:      i,
			DetailType:      f.DetailType,
			Source:          f.Source,
			MatchFields:     append([]string(nil), f.MatchFields...),
			Seq:             f.Seq,
			ExpectedPayload: f.Payload,
		}
		if f.PinPayload {
			e.PayloadHash = domain.PayloadHash(f.Payload)
		}
		for _, p := range f.Prereqs {
			e.Prereqs = append(e.Prereqs, idByAlias[p])
		}
		fixtures = append(fixtures, e)
	}
	return fixtures
}

func expectationID(orderIndex int) string {
	return fmt.Sprintf("exp-%04d", orderIndex)
}
