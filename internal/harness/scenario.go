package harness

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"gopkg.in/yaml.v3"

	"github.com/roach88/strand/internal/engine"
	"github.com/roach88/strand/internal/invariant"
	"github.com/roach88/strand/internal/world"
)

//go:embed schema.cue
var schemaCUE []byte

// Scenario is a named action sequence with expectations about how the
// run ends.
type Scenario struct {
	// Name uniquely identifies the scenario and names its golden file.
	Name string `yaml:"name" json:"name"`

	Description string `yaml:"description,omitempty" json:"description,omitempty"`

	// Permissive runs the engine without narrative checks, so the
	// actions can break rules the checker must then catch.
	Permissive bool `yaml:"permissive,omitempty" json:"permissive,omitempty"`

	Policy RejectionPolicy `yaml:"policy,omitempty" json:"policy,omitempty"`

	Actions []engine.Record `yaml:"actions" json:"actions"`

	Expect Expectation `yaml:"expect,omitempty" json:"expect,omitempty"`

	// Assertions are evaluated against the final store.
	Assertions []Assertion `yaml:"assertions,omitempty" json:"assertions,omitempty"`

	// Path is the file the scenario was loaded from.
	Path string `yaml:"-" json:"-"`
}

// Expectation describes how a run must end. The zero value expects a
// clean run with no rejections.
type Expectation struct {
	// Violations lists the rules the final violations must break, each
	// at least once. No other rule may be broken.
	Violations []invariant.Rule `yaml:"violations,omitempty" json:"violations,omitempty"`

	// FailingIndex, when set, is the expected failing index.
	FailingIndex *int `yaml:"failing_index,omitempty" json:"failing_index,omitempty"`

	// Rejected lists the indexes of the actions the engine must reject.
	Rejected []int `yaml:"rejected,omitempty" json:"rejected,omitempty"`
}

// Assertion type constants.
const (
	AssertAlive        = "alive"
	AssertDead         = "dead"
	AssertExists       = "exists"
	AssertRelationship = "relationship"
	AssertKnows        = "knows"
	AssertHoldsMemory  = "holds_memory"
)

// Assertion checks one fact about the final store.
type Assertion struct {
	Type      string              `yaml:"type" json:"type"`
	Character *world.CharacterID  `yaml:"character,omitempty" json:"character,omitempty"`
	Other     *world.CharacterID  `yaml:"other,omitempty" json:"other,omitempty"`
	Timeline  *world.TimelineID   `yaml:"timeline,omitempty" json:"timeline,omitempty"`
	Memory    *world.MemoryID     `yaml:"memory,omitempty" json:"memory,omitempty"`
	Flag      string              `yaml:"flag,omitempty" json:"flag,omitempty"`
	State     *world.Relationship `yaml:"state,omitempty" json:"state,omitempty"`

	// Negate inverts the assertion.
	Negate bool `yaml:"negate,omitempty" json:"negate,omitempty"`
}

// LoadScenario reads a scenario from a .yaml, .yml or .cue file.
// Unknown fields are errors, so typos do not silently pass.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}

	var sc *Scenario
	switch ext := filepath.Ext(path); ext {
	case ".yaml", ".yml":
		sc, err = ParseYAML(data)
	case ".cue":
		sc, err = ParseCUE(path, data)
	default:
		return nil, fmt.Errorf("%s: unsupported scenario extension %q", path, ext)
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	sc.Path = path
	return sc, nil
}

// ParseYAML decodes and validates a YAML scenario.
func ParseYAML(data []byte) (*Scenario, error) {
	var sc Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&sc); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}
	if err := sc.Validate(); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &sc, nil
}

// ParseCUE unifies a CUE scenario with the embedded #Scenario schema,
// exports it as JSON and decodes that.
func ParseCUE(filename string, data []byte) (*Scenario, error) {
	ctx := cuecontext.New()

	schema := ctx.CompileBytes(schemaCUE, cue.Filename("schema.cue"))
	if err := schema.Err(); err != nil {
		return nil, fmt.Errorf("compiling scenario schema: %w", err)
	}
	def := schema.LookupPath(cue.ParsePath("#Scenario"))

	v := ctx.CompileBytes(data, cue.Filename(filename))
	if err := v.Err(); err != nil {
		return nil, fmt.Errorf("failed to parse CUE: %w", err)
	}
	unified := def.Unify(v)
	if err := unified.Validate(cue.Concrete(true)); err != nil {
		return nil, fmt.Errorf("scenario does not match schema: %w", err)
	}

	exported, err := unified.MarshalJSON()
	if err != nil {
		return nil, fmt.Errorf("exporting CUE: %w", err)
	}
	var sc Scenario
	dec := json.NewDecoder(bytes.NewReader(exported))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&sc); err != nil {
		return nil, fmt.Errorf("decoding exported CUE: %w", err)
	}
	if err := sc.Validate(); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &sc, nil
}

// LoadDir loads every scenario file in dir, sorted by file name.
func LoadDir(dir string) ([]*Scenario, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("reading scenario directory: %w", err)
	}
	var out []*Scenario
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		switch filepath.Ext(e.Name()) {
		case ".yaml", ".yml", ".cue":
		default:
			continue
		}
		sc, err := LoadScenario(filepath.Join(dir, e.Name()))
		if err != nil {
			return nil, err
		}
		out = append(out, sc)
	}
	return out, nil
}

// Validate checks fields that decoding cannot.
func (sc *Scenario) Validate() error {
	if strings.TrimSpace(sc.Name) == "" {
		return fmt.Errorf("name is required")
	}
	if len(sc.Actions) == 0 {
		return fmt.Errorf("actions list is required and must be non-empty")
	}
	if !sc.Policy.Valid() {
		return fmt.Errorf("unknown policy %q", sc.Policy)
	}
	if _, err := Decode(sc.Actions); err != nil {
		return err
	}
	for _, r := range sc.Expect.Violations {
		if !r.Valid() {
			return fmt.Errorf("expect.violations: unknown rule %q", r)
		}
	}
	if fi := sc.Expect.FailingIndex; fi != nil && (*fi < -1 || *fi >= len(sc.Actions)) {
		return fmt.Errorf("expect.failing_index %d out of range", *fi)
	}
	for i, a := range sc.Assertions {
		if err := validateAssertion(i, a); err != nil {
			return err
		}
	}
	return nil
}

func validateAssertion(index int, a Assertion) error {
	need := func(ok bool, field string) error {
		if !ok {
			return fmt.Errorf("assertions[%d]: %s is required for %s", index, field, a.Type)
		}
		return nil
	}
	switch a.Type {
	case AssertAlive, AssertDead, AssertExists:
		if err := need(a.Character != nil, "character"); err != nil {
			return err
		}
		return need(a.Timeline != nil, "timeline")
	case AssertRelationship:
		for _, f := range []struct {
			ok   bool
			name string
		}{
			{a.Character != nil, "character"},
			{a.Other != nil, "other"},
			{a.Timeline != nil, "timeline"},
			{a.State != nil, "state"},
		} {
			if err := need(f.ok, f.name); err != nil {
				return err
			}
		}
		return nil
	case AssertKnows:
		if err := need(a.Character != nil, "character"); err != nil {
			return err
		}
		if err := need(a.Timeline != nil, "timeline"); err != nil {
			return err
		}
		return need(a.Flag != "", "flag")
	case AssertHoldsMemory:
		if err := need(a.Character != nil, "character"); err != nil {
			return err
		}
		return need(a.Memory != nil, "memory")
	case "":
		return fmt.Errorf("assertions[%d]: type is required", index)
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}
}

// expectedRules returns the distinct expected rules in rule order.
func (e Expectation) expectedRules() []invariant.Rule {
	out := slices.Clone(e.Violations)
	slices.SortFunc(out, func(a, b invariant.Rule) int { return a.Number() - b.Number() })
	return slices.Compact(out)
}
