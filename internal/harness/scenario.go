package harness

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/roach88/caps/internal/compiler"
	"github.com/roach88/caps/internal/ir"
)

// Scenario defines a conformance test scenario.
// A scenario loads a problem description, drives it through a sequence of
// operations, checks what each one returns and then asserts on the journal
// and final state. Every scenario is replayed from its own journal and
// must reproduce the live run exactly.
type Scenario struct {
	// Name uniquely identifies this scenario. It names the golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Spec is the path of the CUE problem description.
	// Relative paths are resolved against the scenario file location.
	Spec string `yaml:"spec"`

	// Problem selects one problem of the description. Optional when the
	// description declares exactly one.
	Problem string `yaml:"problem,omitempty"`

	// SessionID is a fixed journal session id for deterministic traces.
	// Defaults to "test-session".
	SessionID string `yaml:"session_id,omitempty"`

	// SkipReplay disables the replay check.
	SkipReplay bool `yaml:"skip_replay,omitempty"`

	// Steps are the operations to run, in order.
	Steps []Step `yaml:"steps"`

	// Assertions validate the journal and the final state.
	Assertions []Assertion `yaml:"assertions"`
}

// Step is one operation on the problem.
type Step struct {
	// Op is the operation name, one of the Op* constants.
	Op string `yaml:"op"`

	// Target names the entity the operation acts on: an analysis
	// ("aero"), a value ("aero.Alpha"), a bound ("surface"), a data set
	// ("surface.struct.pressure") or a design parameter ("width").
	Target string `yaml:"target,omitempty"`

	// Source names the link source for link_value: a value or a data set.
	Source string `yaml:"source,omitempty"`

	// Method is the transfer method for link_value.
	Method string `yaml:"method,omitempty"`

	// Value is the data for set_value, set_data and set_geometry_param.
	Value []float64 `yaml:"value,omitempty"`

	// Face and UV locate a geometry_sensitivity query.
	Face string     `yaml:"face,omitempty"`
	UV   [2]float64 `yaml:"uv,omitempty"`

	// Attr names the attribute for set_attr and delete_attr.
	Attr string `yaml:"attr,omitempty"`

	// Expect checks the operation's result. Without it, the step must
	// succeed.
	Expect *Expect `yaml:"expect,omitempty"`
}

// Expect specifies the expected outcome of a step.
type Expect struct {
	// Error is the expected error code (e.g. "STILL_DIRTY"). Empty means
	// the step must succeed.
	Error string `yaml:"error,omitempty"`

	// Value is the expected data, compared within Tolerance.
	Value     []float64 `yaml:"value,omitempty"`
	Tolerance float64   `yaml:"tolerance,omitempty"`

	// Count is the expected number of returned values.
	Count int `yaml:"count,omitempty"`

	// Names is the expected name list of walk and sync.
	Names []string `yaml:"names,omitempty"`

	// Status is the expected analysis status of status.
	Status string `yaml:"status,omitempty"`
}

// Operation names.
const (
	OpLoad                = "load"
	OpSetValue            = "set_value"
	OpLinkValue           = "link_value"
	OpUnlinkValue         = "unlink_value"
	OpPreAnalysis         = "pre_analysis"
	OpExecute             = "execute"
	OpPostAnalysis        = "post_analysis"
	OpGetOutput           = "get_output"
	OpStatus              = "status"
	OpWalk                = "walk"
	OpSync                = "sync"
	OpSetGeometryParam    = "set_geometry_param"
	OpRegisterSensitivity = "register_sensitivity"
	OpGeometrySensitivity = "geometry_sensitivity"
	OpCloseBound          = "close_bound"
	OpRebuildBound        = "rebuild_bound"
	OpDestroyBound        = "destroy_bound"
	OpGetData             = "get_data"
	OpSetData             = "set_data"
	OpSetAttr             = "set_attr"
	OpDeleteAttr          = "delete_attr"
)

var targetRequired = map[string]bool{
	OpLoad:                false,
	OpSetValue:            true,
	OpLinkValue:           true,
	OpUnlinkValue:         true,
	OpPreAnalysis:         true,
	OpExecute:             true,
	OpPostAnalysis:        true,
	OpGetOutput:           true,
	OpStatus:              true,
	OpWalk:                false,
	OpSync:                false,
	OpSetGeometryParam:    true,
	OpRegisterSensitivity: true,
	OpGeometrySensitivity: true,
	OpCloseBound:          true,
	OpRebuildBound:        true,
	OpDestroyBound:        true,
	OpGetData:             true,
	OpSetData:             true,
	OpSetAttr:             true,
	OpDeleteAttr:          true,
}

// Assertion validates the journal or the final state.
type Assertion struct {
	// Type specifies the assertion type, one of the Assert* constants.
	Type string `yaml:"type"`

	// Op is a journal opcode name (journal_contains, journal_count).
	Op string `yaml:"op,omitempty"`

	// Ops is the expected opcode order (journal_order).
	Ops []string `yaml:"ops,omitempty"`

	// Count is the expected number of occurrences (journal_count,
	// collaborator_calls).
	Count int `yaml:"count,omitempty"`

	// Target names an analysis (final_status), a bound (bound_state) or a
	// value (final_value).
	Target string `yaml:"target,omitempty"`

	// Status is the expected analysis status (final_status).
	Status string `yaml:"status,omitempty"`

	// State is the expected bound state (bound_state).
	State string `yaml:"state,omitempty"`

	// Value and Tolerance are the expected value data (final_value).
	Value     []float64 `yaml:"value,omitempty"`
	Tolerance float64   `yaml:"tolerance,omitempty"`

	// Method is a collaborator method name such as "AIM.Execute"
	// (collaborator_calls).
	Method string `yaml:"method,omitempty"`
}

// Assertion type constants.
const (
	AssertJournalContains   = "journal_contains"
	AssertJournalOrder      = "journal_order"
	AssertJournalCount      = "journal_count"
	AssertFinalStatus       = "final_status"
	AssertFinalValue        = "final_value"
	AssertBoundState        = "bound_state"
	AssertCollaboratorCalls = "collaborator_calls"
)

// LoadScenario reads and parses a scenario YAML file.
// The description path is resolved relative to the scenario file. Returns an
// error if the file doesn't exist, is malformed, contains unknown fields
// (typos), or is missing required fields.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}

	// Parse YAML with strict field validation (catches typos like "step:" vs "steps:")
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if scenario.Spec != "" && !filepath.IsAbs(scenario.Spec) {
		scenario.Spec = filepath.Join(filepath.Dir(path), scenario.Spec)
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}

	return &scenario, nil
}

// compile loads the scenario's problem description.
func (s *Scenario) compile() (*ir.ProblemSpec, error) {
	src, err := os.ReadFile(s.Spec)
	if err != nil {
		return nil, fmt.Errorf("read spec: %w", err)
	}
	spec, err := compiler.CompileSource(s.Spec, src, s.Problem)
	if err != nil {
		return nil, fmt.Errorf("compile spec: %w", err)
	}
	if verrs := compiler.Validate(spec); len(verrs) > 0 {
		return nil, fmt.Errorf("validate spec: %w", verrs[0])
	}
	return spec, nil
}

// validateScenario checks that required fields are present and valid.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}

	if s.Description == "" {
		return fmt.Errorf("description is required")
	}

	if s.Spec == "" {
		return fmt.Errorf("spec is required")
	}
	if _, err := os.Stat(s.Spec); os.IsNotExist(err) {
		return fmt.Errorf("spec file not found: %s", s.Spec)
	}

	if len(s.Steps) == 0 {
		return fmt.Errorf("steps list is required and must be non-empty")
	}

	for i, step := range s.Steps {
		needsTarget, ok := targetRequired[step.Op]
		if !ok {
			return fmt.Errorf("steps[%d]: unknown op %q", i, step.Op)
		}
		if needsTarget && step.Target == "" {
			return fmt.Errorf("steps[%d]: target is required for %s", i, step.Op)
		}
		if step.Op == OpLinkValue && step.Source == "" {
			return fmt.Errorf("steps[%d]: source is required for link_value", i)
		}
		if (step.Op == OpSetAttr || step.Op == OpDeleteAttr) && step.Attr == "" {
			return fmt.Errorf("steps[%d]: attr is required for %s", i, step.Op)
		}
		if step.Op == OpSetGeometryParam && len(step.Value) != 1 {
			return fmt.Errorf("steps[%d]: set_geometry_param takes exactly one value", i)
		}
	}

	for i, assertion := range s.Assertions {
		if err := validateAssertion(i, &assertion); err != nil {
			return err
		}
	}

	return nil
}

// validateAssertion validates a single assertion based on its type.
func validateAssertion(index int, a *Assertion) error {
	if a.Type == "" {
		return fmt.Errorf("assertions[%d]: type is required", index)
	}

	switch a.Type {
	case AssertJournalContains:
		if a.Op == "" {
			return fmt.Errorf("assertions[%d]: op is required for journal_contains", index)
		}
	case AssertJournalOrder:
		if len(a.Ops) == 0 {
			return fmt.Errorf("assertions[%d]: ops list is required for journal_order", index)
		}
	case AssertJournalCount:
		if a.Op == "" {
			return fmt.Errorf("assertions[%d]: op is required for journal_count", index)
		}
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative for journal_count", index)
		}
	case AssertFinalStatus:
		if a.Target == "" || a.Status == "" {
			return fmt.Errorf("assertions[%d]: target and status are required for final_status", index)
		}
	case AssertFinalValue:
		if a.Target == "" || len(a.Value) == 0 {
			return fmt.Errorf("assertions[%d]: target and value are required for final_value", index)
		}
	case AssertBoundState:
		if a.Target == "" || a.State == "" {
			return fmt.Errorf("assertions[%d]: target and state are required for bound_state", index)
		}
	case AssertCollaboratorCalls:
		if a.Method == "" {
			return fmt.Errorf("assertions[%d]: method is required for collaborator_calls", index)
		}
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}

	return nil
}
