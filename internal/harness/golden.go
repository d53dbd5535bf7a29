package harness

import (
	"testing"

	"github.com/sebdah/goldie/v2"

	"github.com/roach88/caps/internal/ir"
)

// GoldenDir is where golden traces live, relative to the test package.
const GoldenDir = "testdata/golden"

// TraceSnapshot captures the journal of a scenario run in canonical form.
type TraceSnapshot struct {
	ScenarioName string
	SessionID    string
	Records      []ir.Record
	Calls        map[string]int
}

// Snapshot builds the golden snapshot of a result.
func Snapshot(name string, result *Result) TraceSnapshot {
	return TraceSnapshot{
		ScenarioName: name,
		SessionID:    result.SessionID,
		Records:      result.Records,
		Calls:        result.Calls,
	}
}

// Canonical serializes the snapshot as canonical JSON. Record bodies carry
// their arguments with reals as bit patterns, so equal runs produce
// byte-identical output.
func (s TraceSnapshot) Canonical() ([]byte, error) {
	records := make(ir.IRArray, len(s.Records))
	for i := range s.Records {
		records[i] = s.Records[i].Body()
	}
	calls := ir.IRObject{}
	for m, n := range s.Calls {
		calls[m] = ir.IRInt(n)
	}
	return ir.MarshalCanonical(ir.IRObject{
		"scenario_name": ir.IRString(s.ScenarioName),
		"session_id":    ir.IRString(s.SessionID),
		"records":       records,
		"calls":         calls,
	})
}

// RunWithGolden executes a scenario and compares its trace against a
// golden file named after the scenario in dir (GoldenDir when empty).
//
// To regenerate golden files, run:
//
//	go test ./internal/harness -update
//
// Returns error if scenario execution fails.
// Test failure (via goldie) occurs if the trace doesn't match the golden
// file.
func RunWithGolden(t *testing.T, scenario *Scenario, dir string) (*Result, error) {
	t.Helper()

	result, err := Run(scenario)
	if err != nil {
		return nil, err
	}
	return result, AssertGolden(t, scenario.Name, result, dir)
}

// AssertGolden compares an already computed result against a golden file.
func AssertGolden(t *testing.T, scenarioName string, result *Result, dir string) error {
	t.Helper()

	data, err := Snapshot(scenarioName, result).Canonical()
	if err != nil {
		return err
	}
	golden(t, dir).Assert(t, scenarioName, data)
	return nil
}

// UpdateGolden writes a result's snapshot as the golden file.
func UpdateGolden(t *testing.T, scenarioName string, result *Result, dir string) error {
	t.Helper()

	data, err := Snapshot(scenarioName, result).Canonical()
	if err != nil {
		return err
	}
	return golden(t, dir).Update(t, scenarioName, data)
}

func golden(t *testing.T, dir string) *goldie.Goldie {
	if dir == "" {
		dir = GoldenDir
	}
	return goldie.New(t,
		goldie.WithFixtureDir(dir),
		goldie.WithNameSuffix(".golden"),
	)
}
