// Package harness runs conformance scenarios against a problem.
//
// A scenario loads a CUE problem description, drives the problem through
// a list of operations with deterministic collaborators, and checks both
// what every operation returned and what the journal recorded.
//
// # Scenario Format
//
// Scenarios are defined in YAML files with the following structure:
//
//	name: plate_sync
//	description: "Sync runs aero before struct"
//	spec: ../specs/plate.cue
//	steps:
//	  - op: load
//	  - op: set_value
//	    target: aero.Alpha
//	    value: [4]
//	  - op: post_analysis
//	    target: aero
//	    expect:
//	      error: STILL_DIRTY
//	  - op: sync
//	    expect:
//	      names: [aero, struct]
//	assertions:
//	  - type: journal_order
//	    ops: [SetValue, Sync]
//	  - type: final_status
//	    target: struct
//	    status: Clean
//
// # Assertion Types
//
//   - journal_contains: an opcode appears in the journal
//   - journal_order: opcodes first appear in the given order
//   - journal_count: an opcode appears exactly N times
//   - collaborator_calls: the live run called a collaborator method N times
//   - final_status: an analysis' staleness after the last step
//   - final_value: a value's stored data after the last step
//   - bound_state: a bound's registry state after the last step
//
// # Determinism
//
// Every run uses a fixed session id, fixed provenance stamps and counting
// planar collaborators. After the live run the session is replayed from
// its own journal: the replay must observe exactly what the live run did
// and must not call a collaborator. The journal of the live run is the
// trace, compared against golden files with RunWithGolden.
//
// # Usage
//
//	scenario, err := harness.LoadScenario("testdata/scenarios/plate_sync.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	result, err := harness.Run(scenario)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	for _, msg := range result.Errors {
//	    log.Println(msg)
//	}
package harness
