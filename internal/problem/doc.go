// Package problem is the root of the caps core: one Problem owns the entity
// arena, the serial clock, the journal session and the collaborator state,
// and exposes every journaled operation on them.
//
// Every public mutating or collaborator-touching operation runs through
// Problem.call, which hands it to the journal session. In live mode the
// operation body runs and its result is recorded together with a delta of
// the arena slots it changed; in replay mode the recorded delta is installed
// instead, so replay never calls the AIMs, the geometry or the modeler.
// Collaborator instances and the built geometry are recreated lazily the
// first time a live operation needs them.
//
// The clock advances at most once per operation, at its first mutation.
// Lazily computed artifacts (analysis outputs, transferred fields) are cache
// fills stamped with the serial number of the data they were derived from;
// they do not advance the clock.
package problem
