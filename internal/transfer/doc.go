// Package transfer moves field data between non-matching discretizations
// of one bound.
//
// Interpolate locates every target point on the source in a shared
// location space (native parameters, quilt parameters or physical space)
// and evaluates the source field there.
//
// Conserve solves, per field component, for target point values that
// match the source at fixed reference points of every target element while
// a penalty drives the integrated flux of the target to that of the
// source. The objective's gradient comes from a two-pass scheme: the
// forward pass records every element it visits on a tape, and the reverse
// pass walks the tape backward through the adjoint primitives.
package transfer
