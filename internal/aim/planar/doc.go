// Package planar is the reference collaborator set: a modeler whose faces
// are rectangles in one plane, scaled by the "width" and "height"
// parameters, and an analysis plugin that discretizes those faces into
// structured triangle grids and produces closed-form fields.
//
// It stands in for a real geometry kernel and real solvers in tests,
// scenarios and the CLI. Every collaborator call is counted in Calls.
package planar
