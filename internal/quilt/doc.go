// Package quilt builds a synthetic shared parameterization for a bound
// whose vertex sets lie on different geometric entities.
//
// The vertex set with the largest discretized area is the reference. Its
// triangles are welded, unfolded edge by edge into a planar chart,
// smoothed and normalized to the unit square. A bilinear tensor-product
// grid X(u, v) is then fitted to the reference points by least squares
// and refined until the RMS error meets the tolerance. Every other vertex
// set gets its parameters by locating its points on the reference mesh.
package quilt
