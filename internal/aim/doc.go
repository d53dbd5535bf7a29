// Package aim defines the contracts of the external collaborators the
// core consumes: analysis plugins (AIM), the geometry kernel and the
// parametric modeler.
//
// The core never embeds geometry math. It holds a Discretization returned
// by an AIM and calls back into the AIM's element primitives to locate,
// interpolate and integrate on it. Linear implements those primitives for
// linear triangles and is shared by every collaborator that produces
// triangle meshes.
package aim
