// Package ir holds the caps intermediate representation: the constrained
// value model used for journal arguments and content ids, its canonical
// encoding, and the compiled problem description.
//
// ir imports nothing internal; every other package may import it.
//
// Constraints:
//   - No float values in the canonical form. Reals travel as their IEEE-754
//     bit pattern (RealBits) so hashing and replay are bit-exact.
//   - JSON tags use snake_case.
//   - Ordering is by serial number only, never wall-clock time.
package ir
