// Package journal records every public Problem operation and replays a
// recorded session bit-for-bit.
//
// A Session runs each operation through one of two strategies:
//
//   - live: the operation executes and its call key, inputs, outputs,
//     status and clock window are appended to the log.
//   - replay: the next recorded entry must match the call key and inputs.
//     Its outputs are restored without executing the operation, so no
//     collaborator (modeler or analysis tool) is invoked.
//
// Any divergence during replay is JournalCorrupt and poisons the session.
// When the recorded entries run out, a replaying session switches to live
// execution and keeps appending to the same session.
package journal
