// Package restart manages the on-disk restart directory of a problem.
//
// Layout under the problem root:
//
//	<root>/restart/sNum          serial number at the checkpoint
//	<root>/restart/analyses      one line per analysis: nInputs nOutputs name
//	<root>/restart/bounds        one line per bound: index name
//	<root>/restart/problem.json  entity graph snapshot
//	<root>/restart/<analysis>/values.json
//
// A root holding a "link" marker file is an alias into another problem's
// output. Reads follow the alias; writes fail with IllegalState.
//
// Every write is atomic: temp file, fsync, rename, directory fsync.
package restart
