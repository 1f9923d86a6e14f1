// Package flow implements the sequencing engine used by composite nodes.
//
// Units are registered into one of three ordering groups:
//   - Parallel: members run concurrently, completion order is undefined
//   - Series: members run one at a time in registration order
//   - Eventually: members run after Parallel and Series have succeeded
//
// Exec walks the groups in that order and stops at the first failure.
package flow
