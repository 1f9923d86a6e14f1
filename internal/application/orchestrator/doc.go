// Package orchestrator runs named composite nodes on behalf of the APIs and
// the worker pool.
//
// The orchestrator manager:
//   - Registers composites built from manifests
//   - Manages the run lifecycle (submit, execute, cancel)
//   - Forwards node lifecycle events to the event bus, tagged with the run id
//   - Tracks run state via state storage
//
// The validator rejects malformed manifests before they are built.
package orchestrator
