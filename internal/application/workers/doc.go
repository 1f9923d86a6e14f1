// Package workers executes submitted runs on a fixed pool of goroutines.
//
// The pool subscribes to the runs topic and queues every submitted run id.
// Each worker takes run ids from the queue and hands them to an Executor,
// normally the orchestrator manager, which performs the load pass and
// records its outcome.
//
// The health monitor periodically records worker and queue metrics.
package workers
