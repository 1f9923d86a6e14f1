// Package events provides event bus implementations.
//
// Implementations:
//   - memory: in-process, synchronous delivery
//   - redis: Redis Streams with consumer groups
//   - nats: core NATS subjects, queue group for submitted runs
package events
