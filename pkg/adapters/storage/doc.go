// Package storage provides run state storage implementations.
//
// Implementations:
//   - redis: Redis with JSON serialization and TTL
//   - memory: in-process map with lazy TTL expiry
package storage
