// Package websocket provides real-time event streaming via WebSocket.
//
// Clients can connect to /api/v1/runs/:id/ws to receive the run and
// lifecycle events of one run as JSON messages. The connection is closed
// once the run finishes.
package websocket
