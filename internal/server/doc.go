// Package server exposes the gate over HTTP.
//
// Routes:
//
//   - GET  /health: liveness, sandbox backend and pending approval count
//   - POST /check: security verdict for {command}, nothing runs
//   - POST /exec: run a gate.Call; blocks while a permission is pending
//   - GET  /permission: pending approval requests, oldest first
//   - GET  /permission/{id}: one pending request
//   - POST /permission/{id}/reply: {response: once|always|reject}
//   - GET  /event: Server-Sent Events stream of bus events
//
// Errors are written as {"error": {"code": ..., "message": ...}}.
//
// The /event stream starts with a server.connected event. Each bus event is
// then sent as an "event: message" frame whose data is the event JSON
// ({"type": ..., "data": ...}). A heartbeat comment is written every
// SSEHeartbeatInterval.
package server
