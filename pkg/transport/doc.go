// Package transport defines the contract between the HTTP adapter and the
// chat orchestrator, plus the middleware chain wrapped around it.
//
// # Contract
//
//   - ChatService runs one exchange: it receives a SendRequest and writes
//     the outcome to an EventWriter.
//   - EventWriter abstracts the outward protocol. In streaming mode the
//     service emits zero or more deltas followed by exactly one done or
//     error event; in non-streaming mode it writes one complete message.
//
// # Middleware
//
// Middleware wraps ChatService with cross-cutting behavior. Built-in
// middleware provides panic recovery, request ID assignment (X-Request-ID)
// and structured logging via log/slog.
//
// The InFlightRegistry tracks running exchanges by thread so that a cancel
// request can stop one that is still streaming.
package transport
