// Package engine implements the chat orchestrator. It loads a thread and its
// history, persists the user turn, drives one exchange against the thread's
// provider adapter and relays the canonical events through a
// transport.EventWriter. The assistant reply is persisted exactly once per
// (thread, request id), and only when the exchange completes.
//
// Exchanges on one thread are serialized by a per-thread lock. A second send
// for the same thread waits for the first to finish, or for its own context
// to end.
package engine
