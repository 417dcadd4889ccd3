// Package api defines the domain types shared by every colloquy layer.
//
// It holds the persisted entities (threads, messages, API keys, audit entries),
// the normalized model catalog shape, the canonical relay event payloads, the
// exchange state machine and the error taxonomy together with the upstream
// error classifier.
//
// Core types:
//   - [Thread]: a conversation pinned to one provider and model
//   - [Message]: an immutable, append-only conversation turn
//   - [NormalizedModel]: a vendor model reshaped into one catalog entry
//   - [APIError]: structured error carrying an [ErrorCode]
//   - [ExchangeState]: lifecycle of one request/stream cycle
//
// The package performs no I/O.
package api
