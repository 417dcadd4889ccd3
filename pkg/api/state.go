package api

import "fmt"

// ExchangeState is the lifecycle state of one request/response or
// request/stream cycle between the orchestrator and a vendor.
type ExchangeState string

const (
	ExchangeIdle             ExchangeState = "idle"
	ExchangeAwaitingUpstream ExchangeState = "awaiting_upstream"
	ExchangeStreaming        ExchangeState = "streaming"
	ExchangeFinalizing       ExchangeState = "finalizing"
	ExchangeCompleted        ExchangeState = "completed"
	ExchangeFailed           ExchangeState = "failed"
	ExchangeCancelled        ExchangeState = "cancelled"
)

// IsTerminal reports whether no further transitions are allowed from s.
func (s ExchangeState) IsTerminal() bool {
	return s == ExchangeCompleted || s == ExchangeFailed || s == ExchangeCancelled
}

var exchangeTransitions = map[ExchangeState][]ExchangeState{
	ExchangeIdle:             {ExchangeAwaitingUpstream, ExchangeFailed, ExchangeCancelled},
	ExchangeAwaitingUpstream: {ExchangeStreaming, ExchangeFinalizing, ExchangeFailed, ExchangeCancelled},
	ExchangeStreaming:        {ExchangeFinalizing, ExchangeFailed, ExchangeCancelled},
	ExchangeFinalizing:       {ExchangeCompleted, ExchangeFailed},
}

// ValidateExchangeTransition checks whether moving from one exchange state to
// another is allowed. Finalizing may still fail (the write can fail) but can
// no longer be cancelled. AwaitingUpstream goes straight to Finalizing for
// non-streaming exchanges.
func ValidateExchangeTransition(from, to ExchangeState) *APIError {
	for _, s := range exchangeTransitions[from] {
		if s == to {
			return nil
		}
	}
	return NewInternalError(fmt.Sprintf("invalid exchange transition from %s to %s", from, to))
}
