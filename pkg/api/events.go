package api

// RelayEventType names an event of the canonical outward stream.
type RelayEventType string

const (
	RelayDelta RelayEventType = "delta"
	RelayDone  RelayEventType = "done"
	RelayError RelayEventType = "error"
)

// IsTerminal reports whether the event ends an exchange.
func (t RelayEventType) IsTerminal() bool {
	return t == RelayDone || t == RelayError
}

// DeltaPayload is the data of a delta event.
type DeltaPayload struct {
	Delta string `json:"delta"`
}

// DonePayload is the data of a done event and also the non-streaming
// response body.
type DonePayload struct {
	Message *Message `json:"message"`
}

// ErrorPayload is the data of an error event.
type ErrorPayload struct {
	Message string    `json:"message"`
	Code    ErrorCode `json:"code,omitempty"`
}
