package anthropic

// messagesRequest is the body of POST /messages. System is the vendor's
// top-level system prompt; turns contain only user and assistant roles.
type messagesRequest struct {
	Model       string    `json:"model"`
	System      string    `json:"system,omitempty"`
	Messages    []message `json:"messages"`
	MaxTokens   int       `json:"max_tokens"`
	Temperature float64   `json:"temperature"`
	Stream      bool      `json:"stream,omitempty"`
}

type message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type messagesResponse struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	StopReason string `json:"stop_reason"`
	Usage      *usage `json:"usage,omitempty"`
}

type usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// streamEvent is the envelope of every streamed frame. Type repeats the SSE
// event name, so frames are dispatched on it even when the event line is
// missing.
//
// Lifecycle: message_start, content_block_start, content_block_delta...,
// content_block_stop, message_delta, message_stop. ping may appear anywhere
// and error replaces the remainder of the stream.
type streamEvent struct {
	Type    string            `json:"type"`
	Message *messagesResponse `json:"message,omitempty"`
	Index   int               `json:"index,omitempty"`
	Delta   *streamDelta      `json:"delta,omitempty"`
	Usage   *usage            `json:"usage,omitempty"`
	Error   *errorBody        `json:"error,omitempty"`
}

type streamDelta struct {
	Type       string `json:"type,omitempty"`
	Text       string `json:"text,omitempty"`
	StopReason string `json:"stop_reason,omitempty"`
}

type errorBody struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

type modelList struct {
	Data []struct {
		ID          string `json:"id"`
		DisplayName string `json:"display_name"`
	} `json:"data"`
	HasMore bool   `json:"has_more"`
	LastID  string `json:"last_id"`
}
