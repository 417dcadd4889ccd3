package openai

import "encoding/json"

// chatRequest is the Chat Completions request body. System carries the
// extracted system prompt; it is never part of Messages and is written as
// the leading system preamble only when the body is encoded.
type chatRequest struct {
	Model         string         `json:"model"`
	System        string         `json:"-"`
	Messages      []chatMessage  `json:"messages"`
	Temperature   float64        `json:"temperature"`
	MaxTokens     *int           `json:"max_tokens,omitempty"`
	Stream        bool           `json:"stream,omitempty"`
	StreamOptions *streamOptions `json:"stream_options,omitempty"`
}

// MarshalJSON writes the system preamble ahead of the turns, which is where
// Chat Completions expects it.
func (r chatRequest) MarshalJSON() ([]byte, error) {
	type wire chatRequest
	w := wire(r)
	if r.System != "" {
		w.Messages = append([]chatMessage{{Role: "system", Content: r.System}}, r.Messages...)
	}
	return json.Marshal(w)
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type streamOptions struct {
	IncludeUsage bool `json:"include_usage"`
}

type chatResponse struct {
	Choices []struct {
		Message      chatMessage `json:"message"`
		FinishReason string      `json:"finish_reason"`
	} `json:"choices"`
	Usage *usage `json:"usage,omitempty"`
}

type chatChunk struct {
	Choices []struct {
		Delta struct {
			Content *string `json:"content,omitempty"`
		} `json:"delta"`
		FinishReason *string `json:"finish_reason,omitempty"`
	} `json:"choices"`
	Usage *usage     `json:"usage,omitempty"`
	Error *errorBody `json:"error,omitempty"`
}

type usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

type errorBody struct {
	Message string `json:"message"`
	Type    string `json:"type"`
	Code    any    `json:"code,omitempty"`
}

type modelList struct {
	Data []struct {
		ID      string `json:"id"`
		OwnedBy string `json:"owned_by"`
	} `json:"data"`
}
