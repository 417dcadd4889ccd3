package engine

import (
	"strings"

	"github.com/rhuss/colloquy/pkg/api"
)

// buildHistory assembles the messages sent upstream: the thread's system
// prompt first when set, then the stored turns in order. Stored system
// messages are skipped; the thread prompt is the only system input.
func buildHistory(t *api.Thread, stored []*api.Message) []api.ChatMessage {
	out := make([]api.ChatMessage, 0, len(stored)+1)
	if strings.TrimSpace(t.SystemPrompt) != "" {
		out = append(out, api.ChatMessage{Role: api.RoleSystem, Content: t.SystemPrompt})
	}
	for _, m := range stored {
		if m.Role == api.RoleSystem {
			continue
		}
		out = append(out, api.ChatMessage{Role: m.Role, Content: m.Content})
	}
	return out
}
