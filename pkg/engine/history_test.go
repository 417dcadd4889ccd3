package engine

import (
	"testing"

	"github.com/rhuss/colloquy/pkg/api"
)

func TestBuildHistory(t *testing.T) {
	stored := []*api.Message{
		{Role: api.RoleUser, Content: "hi"},
		{Role: api.RoleSystem, Content: "stale system note"},
		{Role: api.RoleAssistant, Content: "hello"},
		{Role: api.RoleUser, Content: "bye"},
	}

	tests := []struct {
		name   string
		prompt string
		want   []api.ChatMessage
	}{
		{
			name:   "with system prompt",
			prompt: "You are terse.",
			want: []api.ChatMessage{
				{Role: api.RoleSystem, Content: "You are terse."},
				{Role: api.RoleUser, Content: "hi"},
				{Role: api.RoleAssistant, Content: "hello"},
				{Role: api.RoleUser, Content: "bye"},
			},
		},
		{
			name:   "blank system prompt",
			prompt: "  ",
			want: []api.ChatMessage{
				{Role: api.RoleUser, Content: "hi"},
				{Role: api.RoleAssistant, Content: "hello"},
				{Role: api.RoleUser, Content: "bye"},
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := buildHistory(&api.Thread{SystemPrompt: tt.prompt}, stored)
			if len(got) != len(tt.want) {
				t.Fatalf("got %+v", got)
			}
			for i := range tt.want {
				if got[i] != tt.want[i] {
					t.Errorf("[%d] = %+v, want %+v", i, got[i], tt.want[i])
				}
			}
		})
	}
}
