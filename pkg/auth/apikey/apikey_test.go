package apikey

import (
	"context"
	"net/http/httptest"
	"testing"

	"github.com/rhuss/colloquy/pkg/auth"
)

func TestAuthenticate(t *testing.T) {
	a := New([]Entry{
		{Key: "sk-alice", Subject: "alice", Scopes: []string{"chat"}},
		{Key: "sk-bob", Subject: "bob"},
		{Key: "", Subject: "nobody"},
		{Key: "sk-orphan", Subject: ""},
	})

	tests := []struct {
		name    string
		header  string
		want    auth.Decision
		subject string
	}{
		{"first entry", "Bearer sk-alice", auth.Yes, "alice"},
		{"second entry", "Bearer sk-bob", auth.Yes, "bob"},
		{"lowercase scheme", "bearer sk-bob", auth.Yes, "bob"},
		{"unknown key", "Bearer sk-mallory", auth.No, ""},
		{"entry without subject", "Bearer sk-orphan", auth.No, ""},
		{"empty token", "Bearer ", auth.No, ""},
		{"no header", "", auth.Abstain, ""},
		{"other scheme", "Basic c2stYWxpY2U=", auth.Abstain, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest("GET", "/v1/threads", nil)
			if tt.header != "" {
				r.Header.Set("Authorization", tt.header)
			}
			res := a.Authenticate(context.Background(), r)
			if res.Decision != tt.want {
				t.Fatalf("decision = %d, want %d", res.Decision, tt.want)
			}
			if tt.want == auth.Yes && (res.Identity.Subject != tt.subject || res.Identity.Source != "api_key") {
				t.Errorf("identity = %+v", res.Identity)
			}
		})
	}
}

func TestScopesAreCopied(t *testing.T) {
	scopes := []string{"chat"}
	a := New([]Entry{{Key: "k", Subject: "alice", Scopes: scopes}})
	scopes[0] = "admin"

	r := httptest.NewRequest("GET", "/", nil)
	r.Header.Set("Authorization", "Bearer k")
	res := a.Authenticate(context.Background(), r)
	if !res.Identity.HasScope("chat") || res.Identity.HasScope("admin") {
		t.Errorf("scopes = %v", res.Identity.Scopes)
	}
}
