package auth

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rhuss/colloquy/pkg/api"
)

func echoSubject() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(UserID(r.Context())))
	})
}

func TestMiddleware(t *testing.T) {
	chain := &Chain{Authenticators: []Authenticator{
		fixedBearer{token: "good", subject: "alice"},
	}}
	h := Middleware(chain, DefaultBypassEndpoints)(echoSubject())

	t.Run("accepted", func(t *testing.T) {
		r := httptest.NewRequest("GET", "/v1/threads", nil)
		r.Header.Set("Authorization", "Bearer good")
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, r)
		if rec.Code != http.StatusOK || rec.Body.String() != "alice" {
			t.Fatalf("got %d %q", rec.Code, rec.Body.String())
		}
	})

	t.Run("rejected", func(t *testing.T) {
		r := httptest.NewRequest("GET", "/v1/threads", nil)
		r.Header.Set("Authorization", "Bearer bad")
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, r)
		if rec.Code != http.StatusUnauthorized {
			t.Fatalf("status = %d, want 401", rec.Code)
		}
		var body api.ErrorResponse
		if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
			t.Fatalf("decoding body: %v", err)
		}
		if body.Error == nil || body.Error.Code != api.CodeUnauthenticated {
			t.Errorf("body = %s", rec.Body.String())
		}
	})

	t.Run("bypass", func(t *testing.T) {
		for _, path := range DefaultBypassEndpoints {
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, httptest.NewRequest("GET", path, nil))
			if rec.Code != http.StatusOK || rec.Body.String() != "" {
				t.Errorf("%s: got %d %q", path, rec.Code, rec.Body.String())
			}
		}
	})

	t.Run("empty subject", func(t *testing.T) {
		bad := &Chain{Authenticators: []Authenticator{fixed{Decision: Yes, Identity: &Identity{}}}}
		rec := httptest.NewRecorder()
		Middleware(bad, nil)(echoSubject()).ServeHTTP(rec, httptest.NewRequest("GET", "/v1/threads", nil))
		if rec.Code != http.StatusInternalServerError {
			t.Errorf("status = %d, want 500", rec.Code)
		}
	})
}

type fixedBearer struct {
	token, subject string
}

func (f fixedBearer) Authenticate(_ context.Context, r *http.Request) Result {
	tok, ok := BearerToken(r)
	switch {
	case !ok:
		return Result{Decision: Abstain}
	case tok == f.token:
		return Result{Decision: Yes, Identity: &Identity{Subject: f.subject}}
	default:
		return Result{Decision: No, Err: ErrUnauthenticated}
	}
}
