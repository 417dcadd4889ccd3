package seal

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"filippo.io/age"
)

func TestSealOpenRoundTrip(t *testing.T) {
	s, err := Ephemeral()
	if err != nil {
		t.Fatalf("Ephemeral: %v", err)
	}
	sealed, err := s.Seal("sk-test-1234567890")
	if err != nil {
		t.Fatalf("Seal: %v", err)
	}
	if strings.Contains(sealed, "sk-test") {
		t.Fatal("sealed value contains plaintext")
	}
	got, err := s.Open(sealed)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if got != "sk-test-1234567890" {
		t.Errorf("Open = %q", got)
	}
}

func TestOpenWithWrongIdentity(t *testing.T) {
	a, _ := Ephemeral()
	b, _ := Ephemeral()
	sealed, _ := a.Seal("secret")
	if _, err := b.Open(sealed); err == nil {
		t.Error("opening with another identity should fail")
	}
	if _, err := a.Open("not base64!"); err == nil {
		t.Error("opening garbage should fail")
	}
}

func TestSealEmpty(t *testing.T) {
	s, _ := Ephemeral()
	if _, err := s.Seal(""); err == nil {
		t.Error("sealing an empty secret should fail")
	}
}

func TestNewAndFromFile(t *testing.T) {
	id, err := age.GenerateX25519Identity()
	if err != nil {
		t.Fatalf("GenerateX25519Identity: %v", err)
	}

	s, err := New(id.String() + "\n")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if s.Ephemeral() || s.Recipient() != id.Recipient().String() {
		t.Errorf("sealer = %+v", s)
	}

	path := filepath.Join(t.TempDir(), "identity.txt")
	content := "# created: 2026-01-01\n# public key: " + id.Recipient().String() + "\n" + id.String() + "\n"
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	f, err := FromFile(path)
	if err != nil {
		t.Fatalf("FromFile: %v", err)
	}

	sealed, _ := s.Seal("shared")
	if got, err := f.Open(sealed); err != nil || got != "shared" {
		t.Errorf("Open via file identity = %q, %v", got, err)
	}

	if _, err := New("AGE-SECRET-KEY-NOPE"); err == nil {
		t.Error("New should reject a malformed identity")
	}
}
