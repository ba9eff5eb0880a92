package secrets

import (
	"crypto/rand"
	"encoding/base64"
	"strings"
	"testing"
)

func testKey(t *testing.T) string {
	t.Helper()
	key := make([]byte, KeySize)
	if _, err := rand.Read(key); err != nil {
		t.Fatalf("rand: %v", err)
	}
	return base64.StdEncoding.EncodeToString(key)
}

func TestSealUnsealRoundTrip(t *testing.T) {
	box, err := NewBox(testKey(t))
	if err != nil {
		t.Fatalf("NewBox: %v", err)
	}

	token := "metaapi-token-abcdef123456"
	sealed, err := box.Seal(token)
	if err != nil {
		t.Fatalf("Seal: %v", err)
	}
	if !IsSealed(sealed) {
		t.Fatalf("sealed value missing prefix: %q", sealed)
	}
	if strings.Contains(sealed, token) {
		t.Fatal("sealed value leaks plaintext")
	}

	got, err := box.Unseal(sealed)
	if err != nil {
		t.Fatalf("Unseal: %v", err)
	}
	if got != token {
		t.Fatalf("Unseal=%q, expected %q", got, token)
	}
}

func TestUnsealPassesPlaintextThrough(t *testing.T) {
	box, err := NewBox(testKey(t))
	if err != nil {
		t.Fatalf("NewBox: %v", err)
	}

	got, err := box.Unseal("legacy-plaintext-token")
	if err != nil {
		t.Fatalf("Unseal: %v", err)
	}
	if got != "legacy-plaintext-token" {
		t.Fatalf("Unseal=%q, expected passthrough", got)
	}
}

func TestUnsealRejectsWrongKey(t *testing.T) {
	box1, _ := NewBox(testKey(t))
	box2, _ := NewBox(testKey(t))

	sealed, err := box1.Seal("secret")
	if err != nil {
		t.Fatalf("Seal: %v", err)
	}
	if _, err := box2.Unseal(sealed); err != ErrUnsealFailed {
		t.Fatalf("Unseal error=%v, expected ErrUnsealFailed", err)
	}
}

func TestNewBoxRejectsShortKey(t *testing.T) {
	short := base64.StdEncoding.EncodeToString([]byte("too-short"))
	if _, err := NewBox(short); err != ErrInvalidKey {
		t.Fatalf("NewBox error=%v, expected ErrInvalidKey", err)
	}
}
