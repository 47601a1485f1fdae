package secret

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestEncryptDecryptRoundTrip(t *testing.T) {
	store, err := Open(filepath.Join(t.TempDir(), "secret.key"))
	if err != nil {
		t.Fatal(err)
	}

	entropy := make([]byte, 64)
	rand.Read(entropy)

	values := []string{
		"",
		"hunter2",
		"pässwörd with ütf-8 and spaces",
		string(entropy),
	}

	for _, v := range values {
		ct, iv, err := store.Encrypt(v)
		if err != nil {
			t.Fatalf("Encrypt(%q): %v", v, err)
		}

		got, err := store.Decrypt(ct, iv)
		if err != nil {
			t.Fatalf("Decrypt after Encrypt(%q): %v", v, err)
		}
		if got != v {
			t.Errorf("round trip mismatch: got %q, want %q", got, v)
		}
	}
}

func TestIVUniquePerEncryption(t *testing.T) {
	store, err := Open(filepath.Join(t.TempDir(), "secret.key"))
	if err != nil {
		t.Fatal(err)
	}

	_, iv1, err := store.Encrypt("same value")
	if err != nil {
		t.Fatal(err)
	}
	_, iv2, err := store.Encrypt("same value")
	if err != nil {
		t.Fatal(err)
	}

	if iv1 == iv2 {
		t.Error("expected distinct IVs for repeated encryptions")
	}
}

func TestKeyFileCreatedWithOwnerOnlyPermissions(t *testing.T) {
	path := filepath.Join(t.TempDir(), "keys", "secret.key")

	if _, err := Open(path); err != nil {
		t.Fatal(err)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	if perm := info.Mode().Perm(); perm != 0600 {
		t.Errorf("key file permissions = %o, want 0600", perm)
	}
}

func TestKeyPersistsAcrossOpens(t *testing.T) {
	path := filepath.Join(t.TempDir(), "secret.key")

	first, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	ct, iv, err := first.Encrypt("persisted")
	if err != nil {
		t.Fatal(err)
	}

	second, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	got, err := second.Decrypt(ct, iv)
	if err != nil {
		t.Fatal(err)
	}
	if got != "persisted" {
		t.Errorf("got %q, want %q", got, "persisted")
	}
}

func TestDecryptWithWrongKeyReturnsIntegrityError(t *testing.T) {
	dir := t.TempDir()

	a, err := Open(filepath.Join(dir, "a.key"))
	if err != nil {
		t.Fatal(err)
	}
	b, err := Open(filepath.Join(dir, "b.key"))
	if err != nil {
		t.Fatal(err)
	}

	ct, iv, err := a.Encrypt("top secret")
	if err != nil {
		t.Fatal(err)
	}

	if _, err := b.Decrypt(ct, iv); !errors.Is(err, ErrIntegrity) {
		t.Errorf("expected ErrIntegrity, got %v", err)
	}
}

func TestDecryptTamperedCiphertext(t *testing.T) {
	store, err := Open(filepath.Join(t.TempDir(), "secret.key"))
	if err != nil {
		t.Fatal(err)
	}

	ct, iv, err := store.Encrypt("payload")
	if err != nil {
		t.Fatal(err)
	}

	raw, _ := base64.StdEncoding.DecodeString(ct)
	raw[0] ^= 0xff
	tampered := base64.StdEncoding.EncodeToString(raw)

	if _, err := store.Decrypt(tampered, iv); !errors.Is(err, ErrIntegrity) {
		t.Errorf("expected ErrIntegrity, got %v", err)
	}

	if _, err := store.Decrypt("not base64!!", iv); !errors.Is(err, ErrIntegrity) {
		t.Errorf("expected ErrIntegrity for malformed ciphertext, got %v", err)
	}
}
