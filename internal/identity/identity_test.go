package identity

import (
	"crypto/ed25519"
	"path/filepath"
	"testing"
)

func TestLoadOrGenerateCreatesAndPersistsEncrypted(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "identity.key")

	first, err := LoadOrGenerate(path, "correct horse battery staple")
	if err != nil {
		t.Fatalf("LoadOrGenerate: %v", err)
	}
	if first.DeviceID() == "" {
		t.Fatalf("expected a non-empty device id")
	}

	second, err := LoadOrGenerate(path, "correct horse battery staple")
	if err != nil {
		t.Fatalf("LoadOrGenerate (reload): %v", err)
	}
	if first.DeviceID() != second.DeviceID() {
		t.Fatalf("reload produced a different device id: %q vs %q", first.DeviceID(), second.DeviceID())
	}
}

func TestLoadOrGenerateWrongPassphraseFails(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "identity.key")

	if _, err := LoadOrGenerate(path, "right passphrase"); err != nil {
		t.Fatalf("LoadOrGenerate: %v", err)
	}
	if _, err := LoadOrGenerate(path, "wrong passphrase"); err != ErrInvalidPassphrase {
		t.Fatalf("err = %v, want ErrInvalidPassphrase", err)
	}
}

func TestLoadOrGenerateInsecurePath(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "identity.key")

	first, err := LoadOrGenerate(path, "")
	if err != nil {
		t.Fatalf("LoadOrGenerate: %v", err)
	}
	second, err := LoadOrGenerate(path, "")
	if err != nil {
		t.Fatalf("LoadOrGenerate (reload): %v", err)
	}
	if first.DeviceID() != second.DeviceID() {
		t.Fatalf("reload of insecure keystore produced a different device id")
	}
}

func TestSignatureVerifiesWithPublicKey(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "identity.key")
	id, err := LoadOrGenerate(path, "passphrase")
	if err != nil {
		t.Fatalf("LoadOrGenerate: %v", err)
	}

	msg := []byte("hello ndncore")
	sig := id.Sign(msg)
	if len(sig) == 0 {
		t.Fatalf("expected a non-empty signature")
	}
	if !ed25519.Verify(id.Public, msg, sig) {
		t.Fatalf("signature does not verify with the peer's public key")
	}
}
