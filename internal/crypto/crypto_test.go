package crypto

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

// Throwaway key used only in tests.
const testKeyHex = "4c0883a69102937d6231471b5dbb6204fe5129617082792ae468d01a3f362318"

func TestSignAndRecover(t *testing.T) {
	signer, err := NewSigner(testKeyHex)
	if err != nil {
		t.Fatalf("NewSigner: %v", err)
	}

	msg := []byte("marketledger login 2026-08-01")
	sig, err := signer.SignMessage(msg)
	if err != nil {
		t.Fatalf("SignMessage: %v", err)
	}
	if !strings.HasPrefix(sig, "0x") || len(sig) != 2+130 {
		t.Fatalf("signature = %q, want 0x-prefixed 65-byte hex", sig)
	}

	recovered, err := RecoverAddress(msg, sig)
	if err != nil {
		t.Fatalf("RecoverAddress: %v", err)
	}
	if recovered != signer.Address() {
		t.Errorf("recovered %s, want %s", recovered.Hex(), signer.Address().Hex())
	}

	if !VerifySignature(msg, sig, signer.Address()) {
		t.Error("VerifySignature rejected a valid signature")
	}
	if VerifySignature([]byte("a different message"), sig, signer.Address()) {
		t.Error("VerifySignature accepted a signature over another message")
	}
}

func TestNewSignerAcceptsPrefix(t *testing.T) {
	plain, err := NewSigner(testKeyHex)
	if err != nil {
		t.Fatalf("NewSigner: %v", err)
	}
	prefixed, err := NewSigner("0x" + testKeyHex)
	if err != nil {
		t.Fatalf("NewSigner with prefix: %v", err)
	}
	if plain.Address() != prefixed.Address() {
		t.Errorf("addresses differ: %s vs %s", plain.Address().Hex(), prefixed.Address().Hex())
	}

	if _, err := NewSigner("not-hex"); err == nil {
		t.Error("NewSigner accepted a non-hex key")
	}
}

func TestSignSettlementIsVerifiable(t *testing.T) {
	signer, err := NewSigner(testKeyHex)
	if err != nil {
		t.Fatalf("NewSigner: %v", err)
	}

	resolvedAt := time.Date(2026, time.August, 2, 9, 30, 0, 0, time.UTC)
	sig, err := signer.SignSettlement(7, 0, 8, resolvedAt)
	if err != nil {
		t.Fatalf("SignSettlement: %v", err)
	}

	// A verifier rebuilds the canonical message from the settled fields.
	msg := SettlementMessage(7, 0, 8, resolvedAt)
	if !VerifySignature(msg, sig, signer.Address()) {
		t.Error("settlement receipt does not verify against the rebuilt message")
	}

	tampered := SettlementMessage(7, 1, 8, resolvedAt)
	if VerifySignature(tampered, sig, signer.Address()) {
		t.Error("settlement receipt verified against a different answer")
	}
}

func TestRecoverAddressRejectsMalformedSignatures(t *testing.T) {
	msg := []byte("hello")
	if _, err := RecoverAddress(msg, "zzzz"); err == nil {
		t.Error("RecoverAddress accepted non-hex input")
	}
	if _, err := RecoverAddress(msg, "0xdeadbeef"); err == nil {
		t.Error("RecoverAddress accepted a short signature")
	}
}

func TestEncryptDecryptKeyRoundTrip(t *testing.T) {
	blob, err := EncryptKey(testKeyHex, "correct horse")
	if err != nil {
		t.Fatalf("EncryptKey: %v", err)
	}

	got, err := DecryptKey(blob, "correct horse")
	if err != nil {
		t.Fatalf("DecryptKey: %v", err)
	}
	if got != testKeyHex {
		t.Errorf("DecryptKey = %q, want original key", got)
	}

	if _, err := DecryptKey(blob, "wrong password"); err == nil {
		t.Error("DecryptKey succeeded with the wrong password")
	}
	if _, err := EncryptKey(testKeyHex, ""); err == nil {
		t.Error("EncryptKey accepted an empty password")
	}
	if _, err := EncryptKey("abcd", "pw"); err == nil {
		t.Error("EncryptKey accepted a short key")
	}
}

func TestLoadKeyResolutionOrder(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "operator.key.json")
	blob, err := EncryptKey(testKeyHex, "pw")
	if err != nil {
		t.Fatalf("EncryptKey: %v", err)
	}
	if err := os.WriteFile(path, blob, 0o600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	// The raw key wins over the encrypted file.
	got, err := LoadKey(KeyConfig{RawPrivateKey: "0x" + testKeyHex, EncryptedKeyPath: path, KeyPassword: "pw"})
	if err != nil {
		t.Fatalf("LoadKey raw: %v", err)
	}
	if got != testKeyHex {
		t.Errorf("LoadKey raw = %q, want the 0x-stripped key", got)
	}

	got, err = LoadKey(KeyConfig{EncryptedKeyPath: path, KeyPassword: "pw"})
	if err != nil {
		t.Fatalf("LoadKey encrypted: %v", err)
	}
	if got != testKeyHex {
		t.Errorf("LoadKey encrypted = %q, want original key", got)
	}

	if _, err := LoadKey(KeyConfig{}); err == nil {
		t.Error("LoadKey succeeded with no key source")
	}
	if _, err := LoadKey(KeyConfig{RawPrivateKey: "not-hex"}); err == nil {
		t.Error("LoadKey accepted a non-hex raw key")
	}
}
