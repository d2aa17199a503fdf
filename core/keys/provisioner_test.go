package keys

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"hlsgate/config"
)

func newTestProvisioner(t *testing.T, iv string) (*Provisioner, *config.Config) {
	t.Helper()
	dir := t.TempDir()
	cfg := &config.Config{
		KeyPath:     filepath.Join(dir, "keys", "enc.key"),
		KeyInfoPath: filepath.Join(dir, "keys", "key_info.txt"),
		KeyURI:      "https://media.example.com/key",
		KeyIV:       iv,
	}
	return NewProvisioner(cfg), cfg
}

func TestVerifyFailsWithoutKey(t *testing.T) {
	p, _ := newTestProvisioner(t, "")
	if err := p.Verify(); !errors.Is(err, ErrKeyMissing) {
		t.Fatalf("expected ErrKeyMissing, got %v", err)
	}
	if _, err := p.Key(); !errors.Is(err, ErrKeyMissing) {
		t.Fatalf("expected ErrKeyMissing from Key, got %v", err)
	}
}

func TestGenerateWritesKeyAndInfo(t *testing.T) {
	p, cfg := newTestProvisioner(t, "")
	if err := p.Generate(false); err != nil {
		t.Fatalf("generate: %v", err)
	}
	if err := p.Verify(); err != nil {
		t.Fatalf("verify after generate: %v", err)
	}
	key, err := p.Key()
	if err != nil || len(key) != KeySize {
		t.Fatalf("unexpected key %x err %v", key, err)
	}

	info, err := os.ReadFile(cfg.KeyInfoPath)
	if err != nil {
		t.Fatal(err)
	}
	lines := strings.Split(strings.TrimSpace(string(info)), "\n")
	if len(lines) != 2 || lines[0] != cfg.KeyURI || !filepath.IsAbs(lines[1]) || filepath.Base(lines[1]) != "enc.key" {
		t.Fatalf("unexpected key info %q", info)
	}

	if err := p.Generate(false); err == nil {
		t.Fatal("expected refusal to overwrite existing key")
	}
	if err := p.Generate(true); err != nil {
		t.Fatalf("forced regenerate: %v", err)
	}
	rotated, _ := p.Key()
	if string(rotated) == string(key) {
		t.Fatal("expected a new key after forced generate")
	}
}

func TestKeyRejectsWrongSize(t *testing.T) {
	p, cfg := newTestProvisioner(t, "")
	if err := os.MkdirAll(filepath.Dir(cfg.KeyPath), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(cfg.KeyPath, []byte("short"), 0600); err != nil {
		t.Fatal(err)
	}
	if _, err := p.Key(); !errors.Is(err, ErrKeyMissing) {
		t.Fatalf("expected malformed key to be rejected, got %v", err)
	}
}

func TestEnsureKeyInfoKeepsExisting(t *testing.T) {
	p, cfg := newTestProvisioner(t, "00112233445566778899aabbccddeeff")
	if err := p.EnsureKeyInfo(); err != nil {
		t.Fatalf("ensure: %v", err)
	}
	info, _ := os.ReadFile(cfg.KeyInfoPath)
	if !strings.HasSuffix(string(info), "00112233445566778899aabbccddeeff\n") {
		t.Fatalf("expected iv line, got %q", info)
	}

	if err := os.WriteFile(cfg.KeyInfoPath, []byte("custom\n"), 0644); err != nil {
		t.Fatal(err)
	}
	if err := p.EnsureKeyInfo(); err != nil {
		t.Fatalf("ensure again: %v", err)
	}
	info, _ = os.ReadFile(cfg.KeyInfoPath)
	if string(info) != "custom\n" {
		t.Fatalf("existing key info must be left alone, got %q", info)
	}
}

func TestKeyInfoRejectsBadIV(t *testing.T) {
	p, _ := newTestProvisioner(t, "xyz")
	if _, err := p.KeyInfo(); err == nil {
		t.Fatal("expected bad iv to be rejected")
	}
}
