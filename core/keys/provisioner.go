package keys

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"hlsgate/config"
	"hlsgate/logger"
)

// KeySize is the AES-128 key length HLS segment encryption expects.
const KeySize = 16

// ErrKeyMissing means the key material is absent or malformed on disk.
var ErrKeyMissing = errors.New("encryption key missing")

// Provisioner owns the segment encryption key and the key-info descriptor the
// encoder reads. Both are read-only once the server is running.
type Provisioner struct {
	keyPath     string
	keyInfoPath string
	keyURI      string
	iv          string
}

// NewProvisioner builds a Provisioner from configuration.
func NewProvisioner(cfg *config.Config) *Provisioner {
	return &Provisioner{
		keyPath:     cfg.KeyPath,
		keyInfoPath: cfg.KeyInfoPath,
		keyURI:      cfg.KeyURI,
		iv:          cfg.KeyIV,
	}
}

// KeyInfoPath is passed to the encoder as -hls_key_info_file.
func (p *Provisioner) KeyInfoPath() string {
	return p.keyInfoPath
}

// Key returns the raw key bytes.
func (p *Provisioner) Key() ([]byte, error) {
	data, err := os.ReadFile(p.keyPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrKeyMissing, p.keyPath)
		}
		return nil, fmt.Errorf("failed to read key %s: %w", p.keyPath, err)
	}
	if len(data) != KeySize {
		return nil, fmt.Errorf("%w: %s holds %d bytes, want %d", ErrKeyMissing, p.keyPath, len(data), KeySize)
	}
	return data, nil
}

// Verify checks that the key and key-info descriptor are usable. A failure
// is a deployment fault and should stop startup.
func (p *Provisioner) Verify() error {
	if _, err := p.Key(); err != nil {
		return err
	}
	if _, err := os.Stat(p.keyInfoPath); err != nil {
		return fmt.Errorf("%w: key info %s: %v", ErrKeyMissing, p.keyInfoPath, err)
	}
	return nil
}

// KeyInfo renders the descriptor: key URI, key file path, optional IV.
func (p *Provisioner) KeyInfo() (string, error) {
	absKey, err := filepath.Abs(p.keyPath)
	if err != nil {
		return "", err
	}
	lines := []string{p.keyURI, absKey}
	if p.iv != "" {
		iv := strings.TrimPrefix(strings.ToLower(p.iv), "0x")
		if raw, err := hex.DecodeString(iv); err != nil || len(raw) != KeySize {
			return "", fmt.Errorf("KEY_IV must be %d hex-encoded bytes", KeySize)
		}
		lines = append(lines, iv)
	}
	return strings.Join(lines, "\n") + "\n", nil
}

// EnsureKeyInfo writes the key-info descriptor if it does not exist yet.
func (p *Provisioner) EnsureKeyInfo() error {
	if _, err := os.Stat(p.keyInfoPath); err == nil {
		return nil
	} else if !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to stat key info %s: %w", p.keyInfoPath, err)
	}
	return p.writeKeyInfo()
}

func (p *Provisioner) writeKeyInfo() error {
	content, err := p.KeyInfo()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(p.keyInfoPath), 0755); err != nil {
		return fmt.Errorf("failed to create key info directory: %w", err)
	}
	if err := os.WriteFile(p.keyInfoPath, []byte(content), 0644); err != nil {
		return fmt.Errorf("failed to write key info %s: %w", p.keyInfoPath, err)
	}
	logger.Info("[Keys] key info written", logger.String("path", p.keyInfoPath), logger.String("keyUri", p.keyURI))
	return nil
}

// Generate creates a new random key and rewrites the key-info descriptor. An
// existing key is kept unless force is set, since rotating it makes every
// previously encrypted segment unplayable.
func (p *Provisioner) Generate(force bool) error {
	if _, err := os.Stat(p.keyPath); err == nil && !force {
		return fmt.Errorf("key %s already exists", p.keyPath)
	}
	key := make([]byte, KeySize)
	if _, err := rand.Read(key); err != nil {
		return fmt.Errorf("failed to generate key: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(p.keyPath), 0700); err != nil {
		return fmt.Errorf("failed to create key directory: %w", err)
	}
	if err := os.WriteFile(p.keyPath, key, 0600); err != nil {
		return fmt.Errorf("failed to write key %s: %w", p.keyPath, err)
	}
	logger.Info("[Keys] key generated", logger.String("path", p.keyPath))
	return p.writeKeyInfo()
}
