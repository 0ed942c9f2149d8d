package cache

import (
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"
	"lukechampine.com/blake3"
)

// PayloadStore is the content-addressed disk tier for raw package payloads
//: it stores the bytes a package's
// node.wasm was loaded from, keyed by their BLAKE3 hash, so repeated loads
// of the same content skip re-fetching/re-validating the archive. It does
// not store compiled wazero modules — those cannot be round-tripped through
// the public wazero API and live only in ModuleCache's in-memory tier plus
// wazero's in-process compilation cache (see engine.go).
type PayloadStore struct {
	dir    string
	logger *zap.Logger
}

// NewPayloadStore creates a store rooted at dir. An empty dir disables the
// disk tier; callers should check Enabled() before using it.
func NewPayloadStore(dir string, logger *zap.Logger) *PayloadStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PayloadStore{dir: dir, logger: logger}
}

// Enabled reports whether a disk directory was configured.
func (s *PayloadStore) Enabled() bool { return s.dir != "" }

// Hash returns the lowercase hex BLAKE3 hash used to key entries.
func Hash(data []byte) string {
	sum := blake3.Sum256(data)
	return fmt.Sprintf("%x", sum[:])
}

func (s *PayloadStore) path(hash string) string {
	// Two-level sharding keeps any one directory from growing unbounded.
	return filepath.Join(s.dir, hash[:2], hash)
}

// Get returns the stored bytes for hash, if present.
func (s *PayloadStore) Get(hash string) ([]byte, bool) {
	if !s.Enabled() {
		return nil, false
	}
	data, err := os.ReadFile(s.path(hash))
	if err != nil {
		return nil, false
	}
	return data, true
}

// Put stores data under its content hash, returning the hash. The write is
// atomic: data lands in a temp file in the same directory, then is renamed
// into place, so a concurrent Get never observes a partial write.
func (s *PayloadStore) Put(data []byte) (string, error) {
	hash := Hash(data)
	if !s.Enabled() {
		return hash, nil
	}
	dest := s.path(hash)
	if _, err := os.Stat(dest); err == nil {
		return hash, nil
	}
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return "", fmt.Errorf("create payload store dir: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(dest), ".tmp-*")
	if err != nil {
		return "", fmt.Errorf("create temp payload file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return "", fmt.Errorf("write temp payload file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return "", fmt.Errorf("close temp payload file: %w", err)
	}
	if err := os.Rename(tmpName, dest); err != nil {
		os.Remove(tmpName)
		return "", fmt.Errorf("rename temp payload file into place: %w", err)
	}
	s.logger.Debug("payload stored", zap.String("content_hash", hash))
	return hash, nil
}
