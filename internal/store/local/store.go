// Package local implements the key-value store on the local filesystem, one
// file per key.
package local

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/JakeFAU/pagewatch/internal/hash/sha256"
)

// maxNameBytes keeps escaped file names well under the common 255 byte
// NAME_MAX. Longer keys are stored under hashedDir by digest.
const (
	maxNameBytes = 200
	hashedDir    = "hashed"
)

// Config captures the parameters for the local filesystem store.
type Config struct {
	// BaseDir is the root directory where values are stored.
	BaseDir string `mapstructure:"base_dir" yaml:"base_dir"`
}

// Store persists each key as a file under baseDir.
type Store struct {
	baseDir string
	hasher  *sha256.Hasher
}

// New creates a filesystem-backed store, creating the base directory when needed.
func New(cfg Config) (*Store, error) {
	if strings.TrimSpace(cfg.BaseDir) == "" {
		return nil, fmt.Errorf("base directory is required")
	}

	info, err := os.Stat(cfg.BaseDir)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to stat base directory: %w", err)
		}
		if mkErr := os.MkdirAll(cfg.BaseDir, 0o750); mkErr != nil {
			return nil, fmt.Errorf("failed to create base directory: %w", mkErr)
		}
	} else if !info.IsDir() {
		return nil, fmt.Errorf("base directory path is not a directory")
	}

	testFile := filepath.Join(cfg.BaseDir, ".writable_test")
	if err := os.WriteFile(testFile, []byte("test"), 0o600); err != nil {
		return nil, fmt.Errorf("base directory is not writable: %w", err)
	}
	if err := os.Remove(testFile); err != nil {
		return nil, fmt.Errorf("failed to clean up test file: %w", err)
	}

	return &Store{baseDir: filepath.Clean(cfg.BaseDir), hasher: sha256.New()}, nil
}

// Get reads the file holding key.
func (s *Store) Get(_ context.Context, key string) (string, bool, error) {
	path, err := s.pathFor(key)
	if err != nil {
		return "", false, err
	}
	// #nosec G304 -- path is confined to baseDir by pathFor.
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("read %s: %w", key, err)
	}
	return string(data), true, nil
}

// Set writes value to a temp file and renames it over the key's file so
// readers never observe a partial value.
func (s *Store) Set(_ context.Context, key, value string) error {
	path, err := s.pathFor(key)
	if err != nil {
		return err
	}
	if dir := filepath.Dir(path); dir != s.baseDir {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return fmt.Errorf("create %s: %w", dir, err)
		}
	}
	tmp, err := os.CreateTemp(s.baseDir, ".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.WriteString(value); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("rename %s: %w", key, err)
	}
	return nil
}

// Close is a no-op.
func (s *Store) Close() error { return nil }

func (s *Store) pathFor(key string) (string, error) {
	if strings.TrimSpace(key) == "" {
		return "", fmt.Errorf("key is required")
	}
	name := url.PathEscape(key)
	if name == "." || name == ".." || strings.HasPrefix(name, ".tmp-") {
		return "", fmt.Errorf("invalid key %q", key)
	}
	if len(name) > maxNameBytes {
		digest, err := s.hasher.Hash([]byte(key))
		if err != nil {
			return "", fmt.Errorf("hash key: %w", err)
		}
		return filepath.Join(s.baseDir, hashedDir, digest), nil
	}
	full := filepath.Join(s.baseDir, name)
	if filepath.Dir(full) != s.baseDir {
		return "", fmt.Errorf("path traversal detected")
	}
	return full, nil
}
