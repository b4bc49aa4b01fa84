package secrets

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// SOPSStore reads secrets from a SOPS-encrypted YAML file of string values.
type SOPSStore struct {
	Path string

	// sops is swapped in tests; it receives the sops arguments and returns stdout.
	sops func(ctx context.Context, args ...string) ([]byte, error)
}

func NewSOPSStore(path string) *SOPSStore {
	return &SOPSStore{Path: path}
}

func (s *SOPSStore) Get(ctx context.Context, key string) (string, error) {
	data, err := s.decrypt(ctx)
	if err != nil {
		return "", err
	}
	v, ok := data[key]
	if !ok {
		return "", fmt.Errorf("%s in %s: %w", key, s.Path, ErrSecretNotFound)
	}
	return normalizePEM(v), nil
}

// List returns secret key names (not values) from the encrypted file.
func (s *SOPSStore) List(ctx context.Context) ([]string, error) {
	data, err := s.decrypt(ctx)
	if err != nil {
		return nil, err
	}
	return sortedKeys(data), nil
}

// Set updates or adds secrets, re-encrypts, and writes back.
func (s *SOPSStore) Set(ctx context.Context, updates map[string]string) error {
	existing, err := s.decrypt(ctx)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("decrypt: %w", err)
	}
	if existing == nil {
		existing = make(map[string]string)
	}
	for k, v := range updates {
		existing[k] = v
	}
	return s.encrypt(ctx, existing)
}

func (s *SOPSStore) decrypt(ctx context.Context) (map[string]string, error) {
	if _, err := os.Stat(s.Path); err != nil {
		return nil, err
	}

	out, err := s.run(ctx, "--decrypt", s.Path)
	if err != nil {
		return nil, fmt.Errorf("sops decrypt: %w", err)
	}

	var data map[string]string
	if err := yaml.Unmarshal(out, &data); err != nil {
		return nil, fmt.Errorf("unmarshal secrets: %w", err)
	}
	return data, nil
}

func (s *SOPSStore) encrypt(ctx context.Context, data map[string]string) error {
	plain, err := yaml.Marshal(data)
	if err != nil {
		return err
	}

	tmpFile := s.Path + ".tmp"
	if err := os.WriteFile(tmpFile, plain, 0600); err != nil {
		return err
	}
	defer os.Remove(tmpFile)

	args := []string{"--encrypt", "--input-type", "yaml", "--output-type", "yaml", tmpFile}
	if cfg := filepath.Join(filepath.Dir(s.Path), ".sops.yaml"); fileExists(cfg) {
		args = append([]string{"--config", cfg}, args...)
	}
	encrypted, err := s.run(ctx, args...)
	if err != nil {
		return fmt.Errorf("sops encrypt: %w", err)
	}
	return os.WriteFile(s.Path, encrypted, 0600)
}

func (s *SOPSStore) run(ctx context.Context, args ...string) ([]byte, error) {
	if s.sops != nil {
		return s.sops(ctx, args...)
	}
	out, err := exec.CommandContext(ctx, "sops", args...).Output()
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return nil, fmt.Errorf("%s", exitErr.Stderr)
		}
		return nil, err
	}
	return out, nil
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
