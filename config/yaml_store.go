package config

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"gitlab.com/tozd/go/errors"
	"gopkg.in/yaml.v3"
)

// YAMLStore keeps settings as a flat YAML mapping in a single file.
type YAMLStore struct {
	path string

	mu     sync.RWMutex
	values map[string]string
}

// OpenYAML loads path, which may not exist yet.
func OpenYAML(path string) (*YAMLStore, error) {
	s := &YAMLStore{path: path, values: map[string]string{}}
	if err := s.Reload(); err != nil {
		return nil, err
	}
	return s, nil
}

// Path of the backing file.
func (s *YAMLStore) Path() string { return s.path }

// Reload re-reads the file, picking up edits made outside the process.
func (s *YAMLStore) Reload() error {
	values, err := s.read()
	if err != nil {
		return err
	}
	if values == nil {
		return nil
	}

	s.mu.Lock()
	s.values = values
	s.mu.Unlock()
	return nil
}

// read returns nil values when the file does not exist.
func (s *YAMLStore) read() (map[string]string, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, errors.Errorf("reading config file: %w", err)
	}

	values := map[string]string{}
	if err := yaml.Unmarshal(data, &values); err != nil {
		return nil, errors.Errorf("parsing config file %s: %w", s.path, err)
	}
	return values, nil
}

func (s *YAMLStore) Get(_ context.Context, key string) (string, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.values[key]
	return v, ok, nil
}

// Set merges into the current file content so edits made outside the process
// since the last Reload are not overwritten.
func (s *YAMLStore) Set(_ context.Context, key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if latest, err := s.read(); err == nil && latest != nil {
		s.values = latest
	}

	prev, had := s.values[key]
	s.values[key] = value
	if err := s.flush(); err != nil {
		if had {
			s.values[key] = prev
		} else {
			delete(s.values, key)
		}
		return err
	}
	return nil
}

func (s *YAMLStore) All(_ context.Context) (map[string]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]string, len(s.values))
	for k, v := range s.values {
		out[k] = v
	}
	return out, nil
}

func (s *YAMLStore) Close() error { return nil }

// flush writes through a temp file and rename so readers never see half a file.
func (s *YAMLStore) flush() error {
	data, err := yaml.Marshal(s.values)
	if err != nil {
		return errors.Errorf("encoding config: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return errors.Errorf("creating config directory: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(s.path), "."+filepath.Base(s.path)+".*")
	if err != nil {
		return errors.Errorf("creating temp config file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return errors.Errorf("writing config file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return errors.Errorf("writing config file: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		return errors.Errorf("replacing config file: %w", err)
	}
	return nil
}
