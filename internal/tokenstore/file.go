package tokenstore

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"gopkg.in/yaml.v3"
)

// FileStore persists the token in a small YAML document on disk, the CLI analogue
// of browser local storage: it survives restarts and is removed on logout.
// The file is written with mode 0600 via temp file + rename.
type FileStore struct {
	mu   sync.Mutex
	path string
	key  string
}

type fileDocument struct {
	Tokens map[string]string `yaml:"tokens"`
}

// NewFileStore creates a FileStore at path storing the token under key.
// The parent directory is created on first Write.
func NewFileStore(path, key string) *FileStore {
	if key == "" {
		key = "zappaiAccessToken"
	}
	return &FileStore{path: path, key: key}
}

// Path returns the backing file path.
func (s *FileStore) Path() string {
	return s.path
}

// Read implements Store.Read.
func (s *FileStore) Read(ctx context.Context) (string, bool, error) {
	if err := ctx.Err(); err != nil {
		return "", false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, err := s.load()
	if err != nil {
		return "", false, err
	}
	token, ok := doc.Tokens[s.key]
	return token, ok, nil
}

// Write implements Store.Write.
func (s *FileStore) Write(ctx context.Context, token string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, err := s.load()
	if err != nil {
		return err
	}
	doc.Tokens[s.key] = token
	return s.save(doc)
}

// Clear implements Store.Clear. The file is removed once it holds no tokens.
func (s *FileStore) Clear(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, err := s.load()
	if err != nil {
		return err
	}
	if _, ok := doc.Tokens[s.key]; !ok {
		return nil
	}
	delete(doc.Tokens, s.key)
	if len(doc.Tokens) == 0 {
		if err := os.Remove(s.path); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("remove token file: %w", err)
		}
		return nil
	}
	return s.save(doc)
}

func (s *FileStore) load() (fileDocument, error) {
	doc := fileDocument{Tokens: map[string]string{}}
	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return doc, nil
		}
		return doc, fmt.Errorf("read token file: %w", err)
	}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return doc, fmt.Errorf("parse token file %s: %w", s.path, err)
	}
	if doc.Tokens == nil {
		doc.Tokens = map[string]string{}
	}
	return doc, nil
}

func (s *FileStore) save(doc fileDocument) error {
	data, err := yaml.Marshal(doc)
	if err != nil {
		return fmt.Errorf("encode token file: %w", err)
	}
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("create token dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".session-*.yaml")
	if err != nil {
		return fmt.Errorf("create temp token file: %w", err)
	}
	tmpName := tmp.Name()
	defer func() { _ = os.Remove(tmpName) }()
	if err := tmp.Chmod(0o600); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("chmod temp token file: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write temp token file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp token file: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		return fmt.Errorf("replace token file: %w", err)
	}
	return nil
}
