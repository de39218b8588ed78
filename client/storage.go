package client

import (
	"encoding/json"
	"errors"
	"os"
	"sync"
)

// TokenPair is the client-held copy of an issued pair.
type TokenPair struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int64  `json:"expires_in"`
}

// TokenStore persists the current token pair between runs. Implementations
// must be safe for concurrent use.
type TokenStore interface {
	Save(pair TokenPair) error
	// Load returns the stored pair and whether one exists.
	Load() (TokenPair, bool, error)
	Clear() error
}

// MemoryStore keeps the pair in memory only.
type MemoryStore struct {
	mu   sync.Mutex
	pair TokenPair
	set  bool
}

// NewMemoryStore returns an empty in-memory token store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (s *MemoryStore) Save(pair TokenPair) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pair = pair
	s.set = true
	return nil
}

func (s *MemoryStore) Load() (TokenPair, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pair, s.set, nil
}

func (s *MemoryStore) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pair = TokenPair{}
	s.set = false
	return nil
}

// FileStore persists the pair as JSON in a single file with 0600 permissions.
// The file holds a raw refresh secret; it must not be world-readable.
type FileStore struct {
	mu   sync.Mutex
	path string
}

// NewFileStore returns a TokenStore backed by the file at path.
func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

func (s *FileStore) Save(pair TokenPair) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, err := json.Marshal(pair)
	if err != nil {
		return err
	}
	return os.WriteFile(s.path, b, 0o600)
}

func (s *FileStore) Load() (TokenPair, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return TokenPair{}, false, nil
		}
		return TokenPair{}, false, err
	}
	var pair TokenPair
	if err := json.Unmarshal(b, &pair); err != nil {
		return TokenPair{}, false, err
	}
	if pair.AccessToken == "" && pair.RefreshToken == "" {
		return TokenPair{}, false, nil
	}
	return pair, true, nil
}

func (s *FileStore) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := os.Remove(s.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}
