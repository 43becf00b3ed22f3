// Package auth persists the bearer credentials issued by the knowledge
// service. The store holds exactly one access/refresh pair; it never
// inspects token contents.
package auth

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sync"
)

// ErrPartialCredentials is returned when Set is called with only one of the
// two tokens. The store persists both tokens or neither.
var ErrPartialCredentials = errors.New("auth: both access and refresh tokens required")

// Credentials is an opaque access/refresh token pair.
type Credentials struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
}

// Store persists credentials to a JSON file under the user's home directory.
// Writes are restricted to login, logout and the transport's refresh step;
// everything else only reads.
type Store struct {
	filePath string
	mu       sync.Mutex
	creds    *Credentials
}

// NewStore creates a store backed by ~/.kbchat/credentials.json and loads
// any previously persisted pair.
func NewStore() (*Store, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil, err
	}
	return NewStoreAt(filepath.Join(home, ".kbchat", "credentials.json")), nil
}

// NewStoreAt creates a store backed by the given file path.
func NewStoreAt(path string) *Store {
	s := &Store{filePath: path}
	_ = s.load()
	return s
}

func (s *Store) load() error {
	data, err := os.ReadFile(s.filePath)
	if err != nil {
		return err
	}
	var creds Credentials
	if err := json.Unmarshal(data, &creds); err != nil {
		return err
	}
	if creds.AccessToken == "" || creds.RefreshToken == "" {
		// A partial pair on disk is treated as no credentials.
		return nil
	}
	s.mu.Lock()
	s.creds = &creds
	s.mu.Unlock()
	return nil
}

// Set persists a complete credential pair, replacing any existing one.
func (s *Store) Set(creds Credentials) error {
	if creds.AccessToken == "" || creds.RefreshToken == "" {
		return ErrPartialCredentials
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := json.MarshalIndent(&creds, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(s.filePath), 0755); err != nil {
		return err
	}
	if err := os.WriteFile(s.filePath, data, 0600); err != nil {
		return err
	}
	s.creds = &creds
	return nil
}

// Get returns the stored pair, if any.
func (s *Store) Get() (Credentials, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.creds == nil {
		return Credentials{}, false
	}
	return *s.creds, true
}

// Clear removes the stored pair from memory and disk. Idempotent.
func (s *Store) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.creds = nil
	if err := os.Remove(s.filePath); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}
