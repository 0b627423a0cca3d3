package credstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/kamui-project/kamui-session/internal/token"
)

const (
	// CredentialsFileName is the name of the credentials file
	CredentialsFileName = "credentials.json"

	// DirName is the directory created under the user config dir
	DirName = "kamui"
)

// ErrRecordNotFound is returned when setting an unknown record as default
var ErrRecordNotFound = errors.New("token record not found")

// fileState is the on-disk layout of the credentials file
type fileState struct {
	Default string                   `json:"default,omitempty"`
	Records map[string]*token.Record `json:"records"`
}

// FileStore keeps records in a JSON file readable only by the owner.
// It is deliberately kept outside the CLI config directory so that the
// config directory can serve as the installation marker.
type FileStore struct {
	mu   sync.Mutex
	path string
}

// DefaultDir returns the default credentials directory
func DefaultDir() (string, error) {
	configDir, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("failed to get user config directory: %w", err)
	}
	return filepath.Join(configDir, DirName), nil
}

// NewFileStore creates a FileStore in dir, creating the directory if needed
func NewFileStore(dir string) (*FileStore, error) {
	if dir == "" {
		var err error
		if dir, err = DefaultDir(); err != nil {
			return nil, err
		}
	}
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create credentials directory: %w", err)
	}
	return &FileStore{path: filepath.Join(dir, CredentialsFileName)}, nil
}

// Path returns the path to the credentials file
func (s *FileStore) Path() string {
	return s.path
}

// Current returns the default record, or nil if there is none
func (s *FileStore) Current(_ context.Context) (*token.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	state, err := s.load()
	if err != nil {
		return nil, err
	}
	if state.Default == "" {
		return nil, nil
	}
	rec, ok := state.Records[state.Default]
	if !ok || rec == nil {
		return nil, fmt.Errorf("%w: default record %s is missing", token.ErrInvalidRecord, state.Default)
	}
	return rec, nil
}

// Store saves rec under rec.ID
func (s *FileStore) Store(_ context.Context, rec *token.Record) error {
	if rec == nil || rec.ID == "" {
		return errors.New("record must have an ID")
	}
	return s.update(func(state *fileState) error {
		state.Records[rec.ID] = rec.Clone()
		return nil
	})
}

// Remove deletes the record with the given ID
func (s *FileStore) Remove(_ context.Context, id string) error {
	return s.update(func(state *fileState) error {
		delete(state.Records, id)
		if state.Default == id {
			state.Default = ""
		}
		return nil
	})
}

// SetDefault marks id as the default record; an empty id clears the default
func (s *FileStore) SetDefault(_ context.Context, id string) error {
	return s.update(func(state *fileState) error {
		if id != "" {
			if _, ok := state.Records[id]; !ok {
				return ErrRecordNotFound
			}
		}
		state.Default = id
		return nil
	})
}

// update applies fn to the stored state and writes it back.
// An unreadable file is replaced rather than blocking every write.
func (s *FileStore) update(fn func(*fileState) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	state, err := s.load()
	if err != nil && !errors.Is(err, token.ErrInvalidRecord) {
		return err
	}
	if err != nil {
		state = &fileState{Records: make(map[string]*token.Record)}
	}

	if err := fn(state); err != nil {
		return err
	}
	return s.save(state)
}

func (s *FileStore) load() (*fileState, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return &fileState{Records: make(map[string]*token.Record)}, nil
		}
		return nil, fmt.Errorf("failed to read credentials file: %w", err)
	}

	var state fileState
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, fmt.Errorf("%w: %v", token.ErrInvalidRecord, err)
	}
	if state.Records == nil {
		state.Records = make(map[string]*token.Record)
	}
	return &state, nil
}

func (s *FileStore) save(state *fileState) error {
	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal credentials: %w", err)
	}

	// Write to a temp file and rename so readers never see a partial file
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0600); err != nil {
		return fmt.Errorf("failed to write credentials file: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("failed to replace credentials file: %w", err)
	}
	return nil
}
