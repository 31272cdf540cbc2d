package checkpoints

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sync"
)

// CheckpointError wraps a store failure with the key that triggered it.
type CheckpointError struct {
	Key string
	Op  string // "save" or "load"
	Err error
}

func (e *CheckpointError) Error() string {
	return fmt.Sprintf("checkpoint %s %q: %v", e.Op, e.Key, e.Err)
}

func (e *CheckpointError) Unwrap() error { return e.Err }

// Store persists named checkpoint entries. Save replaces the entry under key;
// Load reports found=false when the key has never been saved, which restore
// logic treats as "start fresh", never as an error.
type Store interface {
	Save(key string, v interface{}) error
	Load(key string, v interface{}) (bool, error)
}

var keyPattern = regexp.MustCompile(`^[a-zA-Z0-9._-]+$`)

func validateKey(key string) error {
	if !keyPattern.MatchString(key) {
		return fmt.Errorf("invalid checkpoint key %q", key)
	}
	return nil
}

// FileStore keeps one pretty-printed JSON file per key inside a directory.
// Writes go through a temp file and rename so a crash mid-save never leaves a
// truncated entry behind.
type FileStore struct {
	dir string
}

// NewFileStore creates the checkpoint directory if needed.
func NewFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create checkpoint directory: %v", err)
	}
	return &FileStore{dir: dir}, nil
}

func (fs *FileStore) path(key string) string {
	return filepath.Join(fs.dir, key+".json")
}

// Save writes the entry for key, replacing any previous one.
func (fs *FileStore) Save(key string, v interface{}) error {
	if err := validateKey(key); err != nil {
		return &CheckpointError{Key: key, Op: "save", Err: err}
	}

	tmp, err := os.CreateTemp(fs.dir, key+"-*.tmp")
	if err != nil {
		return &CheckpointError{Key: key, Op: "save", Err: err}
	}
	defer os.Remove(tmp.Name())

	encoder := json.NewEncoder(tmp)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(v); err != nil {
		tmp.Close()
		return &CheckpointError{Key: key, Op: "save", Err: fmt.Errorf("failed to encode: %v", err)}
	}
	if err := tmp.Close(); err != nil {
		return &CheckpointError{Key: key, Op: "save", Err: err}
	}

	if err := os.Rename(tmp.Name(), fs.path(key)); err != nil {
		return &CheckpointError{Key: key, Op: "save", Err: err}
	}
	return nil
}

// Load decodes the entry for key into v. A missing key returns (false, nil).
func (fs *FileStore) Load(key string, v interface{}) (bool, error) {
	if err := validateKey(key); err != nil {
		return false, &CheckpointError{Key: key, Op: "load", Err: err}
	}

	file, err := os.Open(fs.path(key))
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, &CheckpointError{Key: key, Op: "load", Err: err}
	}
	defer file.Close()

	if err := json.NewDecoder(file).Decode(v); err != nil {
		return false, &CheckpointError{Key: key, Op: "load", Err: fmt.Errorf("failed to decode: %v", err)}
	}
	return true, nil
}

// MemStore is an in-memory Store for tests and dry runs. Entries round-trip
// through JSON so it exercises the same serialization path as FileStore.
type MemStore struct {
	mu      sync.Mutex
	entries map[string][]byte
}

func NewMemStore() *MemStore {
	return &MemStore{entries: make(map[string][]byte)}
}

func (ms *MemStore) Save(key string, v interface{}) error {
	if err := validateKey(key); err != nil {
		return &CheckpointError{Key: key, Op: "save", Err: err}
	}
	data, err := json.Marshal(v)
	if err != nil {
		return &CheckpointError{Key: key, Op: "save", Err: fmt.Errorf("failed to encode: %v", err)}
	}
	ms.mu.Lock()
	defer ms.mu.Unlock()
	ms.entries[key] = data
	return nil
}

func (ms *MemStore) Load(key string, v interface{}) (bool, error) {
	if err := validateKey(key); err != nil {
		return false, &CheckpointError{Key: key, Op: "load", Err: err}
	}
	ms.mu.Lock()
	data, ok := ms.entries[key]
	ms.mu.Unlock()
	if !ok {
		return false, nil
	}
	if err := json.Unmarshal(data, v); err != nil {
		return false, &CheckpointError{Key: key, Op: "load", Err: fmt.Errorf("failed to decode: %v", err)}
	}
	return true, nil
}

// Keys lists saved entries, for assertions in tests.
func (ms *MemStore) Keys() []string {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	keys := make([]string, 0, len(ms.entries))
	for k := range ms.entries {
		keys = append(keys, k)
	}
	return keys
}
