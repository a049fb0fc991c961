package trust

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/park-link/pkg/types"
)

var (
	// ErrCorruptStore indicates the persisted data could not be parsed.
	// Non-fatal: the caller warns and continues with an empty store.
	ErrCorruptStore = errors.New("trust store data is corrupt")
	// ErrPersistFailed indicates a write could not be committed
	ErrPersistFailed = errors.New("failed to persist trust store")
)

// storeFile is the on-disk representation. Unknown fields in the file are
// ignored on load so newer versions of the client stay readable.
type storeFile struct {
	Servers []types.ServerRecord `json:"servers"`
}

// Store persists the endpoint -> ServerRecord mapping of approved servers.
// Single writer; reads may run concurrently. After any successful operation
// the in-memory mapping and the file never diverge.
type Store struct {
	path string

	mu      sync.RWMutex
	records map[string]types.ServerRecord // keyed by Endpoint.Key()
}

// NewStore creates a store backed by the given file path. Call Load before use.
func NewStore(path string) *Store {
	return &Store{
		path:    path,
		records: make(map[string]types.ServerRecord),
	}
}

// Load reads the persisted records. A missing file is an empty store. On
// corrupt data the store starts empty and ErrCorruptStore is returned so the
// caller can warn without aborting.
func (s *Store) Load() (map[string]types.ServerRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.records = make(map[string]types.ServerRecord)

	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return s.snapshotLocked(), nil
		}
		return s.snapshotLocked(), fmt.Errorf("%w: %v", ErrCorruptStore, err)
	}

	var file storeFile
	if err := json.Unmarshal(data, &file); err != nil {
		return s.snapshotLocked(), fmt.Errorf("%w: %v", ErrCorruptStore, err)
	}

	for _, record := range file.Servers {
		if record.Endpoint.Validate() != nil {
			// Skip records damaged by hand-editing, keep the rest
			continue
		}
		s.records[record.Endpoint.Key()] = record
	}
	return s.snapshotLocked(), nil
}

// Upsert inserts or replaces the record for its endpoint identity and
// persists synchronously before returning. Persistence is atomic: after a
// crash either the prior or the new state is observable, never a torn file.
func (s *Store) Upsert(record types.ServerRecord) error {
	if err := record.Endpoint.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrPersistFailed, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	key := record.Endpoint.Key()
	prev, existed := s.records[key]
	s.records[key] = record

	if err := s.persistLocked(); err != nil {
		// Roll back so memory and disk stay consistent
		if existed {
			s.records[key] = prev
		} else {
			delete(s.records, key)
		}
		return err
	}
	return nil
}

// Remove deletes the record for the endpoint if present. Removing an absent
// endpoint is a no-op and returns nil.
func (s *Store) Remove(endpoint types.Endpoint) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := endpoint.Key()
	prev, existed := s.records[key]
	if !existed {
		return nil
	}
	delete(s.records, key)

	if err := s.persistLocked(); err != nil {
		s.records[key] = prev
		return err
	}
	return nil
}

// Get returns the record for an endpoint identity, if present
func (s *Store) Get(endpoint types.Endpoint) (types.ServerRecord, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	record, ok := s.records[endpoint.Key()]
	return record, ok
}

// Records returns a copy of the current mapping
func (s *Store) Records() map[string]types.ServerRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snapshotLocked()
}

// Len returns the number of stored records
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}

func (s *Store) snapshotLocked() map[string]types.ServerRecord {
	out := make(map[string]types.ServerRecord, len(s.records))
	for k, v := range s.records {
		out[k] = v
	}
	return out
}

// persistLocked writes the whole store through a temp file + rename so a
// crash mid-write never leaves a torn file behind.
func (s *Store) persistLocked() error {
	file := storeFile{Servers: make([]types.ServerRecord, 0, len(s.records))}
	for _, record := range s.records {
		file.Servers = append(file.Servers, record)
	}

	data, err := json.MarshalIndent(file, "", "  ")
	if err != nil {
		return fmt.Errorf("%w: %v", ErrPersistFailed, err)
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("%w: %v", ErrPersistFailed, err)
	}

	tmp, err := os.CreateTemp(dir, ".servers-*.json")
	if err != nil {
		return fmt.Errorf("%w: %v", ErrPersistFailed, err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("%w: %v", ErrPersistFailed, err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("%w: %v", ErrPersistFailed, err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("%w: %v", ErrPersistFailed, err)
	}

	if err := os.Rename(tmpName, s.path); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("%w: %v", ErrPersistFailed, err)
	}
	return nil
}
