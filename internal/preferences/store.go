package preferences

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"licensecheck/internal/config"
)

// Store is an obfuscated, transactional string store. Reads see committed
// values only; writes are staged until Commit.
type Store struct {
	mu         sync.Mutex
	backend    Backend
	obfuscator Obfuscator
	logger     *slog.Logger

	committed map[string]string
	staged    map[string]string
	// stageErr poisons the current batch when a staged write was lost
	stageErr error
}

// NewStore loads the current contents of backend.
func NewStore(backend Backend, obfuscator Obfuscator, logger *slog.Logger) (*Store, error) {
	if backend == nil || obfuscator == nil {
		return nil, errors.New("preferences: backend and obfuscator are required")
	}
	if logger == nil {
		logger = slog.Default()
	}

	values, err := backend.Load()
	if err != nil {
		return nil, fmt.Errorf("load preferences: %w", err)
	}

	return &Store{
		backend:    backend,
		obfuscator: obfuscator,
		logger:     logger.With(slog.String("component", "preferences")),
		committed:  values,
		staged:     map[string]string{},
	}, nil
}

// GetString returns the committed value for key, or def when the key is
// missing or its stored value does not validate.
func (s *Store) GetString(key, def string) string {
	s.mu.Lock()
	raw, ok := s.committed[key]
	s.mu.Unlock()
	if !ok {
		return def
	}

	value, err := s.obfuscator.Unobfuscate(raw, key)
	if err != nil {
		s.logger.Warn("discarding preference that failed validation",
			slog.String("key", key),
			slog.String("error", err.Error()))
		return def
	}
	return value
}

// PutString stages a write for the next Commit. A value that cannot be
// obfuscated makes that Commit fail without saving any of the batch.
func (s *Store) PutString(key, value string) {
	obfuscated, err := s.obfuscator.Obfuscate(value, key)

	s.mu.Lock()
	defer s.mu.Unlock()
	if err != nil {
		s.logger.Error("failed to obfuscate preference",
			slog.String("key", key),
			slog.String("error", err.Error()))
		s.stageErr = errors.Join(s.stageErr, fmt.Errorf("stage %s: %w", key, err))
		return
	}
	s.staged[key] = obfuscated
}

// Commit persists every staged write in one Backend.Save. If the backend
// fails the staged writes are kept for the next attempt; if a write could not
// be staged the whole batch is dropped.
func (s *Store) Commit() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stageErr != nil {
		err := s.stageErr
		s.stageErr = nil
		s.staged = map[string]string{}
		return fmt.Errorf("discard incomplete preference batch: %w", err)
	}
	if len(s.staged) == 0 {
		return nil
	}

	next := copyMap(s.committed)
	for k, v := range s.staged {
		next[k] = v
	}
	if err := s.backend.Save(next); err != nil {
		return fmt.Errorf("save preferences: %w", err)
	}

	s.committed = next
	s.staged = map[string]string{}
	return nil
}

// Close releases the backend when it holds resources.
func (s *Store) Close() error {
	if closer, ok := s.backend.(io.Closer); ok {
		return closer.Close()
	}
	return nil
}

// Open builds a Store for packageID from configuration. An empty device id
// falls back to DeviceFingerprint.
func Open(cfg config.StoreConfig, packageID string, logger *slog.Logger) (*Store, error) {
	deviceID := cfg.DeviceID
	if deviceID == "" {
		deviceID = DeviceFingerprint()
	}

	obfuscator, err := NewAESObfuscator([]byte(cfg.Salt), packageID, deviceID, DefaultObfuscatorConfig())
	if err != nil {
		return nil, err
	}

	var backend Backend
	switch cfg.Backend {
	case config.BackendMemory:
		backend = NewMemoryBackend()
	case config.BackendFile:
		backend = NewFileBackend(cfg.Path)
	case config.BackendSQLite:
		sqliteBackend, err := OpenSQLite(cfg.Path)
		if err != nil {
			return nil, err
		}
		backend = sqliteBackend
	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.Backend)
	}

	store, err := NewStore(backend, obfuscator, logger)
	if err != nil {
		if closer, ok := backend.(io.Closer); ok {
			_ = closer.Close()
		}
		return nil, err
	}
	return store, nil
}
