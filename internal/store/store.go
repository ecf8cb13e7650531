package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/vovakirdan/wirechat-client/internal/core"
)

// DefaultHistoryKey is the fixed key the message history is stored under.
const DefaultHistoryKey = "chatMessages"

// ErrNotFound is returned by KV.Get for missing keys.
var ErrNotFound = errors.New("key not found")

// KV is the durable key-value medium the history is persisted to.
type KV interface {
	// Get returns the value stored under key, or ErrNotFound.
	Get(ctx context.Context, key string) ([]byte, error)

	// Set overwrites the value stored under key.
	Set(ctx context.Context, key string, value []byte) error

	// Close releases the underlying resources.
	Close() error
}

// HistoryStore persists the whole ordered history as one JSON document.
type HistoryStore struct {
	kv  KV
	key string
}

// NewHistoryStore binds a history store to kv under key (DefaultHistoryKey when empty).
func NewHistoryStore(kv KV, key string) *HistoryStore {
	if key == "" {
		key = DefaultHistoryKey
	}
	return &HistoryStore{kv: kv, key: key}
}

// Load returns the persisted history. It never returns a nil slice: missing
// data yields an empty history and nil error, corrupt data or backend errors
// yield an empty history and an error wrapping core.ErrStoreUnavailable.
func (s *HistoryStore) Load(ctx context.Context) ([]core.Message, error) {
	if s == nil || s.kv == nil {
		return []core.Message{}, nil
	}
	raw, err := s.kv.Get(ctx, s.key)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return []core.Message{}, nil
		}
		return []core.Message{}, fmt.Errorf("%w: load history: %v", core.ErrStoreUnavailable, err)
	}
	if len(raw) == 0 {
		return []core.Message{}, nil
	}
	var history []core.Message
	if err := json.Unmarshal(raw, &history); err != nil {
		return []core.Message{}, fmt.Errorf("%w: decode history: %v", core.ErrStoreUnavailable, err)
	}
	if history == nil {
		history = []core.Message{}
	}
	return history, nil
}

// Save overwrites the persisted history with history.
func (s *HistoryStore) Save(ctx context.Context, history []core.Message) error {
	if s == nil || s.kv == nil {
		return nil
	}
	if history == nil {
		history = []core.Message{}
	}
	raw, err := json.Marshal(history)
	if err != nil {
		return fmt.Errorf("%w: encode history: %v", core.ErrStoreUnavailable, err)
	}
	if err := s.kv.Set(ctx, s.key, raw); err != nil {
		return fmt.Errorf("%w: save history: %v", core.ErrStoreUnavailable, err)
	}
	return nil
}

// Close closes the underlying KV.
func (s *HistoryStore) Close() error {
	if s == nil || s.kv == nil {
		return nil
	}
	return s.kv.Close()
}

// MemoryKV keeps values in process memory. Used when no durable medium is configured.
type MemoryKV struct {
	mu    sync.RWMutex
	items map[string][]byte
}

func NewMemory() *MemoryKV {
	return &MemoryKV{items: make(map[string][]byte)}
}

func (m *MemoryKV) Get(_ context.Context, key string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.items[key]
	if !ok {
		return nil, ErrNotFound
	}
	out := make([]byte, len(v))
	copy(out, v)
	return out, nil
}

func (m *MemoryKV) Set(_ context.Context, key string, value []byte) error {
	v := make([]byte, len(value))
	copy(v, value)
	m.mu.Lock()
	defer m.mu.Unlock()
	m.items[key] = v
	return nil
}

func (m *MemoryKV) Close() error {
	return nil
}
