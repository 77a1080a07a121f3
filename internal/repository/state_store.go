package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-examclient/internal/config"
)

// Scope selects which storage a key lives in.
type Scope string

const (
	// ScopeSession holds per-attempt state and disappears with the tab session.
	ScopeSession Scope = "session"
	// ScopeDurable holds security flags and completion markers across sessions.
	ScopeDurable Scope = "durable"
)

// Backend is a flat string key-value store.
type Backend interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string) error
	Del(ctx context.Context, keys ...string) error
}

// ─── Memory backend ─────────────────────────────────────────────────────────

// MemoryBackend keeps values in the agent process.
type MemoryBackend struct {
	mu   sync.RWMutex
	data map[string]string
}

// NewMemoryBackend creates an empty MemoryBackend.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{data: make(map[string]string)}
}

func (m *MemoryBackend) Get(_ context.Context, key string) (string, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.data[key]
	return v, ok, nil
}

func (m *MemoryBackend) Set(_ context.Context, key, value string) error {
	m.mu.Lock()
	m.data[key] = value
	m.mu.Unlock()
	return nil
}

func (m *MemoryBackend) Del(_ context.Context, keys ...string) error {
	m.mu.Lock()
	for _, k := range keys {
		delete(m.data, k)
	}
	m.mu.Unlock()
	return nil
}

// Keys returns the stored keys in sorted order.
func (m *MemoryBackend) Keys() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	keys := make([]string, 0, len(m.data))
	for k := range m.data {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// ─── Redis backend ──────────────────────────────────────────────────────────

// RedisBackend stores values as plain Redis strings. A zero ttl keeps keys
// until they are deleted.
type RedisBackend struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewRedisBackend creates a RedisBackend.
func NewRedisBackend(rdb *redis.Client, ttl time.Duration) *RedisBackend {
	return &RedisBackend{rdb: rdb, ttl: ttl}
}

func (r *RedisBackend) Get(ctx context.Context, key string) (string, bool, error) {
	val, err := r.rdb.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return val, true, nil
}

func (r *RedisBackend) Set(ctx context.Context, key, value string) error {
	return r.rdb.Set(ctx, key, value, r.ttl).Err()
}

func (r *RedisBackend) Del(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	return r.rdb.Del(ctx, keys...).Err()
}

// ─── Namespacing ────────────────────────────────────────────────────────────

type namespaced struct {
	next   Backend
	prefix string
}

// Namespace prefixes every key written through b.
func Namespace(b Backend, prefix string) Backend {
	return &namespaced{next: b, prefix: prefix}
}

func (n *namespaced) Get(ctx context.Context, key string) (string, bool, error) {
	return n.next.Get(ctx, n.prefix+key)
}

func (n *namespaced) Set(ctx context.Context, key, value string) error {
	return n.next.Set(ctx, n.prefix+key, value)
}

func (n *namespaced) Del(ctx context.Context, keys ...string) error {
	full := make([]string, len(keys))
	for i, k := range keys {
		full[i] = n.prefix + k
	}
	return n.next.Del(ctx, full...)
}

// ─── Store ──────────────────────────────────────────────────────────────────

// StateStore is the single entry point for reading and writing client-side
// exam state. Values are JSON; anything malformed reads back as absent.
type StateStore struct {
	session Backend
	durable Backend
	log     zerolog.Logger
}

// NewStateStore creates a StateStore over the two scopes.
func NewStateStore(session, durable Backend, log zerolog.Logger) *StateStore {
	return &StateStore{
		session: session,
		durable: durable,
		log:     log.With().Str("component", "state_store").Logger(),
	}
}

func (s *StateStore) backend(scope Scope) (Backend, error) {
	switch scope {
	case ScopeSession:
		return s.session, nil
	case ScopeDurable:
		return s.durable, nil
	default:
		return nil, fmt.Errorf("unknown storage scope %q", scope)
	}
}

// Get decodes the value at key into dst and reports whether it was present.
// Backend errors and malformed JSON are logged and read as absent.
func (s *StateStore) Get(ctx context.Context, scope Scope, key string, dst any) bool {
	b, err := s.backend(scope)
	if err != nil {
		s.log.Error().Err(err).Str("key", key).Msg("Get on unknown scope")
		return false
	}

	raw, ok, err := b.Get(ctx, key)
	if err != nil {
		s.log.Warn().Err(err).Str("scope", string(scope)).Str("key", key).Msg("Storage read failed, treating as absent")
		return false
	}
	if !ok || strings.TrimSpace(raw) == "" {
		return false
	}

	if err := json.Unmarshal([]byte(raw), dst); err != nil {
		s.log.Debug().Err(err).Str("scope", string(scope)).Str("key", key).Msg("Discarding malformed stored value")
		return false
	}
	return true
}

// Set encodes value as JSON and stores it at key.
func (s *StateStore) Set(ctx context.Context, scope Scope, key string, value any) error {
	b, err := s.backend(scope)
	if err != nil {
		return err
	}

	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", key, err)
	}
	if err := b.Set(ctx, key, string(data)); err != nil {
		return fmt.Errorf("store %s: %w", key, err)
	}
	return nil
}

// Remove deletes keys from one scope.
func (s *StateStore) Remove(ctx context.Context, scope Scope, keys ...string) error {
	b, err := s.backend(scope)
	if err != nil {
		return err
	}
	if err := b.Del(ctx, keys...); err != nil {
		return fmt.Errorf("remove %v: %w", keys, err)
	}
	return nil
}

// Exam returns the typed view over one exam's keys.
func (s *StateStore) Exam(examID string) *ExamState {
	return &ExamState{store: s, examID: examID}
}

// Security returns the typed view over the security flags.
func (s *StateStore) Security() *SecurityState {
	return &SecurityState{store: s}
}

// StateStores hands out per-student stores over shared backends so that
// students served by the same agent never see each other's keys.
type StateStores struct {
	session Backend
	durable Backend
	log     zerolog.Logger
}

// NewStateStores creates a StateStores.
func NewStateStores(session, durable Backend, log zerolog.Logger) *StateStores {
	return &StateStores{session: session, durable: durable, log: log}
}

// ForStudent returns the store scoped to one student.
func (f *StateStores) ForStudent(studentID int) *StateStore {
	return NewStateStore(
		Namespace(f.session, config.StorageKey.StudentNamespace(string(ScopeSession), studentID)),
		Namespace(f.durable, config.StorageKey.StudentNamespace(string(ScopeDurable), studentID)),
		f.log.With().Int("student_id", studentID).Logger(),
	)
}
