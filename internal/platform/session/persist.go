package session

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	json "github.com/goccy/go-json"
	"github.com/redis/go-redis/v9"

	"github.com/medibridge/clinic/internal/domain/identity"
)

// Persisted is the locally saved session. Token and User are always saved and
// cleared together.
type Persisted struct {
	Token string            `json:"token"`
	User  identity.Identity `json:"user"`
}

// Persistence stores the session of one client instance. Load returns nil
// without error when nothing is stored.
type Persistence interface {
	Load(ctx context.Context) (*Persisted, error)
	Save(ctx context.Context, p *Persisted) error
	Clear(ctx context.Context) error
}

// Backend hands out the persistence slot of one browser session.
type Backend interface {
	For(sessionID string) Persistence
	Ping(ctx context.Context) error
}

func encode(p *Persisted) ([]byte, error) {
	if p == nil {
		return nil, errors.New("session: nothing to persist")
	}
	return json.Marshal(p)
}

func decode(raw []byte) (*Persisted, error) {
	var p Persisted
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, fmt.Errorf("session: decode persisted session: %w", err)
	}
	return &p, nil
}

// ---------------------------------------------------------------------------
// File
// ---------------------------------------------------------------------------

// FileStore keeps the session in a JSON file readable only by its owner.
type FileStore struct {
	path string
	mu   sync.Mutex
}

// NewFileStore returns a store backed by path.
func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

// DefaultFilePath is the per-user session file used by the command line.
func DefaultFilePath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		dir = os.TempDir()
	}
	return filepath.Join(dir, "medibridge", "session.json")
}

func (f *FileStore) Path() string { return f.path }

func (f *FileStore) Load(_ context.Context) (*Persisted, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	raw, err := os.ReadFile(f.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("session: read %s: %w", f.path, err)
	}
	return decode(raw)
}

func (f *FileStore) Save(_ context.Context, p *Persisted) error {
	raw, err := encode(p)
	if err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(f.path), 0o700); err != nil {
		return fmt.Errorf("session: create dir: %w", err)
	}
	tmp := f.path + ".tmp"
	if err := os.WriteFile(tmp, raw, 0o600); err != nil {
		return fmt.Errorf("session: write %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, f.path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("session: replace %s: %w", f.path, err)
	}
	return nil
}

func (f *FileStore) Clear(_ context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := os.Remove(f.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("session: remove %s: %w", f.path, err)
	}
	return nil
}

// ---------------------------------------------------------------------------
// Memory
// ---------------------------------------------------------------------------

// MemoryStore keeps browser sessions in a process-local map.
type MemoryStore struct {
	mu    sync.RWMutex
	slots map[string][]byte
}

// NewMemoryStore creates an empty in-memory backend.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{slots: make(map[string][]byte)}
}

func (m *MemoryStore) For(sessionID string) Persistence {
	return &memorySlot{store: m, id: sessionID}
}

func (m *MemoryStore) Ping(context.Context) error { return nil }

// Len returns the number of stored sessions.
func (m *MemoryStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.slots)
}

type memorySlot struct {
	store *MemoryStore
	id    string
}

func (s *memorySlot) Load(context.Context) (*Persisted, error) {
	s.store.mu.RLock()
	raw, ok := s.store.slots[s.id]
	s.store.mu.RUnlock()
	if !ok {
		return nil, nil
	}
	return decode(raw)
}

func (s *memorySlot) Save(_ context.Context, p *Persisted) error {
	raw, err := encode(p)
	if err != nil {
		return err
	}
	s.store.mu.Lock()
	s.store.slots[s.id] = raw
	s.store.mu.Unlock()
	return nil
}

func (s *memorySlot) Clear(context.Context) error {
	s.store.mu.Lock()
	delete(s.store.slots, s.id)
	s.store.mu.Unlock()
	return nil
}

// ---------------------------------------------------------------------------
// Redis
// ---------------------------------------------------------------------------

const defaultRedisPrefix = "clinic:session:"

// RedisStore keeps browser sessions in redis, one key per session. A nonzero
// TTL is an idle bound: every Load pushes the expiry forward, so only keys
// nobody touched for a whole TTL disappear.
type RedisStore struct {
	rdb    redis.UniversalClient
	prefix string
	ttl    time.Duration
}

// NewRedisStore wraps rdb. A zero ttl keeps keys forever.
func NewRedisStore(rdb redis.UniversalClient, prefix string, ttl time.Duration) *RedisStore {
	if prefix == "" {
		prefix = defaultRedisPrefix
	}
	return &RedisStore{rdb: rdb, prefix: prefix, ttl: ttl}
}

// NewRedisStoreFromURL parses a redis:// URL and connects lazily.
func NewRedisStoreFromURL(rawURL string, ttl time.Duration) (*RedisStore, error) {
	opts, err := redis.ParseURL(rawURL)
	if err != nil {
		return nil, fmt.Errorf("session: parse redis url: %w", err)
	}
	return NewRedisStore(redis.NewClient(opts), "", ttl), nil
}

func (r *RedisStore) For(sessionID string) Persistence {
	return &redisSlot{store: r, key: r.prefix + sessionID}
}

func (r *RedisStore) Ping(ctx context.Context) error {
	if err := r.rdb.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("session: redis ping: %w", err)
	}
	return nil
}

// Close releases the redis connection pool.
func (r *RedisStore) Close() error {
	return r.rdb.Close()
}

type redisSlot struct {
	store *RedisStore
	key   string
}

func (s *redisSlot) Load(ctx context.Context) (*Persisted, error) {
	var raw []byte
	var err error
	if s.store.ttl > 0 {
		raw, err = s.store.rdb.GetEx(ctx, s.key, s.store.ttl).Bytes()
	} else {
		raw, err = s.store.rdb.Get(ctx, s.key).Bytes()
	}
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("session: redis get: %w", err)
	}
	return decode(raw)
}

func (s *redisSlot) Save(ctx context.Context, p *Persisted) error {
	raw, err := encode(p)
	if err != nil {
		return err
	}
	if err := s.store.rdb.Set(ctx, s.key, raw, s.store.ttl).Err(); err != nil {
		return fmt.Errorf("session: redis set: %w", err)
	}
	return nil
}

func (s *redisSlot) Clear(ctx context.Context) error {
	if err := s.store.rdb.Del(ctx, s.key).Err(); err != nil {
		return fmt.Errorf("session: redis del: %w", err)
	}
	return nil
}
