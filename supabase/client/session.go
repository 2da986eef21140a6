package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
)

// SessionStore persists the signed-in session between process runs.
// Load returns nil, nil when no session is stored.
type SessionStore interface {
	Load(ctx context.Context) (*Session, error)
	Save(ctx context.Context, sess *Session) error
	Clear(ctx context.Context) error
}

// MemorySessionStore keeps the session in process memory.
type MemorySessionStore struct {
	mu   sync.RWMutex
	sess *Session
}

// NewMemorySessionStore creates an empty in-memory store.
func NewMemorySessionStore() *MemorySessionStore {
	return &MemorySessionStore{}
}

func (m *MemorySessionStore) Load(context.Context) (*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.sess == nil {
		return nil, nil
	}
	cp := *m.sess
	return &cp, nil
}

func (m *MemorySessionStore) Save(_ context.Context, sess *Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *sess
	m.sess = &cp
	return nil
}

func (m *MemorySessionStore) Clear(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sess = nil
	return nil
}

// FileSessionStore keeps the session as a JSON file readable only by the owner.
type FileSessionStore struct {
	path string
	mu   sync.Mutex
}

// NewFileSessionStore creates a store writing to path.
func NewFileSessionStore(path string) *FileSessionStore {
	return &FileSessionStore{path: filepath.Clean(path)}
}

func (f *FileSessionStore) Load(context.Context) (*Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	data, err := os.ReadFile(f.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read session file: %w", err)
	}
	var sess Session
	if err := json.Unmarshal(data, &sess); err != nil {
		return nil, fmt.Errorf("decode session file: %w", err)
	}
	return &sess, nil
}

func (f *FileSessionStore) Save(_ context.Context, sess *Session) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	data, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("encode session: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(f.path), 0o700); err != nil {
		return fmt.Errorf("create session dir: %w", err)
	}
	tmp := f.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("write session file: %w", err)
	}
	return os.Rename(tmp, f.path)
}

func (f *FileSessionStore) Clear(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := os.Remove(f.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove session file: %w", err)
	}
	return nil
}

// RedisSessionStore keeps the session under a single redis key so several
// server instances share one sign-in.
type RedisSessionStore struct {
	rdb *redis.Client
	key string
	ttl time.Duration
}

// NewRedisSessionStore creates a store on rdb. A zero ttl keeps the key forever.
func NewRedisSessionStore(rdb *redis.Client, key string, ttl time.Duration) *RedisSessionStore {
	if key == "" {
		key = "prodesk:supabase:session"
	}
	return &RedisSessionStore{rdb: rdb, key: key, ttl: ttl}
}

func (r *RedisSessionStore) Load(ctx context.Context) (*Session, error) {
	data, err := r.rdb.Get(ctx, r.key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("redis get session: %w", err)
	}
	var sess Session
	if err := json.Unmarshal(data, &sess); err != nil {
		return nil, fmt.Errorf("decode session: %w", err)
	}
	return &sess, nil
}

func (r *RedisSessionStore) Save(ctx context.Context, sess *Session) error {
	data, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("encode session: %w", err)
	}
	if err := r.rdb.Set(ctx, r.key, data, r.ttl).Err(); err != nil {
		return fmt.Errorf("redis set session: %w", err)
	}
	return nil
}

func (r *RedisSessionStore) Clear(ctx context.Context) error {
	if err := r.rdb.Del(ctx, r.key).Err(); err != nil {
		return fmt.Errorf("redis del session: %w", err)
	}
	return nil
}
