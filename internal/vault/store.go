package vault

import (
	"context"
	"errors"
	"sync"
)

// ErrNotFound is returned by a Store when no connection has the id.
var ErrNotFound = errors.New("connection not found")

// Store persists connections. Put replaces the whole record; implementations
// must make it atomic so a reader never sees a new access token with an old
// expiry.
type Store interface {
	Get(ctx context.Context, id string) (*Connection, error)
	Put(ctx context.Context, conn *Connection) error
	Delete(ctx context.Context, id string) error
	Close() error
}

// Pinger is implemented by stores that can report their health.
type Pinger interface {
	Ping(ctx context.Context) error
}

// MemoryStore keeps connections in process memory.
type MemoryStore struct {
	mu    sync.RWMutex
	conns map[string]Connection
	puts  int
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{conns: make(map[string]Connection)}
}

func (s *MemoryStore) Get(_ context.Context, id string) (*Connection, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	conn, ok := s.conns[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &conn, nil
}

func (s *MemoryStore) Put(_ context.Context, conn *Connection) error {
	if conn == nil || conn.ID == "" {
		return errors.New("connection id cannot be empty")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.conns[conn.ID] = *conn
	s.puts++
	return nil
}

func (s *MemoryStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.conns, id)
	return nil
}

// Puts returns how many times Put has succeeded.
func (s *MemoryStore) Puts() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.puts
}

func (s *MemoryStore) Close() error { return nil }
