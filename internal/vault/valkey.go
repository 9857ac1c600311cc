package vault

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/valkey-io/valkey-go"
)

// DefaultKeyPrefix namespaces connection keys in a shared Valkey instance.
const DefaultKeyPrefix = "mailagent:"

// ValkeyConfig configures a ValkeyStore.
type ValkeyConfig struct {
	// URL is a redis:// or valkey:// URL. Password and DB override it when set.
	URL       string
	Password  string
	DB        int
	KeyPrefix string
}

// ValkeyStore stores each connection as one JSON value, so Put is a single
// SET and therefore atomic.
type ValkeyStore struct {
	client valkey.Client
	prefix string
}

// NewValkeyStore connects to Valkey.
func NewValkeyStore(cfg ValkeyConfig) (*ValkeyStore, error) {
	opt, err := valkey.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("invalid valkey url: %w", err)
	}
	if cfg.Password != "" {
		opt.Password = cfg.Password
	}
	if cfg.DB != 0 {
		opt.SelectDB = cfg.DB
	}
	client, err := valkey.NewClient(opt)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to valkey: %w", err)
	}
	prefix := cfg.KeyPrefix
	if prefix == "" {
		prefix = DefaultKeyPrefix
	}
	return &ValkeyStore{client: client, prefix: prefix}, nil
}

func (s *ValkeyStore) key(id string) string {
	return s.prefix + "connection:" + id
}

// Ping checks the connection to Valkey.
func (s *ValkeyStore) Ping(ctx context.Context) error {
	return s.client.Do(ctx, s.client.B().Ping().Build()).Error()
}

func (s *ValkeyStore) Get(ctx context.Context, id string) (*Connection, error) {
	raw, err := s.client.Do(ctx, s.client.B().Get().Key(s.key(id)).Build()).AsBytes()
	if valkey.IsValkeyNil(err) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load connection %s: %w", id, err)
	}
	var conn Connection
	if err := json.Unmarshal(raw, &conn); err != nil {
		return nil, fmt.Errorf("failed to decode connection %s: %w", id, err)
	}
	return &conn, nil
}

func (s *ValkeyStore) Put(ctx context.Context, conn *Connection) error {
	raw, err := json.Marshal(conn)
	if err != nil {
		return fmt.Errorf("failed to encode connection: %w", err)
	}
	cmd := s.client.B().Set().Key(s.key(conn.ID)).Value(valkey.BinaryString(raw)).Build()
	if err := s.client.Do(ctx, cmd).Error(); err != nil {
		return fmt.Errorf("failed to store connection %s: %w", conn.ID, err)
	}
	return nil
}

func (s *ValkeyStore) Delete(ctx context.Context, id string) error {
	if err := s.client.Do(ctx, s.client.B().Del().Key(s.key(id)).Build()).Error(); err != nil {
		return fmt.Errorf("failed to delete connection %s: %w", id, err)
	}
	return nil
}

func (s *ValkeyStore) Close() error {
	s.client.Close()
	return nil
}
