package server

import (
	"context"
	"net/http"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"

	"github.com/londonzade-stack/agent-seller-sub000/internal/mailbox"
	"github.com/londonzade-stack/agent-seller-sub000/internal/mailbox/mailboxtest"
	"github.com/londonzade-stack/agent-seller-sub000/internal/tools"
	"github.com/londonzade-stack/agent-seller-sub000/internal/vault"
)

type testEnv struct {
	sc     *ServerContext
	vault  *vault.Vault
	fake   *mailboxtest.Provider
	builds atomic.Int32
	connID string
}

func newTestEnv(t *testing.T, mutate func(*Config)) *testEnv {
	t.Helper()
	ctx := context.Background()
	env := &testEnv{
		vault: vault.New(vault.NewMemoryStore(), vault.Config{}),
		fake: mailboxtest.New(
			mailbox.MessageRecord{ID: "m1", ThreadID: "t1", Headers: mailbox.Headers{From: "news@shop.example", Subject: "Weekly sale"}},
			mailbox.MessageRecord{ID: "m2", ThreadID: "t2", Headers: mailbox.Headers{From: "ana@example.com", Subject: "Lunch"}},
		),
	}
	conn, err := env.vault.Connect(ctx, "owner@example.com", vault.ProviderGoogle, &oauth2.Token{
		AccessToken:  "access",
		RefreshToken: "refresh",
		Expiry:       time.Now().Add(time.Hour),
	})
	require.NoError(t, err)
	env.connID = conn.ID

	cfg := Config{
		Vault: env.vault,
		NewProvider: func(context.Context, *http.Client) (mailbox.Provider, error) {
			env.builds.Add(1)
			return env.fake, nil
		},
	}
	if mutate != nil {
		mutate(&cfg)
	}
	env.sc, err = NewServerContext(ctx, cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = env.sc.Shutdown() })
	return env
}

func TestNewServerContext_RequiresVault(t *testing.T) {
	_, err := NewServerContext(context.Background(), Config{})
	require.Error(t, err)
}

func TestSession_BuiltOnceAndCached(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()

	s1, err := env.sc.Session(ctx, env.connID)
	require.NoError(t, err)
	s2, err := env.sc.Session(ctx, env.connID)
	require.NoError(t, err)

	assert.Same(t, s1, s2)
	assert.Equal(t, int32(1), env.builds.Load())
	assert.Equal(t, "owner@example.com", s1.OwnerID)
	assert.Equal(t, env.connID, s1.ConnectionID)
	assert.Equal(t, tools.PlanFree, s1.Plan)
	assert.Equal(t, 1, env.sc.ActiveSessions())
}

func TestSession_ConcurrentFirstUseBuildsOnce(t *testing.T) {
	env := newTestEnv(t, nil)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := env.sc.Session(context.Background(), env.connID)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), env.builds.Load())
	assert.Equal(t, 1, env.sc.ActiveSessions())
}

func TestSession_UnknownConnection(t *testing.T) {
	env := newTestEnv(t, nil)

	_, err := env.sc.Session(context.Background(), "missing")
	require.Error(t, err)
	assert.ErrorIs(t, err, mailbox.ErrNoConnection)

	_, err = env.sc.Session(context.Background(), "")
	assert.ErrorIs(t, err, mailbox.ErrNoConnection)
	assert.Zero(t, env.builds.Load())
}

func TestSession_DropRebuilds(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()

	s1, err := env.sc.Session(ctx, env.connID)
	require.NoError(t, err)
	env.sc.Drop(env.connID)
	assert.Zero(t, env.sc.ActiveSessions())

	s2, err := env.sc.Session(ctx, env.connID)
	require.NoError(t, err)
	assert.NotSame(t, s1, s2)
	assert.Equal(t, int32(2), env.builds.Load())
}

func TestExpire_EvictsIdleSessions(t *testing.T) {
	env := newTestEnv(t, func(c *Config) { c.SessionTimeout = time.Minute })
	_, err := env.sc.Session(context.Background(), env.connID)
	require.NoError(t, err)

	assert.Zero(t, env.sc.expire(time.Now()))
	assert.Equal(t, 1, env.sc.expire(time.Now().Add(2*time.Minute)))
	assert.Zero(t, env.sc.ActiveSessions())
}

func TestShutdown(t *testing.T) {
	env := newTestEnv(t, nil)
	_, err := env.sc.Session(context.Background(), env.connID)
	require.NoError(t, err)

	require.NoError(t, env.sc.Shutdown())
	require.NoError(t, env.sc.Shutdown())

	assert.True(t, env.sc.IsShutdown())
	assert.Zero(t, env.sc.ActiveSessions())
	assert.Error(t, env.sc.Context().Err())

	_, err = env.sc.Session(context.Background(), env.connID)
	assert.ErrorIs(t, err, ErrShutdown)
}

func TestSession_PlanAndCollaboratorsFlowThrough(t *testing.T) {
	env := newTestEnv(t, func(c *Config) { c.Plan = tools.PlanPro })
	s, err := env.sc.Session(context.Background(), env.connID)
	require.NoError(t, err)

	assert.Equal(t, tools.PlanPro, s.Plan)
	// No researcher configured: the gate passes and the tool reports it.
	res, err := s.Registry.Invoke(context.Background(), s.Session, "web_research", []byte(`{"query":"x"}`))
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Contains(t, res.Error, "not configured")
}
