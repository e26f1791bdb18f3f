package main

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Sternrassler/studio-engine/internal/config"
	"github.com/Sternrassler/studio-engine/pkg/credential"
	"github.com/Sternrassler/studio-engine/pkg/keystore"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	t.Setenv("SESSION_DIR", t.TempDir())
	cfg, err := config.Load()
	require.NoError(t, err)
	return cfg
}

func TestCredentialStore_Memory(t *testing.T) {
	cfg := testConfig(t)
	cfg.APIKey = "system-secret-5678"

	store, cleanup, err := credentialStore(context.Background(), cfg, zerolog.Nop())
	require.NoError(t, err)
	defer cleanup()

	assert.IsType(t, &credential.MemoryStore{}, store)
	creds, err := store.List(context.Background())
	require.NoError(t, err)
	require.Len(t, creds, 1)
	assert.Equal(t, credential.SystemCredentialID, creds[0].ID)
}

func TestCredentialStore_Redis(t *testing.T) {
	mr := miniredis.RunT(t)
	cfg := testConfig(t)
	cfg.RedisURL = "redis://" + mr.Addr() + "/0"

	store, cleanup, err := credentialStore(context.Background(), cfg, zerolog.Nop())
	require.NoError(t, err)
	defer cleanup()

	assert.IsType(t, &keystore.RedisStore{}, store)
	creds, err := store.List(context.Background())
	require.NoError(t, err)
	assert.Empty(t, creds, "no system credential without API_KEY")
}

func TestCredentialStore_RedisUnreachable(t *testing.T) {
	cfg := testConfig(t)
	cfg.RedisURL = "redis://127.0.0.1:1/0"

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, _, err := credentialStore(ctx, cfg, zerolog.Nop())
	assert.Error(t, err)
}

func TestBuild_ServesHealth(t *testing.T) {
	cfg := testConfig(t)

	srv, cleanup, err := build(context.Background(), cfg, zerolog.Nop())
	require.NoError(t, err)
	defer cleanup()
	defer func() { _ = srv.Close(context.Background()) }()

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}
