package config

import (
	"context"
	"io"
	"log/slog"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/switchboardhq/switchboard/internal/core/domain"
)

type memSettings struct {
	values map[string]string
}

func (m *memSettings) GetSetting(ctx context.Context, key string) (string, error) {
	v, ok := m.values[key]
	if !ok {
		return "", domain.ErrSettingNotFound
	}
	return v, nil
}

func (m *memSettings) SaveSetting(ctx context.Context, key, value string) error {
	m.values[key] = value
	return nil
}

func newTestStore(t *testing.T) (*SettingsStore, *memSettings) {
	t.Helper()
	t.Setenv("SWITCHBOARD_SECRET_KEY", "test-secret")
	secret, err := NewSecretKey()
	require.NoError(t, err)

	repo := &memSettings{values: map[string]string{}}
	store, err := NewSettingsStore(slog.New(slog.NewTextHandler(io.Discard, nil)), repo, secret)
	require.NoError(t, err)
	return store, repo
}

func TestSettingsStore_DefaultsOnFirstRun(t *testing.T) {
	store, repo := newTestStore(t)

	cfg := store.GetConfig()
	assert.Equal(t, "local", cfg.Providers.LLM.Mode)
	assert.NotEmpty(t, cfg.Providers.LLM.DefaultModel)

	// Defaults were persisted
	_, ok := repo.values["app_config"]
	assert.True(t, ok)
}

func TestSettingsStore_UpdateAndReload(t *testing.T) {
	store, repo := newTestStore(t)
	ctx := context.Background()

	update := store.GetConfig()
	update.Providers.LLM.Mode = "remote"
	update.Providers.LLM.RemoteURL = "https://api.openai.com/v1"
	update.Providers.LLM.APIKey = "sk-secret-value"
	require.NoError(t, store.UpdateConfig(ctx, update))

	// Secret is encrypted at rest, never stored in the clear.
	raw := repo.values["app_config"]
	assert.NotContains(t, raw, "sk-secret-value")
	assert.Contains(t, raw, "enc:")

	// A fresh store over the same repo decrypts it back.
	t.Setenv("SWITCHBOARD_SECRET_KEY", "test-secret")
	secret, err := NewSecretKey()
	require.NoError(t, err)
	reloaded, err := NewSettingsStore(slog.New(slog.NewTextHandler(io.Discard, nil)), repo, secret)
	require.NoError(t, err)
	assert.Equal(t, "sk-secret-value", reloaded.GetConfig().Providers.LLM.APIKey)
}

func TestSettingsStore_MaskedConfig(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	update := store.GetConfig()
	update.Providers.LLM.Mode = "remote"
	update.Providers.LLM.RemoteURL = "https://api.example.com/v1"
	update.Providers.LLM.APIKey = "sk-abcdef1234"
	require.NoError(t, store.UpdateConfig(ctx, update))

	masked := store.GetMaskedConfig()
	assert.True(t, strings.HasPrefix(masked.Providers.LLM.APIKey, "****"))
	assert.NotEqual(t, "sk-abcdef1234", masked.Providers.LLM.APIKey)
	// Unmasked access still works
	assert.Equal(t, "sk-abcdef1234", store.GetConfig().Providers.LLM.APIKey)
}

func TestSettingsStore_MaskedUpdateKeepsSecret(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	first := store.GetConfig()
	first.Providers.LLM.Mode = "remote"
	first.Providers.LLM.RemoteURL = "https://api.example.com/v1"
	first.Providers.LLM.APIKey = "sk-original"
	require.NoError(t, store.UpdateConfig(ctx, first))

	// A client round-trips the masked config; the stored key must survive.
	second := store.GetMaskedConfig()
	second.Providers.LLM.RemoteURL = "https://other.example.com/v1"
	require.NoError(t, store.UpdateConfig(ctx, second))

	assert.Equal(t, "sk-original", store.GetConfig().Providers.LLM.APIKey)
	assert.Equal(t, "https://other.example.com/v1", store.GetConfig().Providers.LLM.RemoteURL)
}

func TestSettingsStore_RemoteModeValidation(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	update := store.GetConfig()
	update.Providers.LLM.Mode = "remote"
	update.Providers.LLM.RemoteURL = ""
	err := store.UpdateConfig(ctx, update)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "remote_url")
}

func TestSettingsStore_OnChangeFires(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	var gotMode string
	store.OnChange(func(cfg *domain.AppConfig) { gotMode = cfg.Providers.LLM.Mode })

	update := store.GetConfig()
	update.Providers.LLM.Mode = "local"
	require.NoError(t, store.UpdateConfig(ctx, update))
	assert.Equal(t, "local", gotMode)
}
