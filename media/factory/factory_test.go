package factory

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/BaSui01/mediaflow/config"
	"github.com/BaSui01/mediaflow/media"
	"github.com/BaSui01/mediaflow/media/providers/seedream"
	"github.com/BaSui01/mediaflow/types"
)

func TestNames(t *testing.T) {
	assert.Equal(t, []string{"fal", "jimeng", "kling", "seedream"}, Names())

	for _, name := range Names() {
		creds, err := CredentialNames(name)
		require.NoError(t, err)
		assert.NotEmpty(t, creds, name)
	}
	_, err := CredentialNames("midjourney")
	assert.Error(t, err)
}

func TestNewRegistry_OnlyEnabledProviders(t *testing.T) {
	cfg := config.DefaultConfig().Media
	cfg.Providers.Jimeng.Enabled = false
	cfg.Providers.Fal.Enabled = false

	reg, err := NewRegistry(cfg, Deps{Logger: zaptest.NewLogger(t), Credentials: media.MapStore{}})
	require.NoError(t, err)
	assert.Equal(t, []string{"kling", "seedream"}, reg.List())
}

func TestNewRegistry_MissingCredentialsFailAtCallTime(t *testing.T) {
	cfg := config.DefaultConfig().Media
	reg, err := NewRegistry(cfg, Deps{Credentials: media.MapStore{}})
	require.NoError(t, err)
	assert.Equal(t, 4, reg.Len())

	_, err = reg.Generate(context.Background(), &media.GenerationRequest{Provider: "fal", Prompt: "a cat"})
	e, ok := types.AsError(err)
	require.True(t, ok)
	assert.Equal(t, types.ErrConfiguration, e.Code)
	assert.Contains(t, e.Message, "FAL_KEY")
}

func TestNewRegistry_ConfigFileCredentialsAreFallback(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer ark-from-env-0001" {
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte(`{"error":{"code":"AuthenticationError","message":"bad key"}}`))
			return
		}
		_, _ = w.Write([]byte(`{"data":[{"url":"https://ark.cdn/1.jpeg"}]}`))
	}))
	defer srv.Close()
	t.Setenv(seedream.CredentialKey, "ark-from-env-0001")

	cfg := config.DefaultConfig().Media
	cfg.Providers.Seedream.BaseURL = srv.URL + "/api/v3"
	cfg.Credentials = map[string]string{seedream.CredentialKey: "ark-from-file-0002"}

	reg, err := NewRegistry(cfg, Deps{})
	require.NoError(t, err)

	sub, err := reg.Generate(context.Background(), &media.GenerationRequest{Provider: "seedream", Prompt: "a cat"})
	require.NoError(t, err)
	assert.Equal(t, media.StatusCompleted, sub.Status)
	require.Len(t, sub.Images, 1)
}

func TestNewProvider_Unknown(t *testing.T) {
	_, err := NewProvider("midjourney", config.ProviderConfig{}, media.Credentials{}, nil, nil, nil)
	assert.Error(t, err)
}

func TestNewPoller(t *testing.T) {
	cfg := config.DefaultConfig().Media
	cfg.Poller.Interval = 10 * time.Millisecond
	assert.NotNil(t, NewPoller(cfg, zaptest.NewLogger(t)))
}

func TestCredentialStore_Override(t *testing.T) {
	store := media.MapStore{"FAL_KEY": "x"}
	got := CredentialStore(config.MediaConfig{}, Deps{Credentials: store})
	v, ok := got.Lookup("FAL_KEY")
	assert.True(t, ok)
	assert.Equal(t, "x", v)
}
