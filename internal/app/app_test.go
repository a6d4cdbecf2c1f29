package app

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sumanurawat/storyboarder/internal/config"
	"github.com/sumanurawat/storyboarder/internal/models"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	return &config.Config{
		Port:           "127.0.0.1:0",
		DataDir:        t.TempDir(),
		LogLevel:       "error",
		StoreBackend:   "file",
		DefaultModel:   "openai/gpt-4o",
		TurnTimeout:    time.Minute,
		SettingsSecret: "app-test-secret",
	}
}

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func TestNewWiresServices(t *testing.T) {
	cfg := testConfig(t)
	a, err := NewWithLogger(context.Background(), cfg, quietLogger())
	require.NoError(t, err)
	defer a.Close()

	active := a.Projects.Active()
	require.NotNil(t, active)
	assert.Equal(t, models.StarterDocumentName, active.Document().Name)
	assert.Equal(t, "openai/gpt-4o", a.Settings.Get().Model)
	assert.False(t, a.LLM.IsReady())

	rec := httptest.NewRecorder()
	a.Router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestNewReopensExistingProject(t *testing.T) {
	cfg := testConfig(t)
	ctx := context.Background()

	first, err := NewWithLogger(ctx, cfg, quietLogger())
	require.NoError(t, err)
	id := first.Projects.Active().ProjectID()
	require.NoError(t, first.Close())

	second, err := NewWithLogger(ctx, cfg, quietLogger())
	require.NoError(t, err)
	defer second.Close()
	assert.Equal(t, id, second.Projects.Active().ProjectID())
}

func TestNewUsesEnvironmentKey(t *testing.T) {
	cfg := testConfig(t)
	cfg.OpenRouterAPIKey = "sk-or-env"
	a, err := NewWithLogger(context.Background(), cfg, quietLogger())
	require.NoError(t, err)
	defer a.Close()

	assert.True(t, a.LLM.HasCredential())
	assert.Equal(t, "sk-or-env", a.Settings.EffectiveAPIKey())
	// 环境变量中的密钥不写入设置
	assert.Empty(t, a.Settings.Get().APIKey)
}

func TestRunStopsOnContextCancel(t *testing.T) {
	a, err := NewWithLogger(context.Background(), testConfig(t), quietLogger())
	require.NoError(t, err)
	defer a.Close()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Run(ctx) }()

	time.Sleep(50 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}
}

func TestNewRejectsUnreachableRedis(t *testing.T) {
	cfg := testConfig(t)
	cfg.StoreBackend = "redis"
	cfg.RedisURL = "redis://127.0.0.1:1/0"

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, err := NewWithLogger(ctx, cfg, quietLogger())
	assert.Error(t, err)
}
