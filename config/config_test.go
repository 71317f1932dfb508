package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFromEnvDefaults(t *testing.T) {
	cfg := FromEnv()
	assert.Equal(t, "8000", cfg.HTTPPort)
	assert.Equal(t, "densenet121-res224-all", cfg.ModelName)
	assert.Equal(t, 2, cfg.WorkerCount)
	assert.Equal(t, 8, cfg.MaxBatchSize)
	assert.Equal(t, 30*time.Millisecond, cfg.BatchWindow)
	assert.Equal(t, 5*time.Second, cfg.BRPopTimeout)
	assert.Equal(t, int64(3), cfg.MaxRetries)
	assert.Equal(t, 600*time.Second, cfg.StuckInProgress)
	assert.Equal(t, 300*time.Second, cfg.StuckQueued)
}

func TestFromEnvOverrides(t *testing.T) {
	t.Setenv("WORKER_COUNT", "7")
	t.Setenv("BATCH_WINDOW_MS", "125")
	t.Setenv("REDIS_ADDR", "redis.internal:6380")
	t.Setenv("MAX_RETRIES", "bogus")

	cfg := FromEnv()
	assert.Equal(t, 7, cfg.WorkerCount)
	assert.Equal(t, 125*time.Millisecond, cfg.BatchWindow)
	assert.Equal(t, "redis.internal:6380", cfg.RedisAddr)
	// Unparseable numbers fall back to the default.
	assert.Equal(t, int64(3), cfg.MaxRetries)
}

func TestEnvSource(t *testing.T) {
	t.Setenv("HTTP_PORT", "9100")

	var cfg AppConfig
	require.NoError(t, Load(&Env{}, &cfg))
	assert.Equal(t, "9100", cfg.HTTPPort)

	v, err := (&Env{}).Get("HTTP_PORT")
	require.NoError(t, err)
	assert.Equal(t, "9100", v)

	_, err = (&Env{}).Get("CXRSCAN_NO_SUCH_KEY")
	var notFound *KeyNotFoundError
	assert.ErrorAs(t, err, &notFound)
}

func TestFileSource(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"http_port": "8100", "worker_count": 4}`), 0o644))

	f := &File{ConfigFilePath: path}
	var cfg AppConfig
	require.NoError(t, Load(f, &cfg))
	assert.Equal(t, "8100", cfg.HTTPPort)
	assert.Equal(t, 4, cfg.WorkerCount)

	t.Run("get string key", func(t *testing.T) {
		v, err := f.Get("http_port")
		require.NoError(t, err)
		assert.Equal(t, "8100", v)
	})

	t.Run("get non-string key", func(t *testing.T) {
		v, err := f.Get("worker_count")
		var notString *ValueNotStringError
		assert.ErrorAs(t, err, &notString)
		assert.Equal(t, "4", v)
	})

	t.Run("missing path fails the check", func(t *testing.T) {
		assert.Error(t, Load(&File{}, &cfg))
	})
}
