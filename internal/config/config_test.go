package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("CONFIG_FILE", "")
	t.Setenv("APP_ENV", "")
	t.Setenv("RATE_LIMIT_REVIEW_WRITES", "")
	t.Chdir(t.TempDir())

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "development", cfg.Server.Env)
	assert.Equal(t, 25, cfg.Database.MaxConns)
	assert.Equal(t, 5*time.Minute, cfg.Redis.CacheTTL)
	assert.Equal(t, 20, cfg.RateLimit.ReviewWrites)
	assert.False(t, cfg.IsProduction())
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)

	path := filepath.Join(dir, "config.yaml")
	yaml := `
server:
  port: 9000
  shutdown_timeout: 3s
redis:
  enabled: false
logging:
  level: debug
cors:
  allowed_origins: ["https://a.example", "https://b.example"]
rate_limit:
  review_writes: 5
  window: 30s
`
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o600))

	t.Setenv("CONFIG_FILE", path)
	t.Setenv("API_PORT", "9100")
	t.Setenv("LOG_LEVEL", "")
	t.Setenv("RATE_LIMIT_REVIEW_WRITES", "")
	t.Setenv("RATE_LIMIT_WINDOW", "")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 9100, cfg.Server.Port, "env wins over file")
	assert.Equal(t, 3*time.Second, cfg.Server.ShutdownTimeout)
	assert.False(t, cfg.Redis.Enabled)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.CORS.AllowedOrigins)
	assert.Equal(t, RateLimitConfig{ReviewWrites: 5, Window: 30 * time.Second}, cfg.RateLimit)
}

func TestLoad_DotEnv(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	t.Setenv("CONFIG_FILE", "")
	if _, set := os.LookupEnv("METRICS_PORT"); set {
		t.Skip("METRICS_PORT set in environment")
	}
	// godotenv writes the process env; leave it clean for other tests
	t.Cleanup(func() { os.Unsetenv("METRICS_PORT") })
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte("METRICS_PORT=9999\n"), 0o600))

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 9999, cfg.Monitoring.Port)
}

func TestLoad_MissingConfigFile(t *testing.T) {
	t.Setenv("CONFIG_FILE", filepath.Join(t.TempDir(), "missing.yaml"))
	_, err := Load()
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())

	cfg.Server.Env = "production"
	assert.ErrorContains(t, cfg.Validate(), "JWT_SECRET")

	cfg.JWT.Secret = "s3cret"
	assert.NoError(t, cfg.Validate())

	cfg.Server.Env = "staging"
	assert.Error(t, cfg.Validate())

	cfg = Default()
	cfg.Database.MinConns = 50
	assert.Error(t, cfg.Validate())

	cfg = Default()
	cfg.RateLimit.Window = 0
	assert.ErrorContains(t, cfg.Validate(), "RATE_LIMIT_WINDOW")

	cfg.RateLimit.ReviewWrites = 0
	assert.NoError(t, cfg.Validate(), "a disabled limiter needs no window")
}

func TestGetEnvList(t *testing.T) {
	t.Setenv("CORS_TEST", " https://x.example , ,https://y.example")
	assert.Equal(t, []string{"https://x.example", "https://y.example"}, getEnvList("CORS_TEST", nil))
	assert.Equal(t, []string{"d"}, getEnvList("CORS_UNSET_FOR_TEST", []string{"d"}))
}
