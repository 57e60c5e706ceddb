package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_FromEnv(t *testing.T) {
	t.Setenv("CONFIG_PATH", "")
	t.Setenv("ENVIRONMENT", "staging")
	t.Setenv("DATABASE_URL", "postgres://user:pass@db:5432/qotd")
	t.Setenv("REDIS_URL", "redis://cache:6379/0")
	t.Setenv("API_PORT", "9000")
	t.Setenv("ACCESS_TOKEN_EXPIRE_MINUTES", "45")
	t.Setenv("ALLOWED_ORIGINS", "https://a.example.com, https://b.example.com")
	t.Setenv("STRIPE_PRICE_ID_PREMIUM", "price_123")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "staging", cfg.Env)
	assert.Equal(t, "postgres://user:pass@db:5432/qotd", cfg.DatabaseURL)
	assert.Equal(t, "redis://cache:6379/0", cfg.RedisURL)
	assert.Equal(t, "0.0.0.0:9000", cfg.Address())
	assert.Equal(t, 45*time.Minute, cfg.TokenTTL())
	assert.Equal(t, []string{"https://a.example.com", "https://b.example.com"}, cfg.AllowedOrigins)
	assert.Equal(t, []string{"*"}, cfg.AllowedHosts)
	assert.Equal(t, "price_123", cfg.StripePremiumPriceID)
	assert.Equal(t, 24*time.Hour, cfg.VerificationTokenTTL)
	assert.Equal(t, time.Hour, cfg.ResetTokenTTL)
	assert.True(t, cfg.EnableSwaggerUI)
}

func TestLoad_FromYAML(t *testing.T) {
	configContent := `
env: local
database:
  url: "postgres://localhost:5432/test"
http_server:
  host: "127.0.0.1"
  port: 8080
  timeout: 30s
  idle_timeout: 60s
security:
  secret_key: "test_secret_key"
  access_token_expire_minutes: 15
stripe:
  premium_price_id: "price_yaml"
`
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(configContent), 0o600))
	t.Setenv("CONFIG_PATH", path)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, EnvLocal, cfg.Env)
	assert.True(t, cfg.IsDevelopment())
	assert.Equal(t, "postgres://localhost:5432/test", cfg.DatabaseURL)
	assert.Equal(t, "127.0.0.1:8080", cfg.Address())
	assert.Equal(t, 30*time.Second, cfg.TimeoutHTTP)
	assert.Equal(t, 60*time.Second, cfg.IdleTimeout)
	assert.Equal(t, "test_secret_key", cfg.SecretKey)
	assert.Equal(t, 15*time.Minute, cfg.TokenTTL())
	assert.Equal(t, "price_yaml", cfg.StripePremiumPriceID)
}

func TestLoad_MissingFile(t *testing.T) {
	t.Setenv("CONFIG_PATH", filepath.Join(t.TempDir(), "missing.yaml"))

	cfg, err := Load()
	assert.Error(t, err)
	assert.Nil(t, cfg)
}

func TestConfig_Validate(t *testing.T) {
	base := func() Config {
		return Config{
			Env: EnvProduction,
			Security: Security{
				SecretKey:                "0123456789abcdef0123456789abcdef",
				Algorithm:                "HS256",
				AccessTokenExpireMinutes: 30,
			},
			Stripe: Stripe{
				StripeSecretKey:     "sk_live_x",
				StripeWebhookSecret: "whsec_x",
			},
		}
	}

	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr bool
	}{
		{name: "valid production", mutate: func(_ *Config) {}},
		{name: "default secret in production", mutate: func(c *Config) { c.SecretKey = DefaultSecretKey }, wantErr: true},
		{name: "missing stripe keys in production", mutate: func(c *Config) { c.StripeSecretKey = "" }, wantErr: true},
		{name: "default secret outside production", mutate: func(c *Config) {
			c.Env = EnvDevelopment
			c.SecretKey = DefaultSecretKey
		}},
		{name: "non-positive token ttl", mutate: func(c *Config) { c.AccessTokenExpireMinutes = 0 }, wantErr: true},
		{name: "unsupported algorithm", mutate: func(c *Config) { c.Algorithm = "RS256" }, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestNormalizeList(t *testing.T) {
	tests := []struct {
		name  string
		input []string
		want  []string
	}{
		{name: "comma separated", input: []string{"a", " b "}, want: []string{"a", "b"}},
		{name: "json list split by separator", input: []string{`["https://x.com"`, `"https://y.com"]`}, want: []string{"https://x.com", "https://y.com"}},
		{name: "empty entries dropped", input: []string{"", " "}, want: []string{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, normalizeList(tt.input))
		})
	}
}

func TestConfig_StringMasksSecrets(t *testing.T) {
	cfg := Config{Security: Security{SecretKey: "super-secret-value", AccessTokenExpireMinutes: 30}}
	out := cfg.String()
	assert.NotContains(t, out, "super-secret-value")
	assert.Contains(t, out, "supe****")
}
