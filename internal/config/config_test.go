package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/inboxpilot/provisioner/internal/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setRequiredEnv(t *testing.T) {
	t.Helper()

	for _, env := range envMappings {
		t.Setenv(env, "")
	}

	t.Setenv("GOOGLE_CLIENT_ID", "cid")
	t.Setenv("GOOGLE_CLIENT_SECRET", "csecret")
	t.Setenv("N8N_BASE_URL", "http://n8n:5678")
	t.Setenv("N8N_API_KEY", "n8n-key")
	t.Setenv("AUTH_JWT_SECRET", "jwt-secret")
	t.Setenv("STORE_BACKEND", "memory")
}

func emptyConfigFile(t *testing.T) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "provisioner.yaml")
	require.NoError(t, os.WriteFile(path, []byte("{}\n"), 0o600))
	return path
}

func TestLoad_DefaultsAndEnvironment(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("CALL_TIMEOUT", "5s")
	t.Setenv("OPENAI_API_KEY", "sk")
	t.Setenv("GOOGLE_VERIFY_MAILBOX", "true")

	cfg, err := Load(LoadOptions{ConfigFile: emptyConfigFile(t)})
	require.NoError(t, err)

	assert.Equal(t, ":8000", cfg.HTTPAddress)
	assert.Equal(t, "http://localhost:3000/dashboard", cfg.FrontendURL())
	assert.Equal(t, "http://localhost:8000/oauth/google/callback", cfg.GoogleRedirectURI)
	assert.Equal(t, 20*time.Second, cfg.N8NTimeout)
	assert.Equal(t, 5*time.Second, cfg.CallTimeout)
	assert.Equal(t, time.Duration(0), cfg.OAuthStateTTL)
	assert.Equal(t, StoreBackendMemory, cfg.StoreBackend)
	assert.True(t, cfg.GoogleVerifyMailbox)
	assert.Equal(t, map[domain.Capability]string{domain.CapabilityOpenAI: "sk"}, cfg.ProviderAPIKeys())
}

func TestLoad_ConfigFile(t *testing.T) {
	setRequiredEnv(t)

	path := filepath.Join(t.TempDir(), "provisioner.yaml")
	require.NoError(t, os.WriteFile(path, []byte("FrontendOrigin: https://app.example.com/\nFrontendRedirectPath: settings\n"), 0o600))

	cfg, err := Load(LoadOptions{ConfigFile: path})
	require.NoError(t, err)

	assert.Equal(t, "https://app.example.com/settings", cfg.FrontendURL())
}

func TestValidate(t *testing.T) {
	valid := func() Config {
		return Config{
			GoogleClientID:     "cid",
			GoogleClientSecret: "cs",
			N8NBaseURL:         "http://n8n",
			N8NAPIKey:          "key",
			AuthJWKSURL:        "https://auth.example.com/.well-known/jwks.json",
			StoreBackend:       StoreBackendPostgres,
			DatabaseURL:        "postgres://localhost/provisioner",
		}
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"valid", func(c *Config) {}, ""},
		{"missing google", func(c *Config) { c.GoogleClientID = ""; c.GoogleClientSecret = "" }, "GOOGLE_CLIENT_ID, GOOGLE_CLIENT_SECRET"},
		{"missing identity", func(c *Config) { c.AuthJWKSURL = "" }, "AUTH_JWKS_URL or AUTH_JWT_SECRET"},
		{"postgres without url", func(c *Config) { c.DatabaseURL = "" }, "DATABASE_URL"},
		{"mongo without uri", func(c *Config) { c.StoreBackend = StoreBackendMongo }, "MONGO_URI"},
		{"unknown backend", func(c *Config) { c.StoreBackend = "sqlite" }, "STORE_BACKEND"},
		{"negative ttl", func(c *Config) { c.OAuthStateTTL = -time.Second }, "OAUTH_STATE_TTL"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(&cfg)

			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestLoad_IgnoresAmbientProviderKeys(t *testing.T) {
	t.Setenv("ANTHROPIC_API_KEY", "ambient-anthropic")
	t.Setenv("GEMINI_API_KEY", "ambient-gemini")
	setRequiredEnv(t)

	cfg, err := Load(LoadOptions{ConfigFile: emptyConfigFile(t)})
	require.NoError(t, err)

	assert.Empty(t, cfg.ProviderAPIKeys())
}
