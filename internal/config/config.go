package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/inboxpilot/provisioner/internal/domain"

	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
)

type StoreBackend string

const (
	StoreBackendPostgres StoreBackend = "postgres"
	StoreBackendMongo    StoreBackend = "mongo"
	StoreBackendMemory   StoreBackend = "memory"
)

// Config is built once at startup and passed explicitly to every component.
type Config struct {
	HTTPAddress          string
	FrontendOrigin       string
	FrontendRedirectPath string

	GoogleClientID      string
	GoogleClientSecret  string
	GoogleRedirectURI   string
	GoogleAuthURL       string
	GoogleTokenURL      string
	GoogleVerifyMailbox bool

	N8NBaseURL string
	N8NAPIKey  string
	N8NTimeout time.Duration

	OpenAIAPIKey    string
	GeminiAPIKey    string
	AnthropicAPIKey string

	StoreBackend   StoreBackend
	DatabaseURL    string
	MongoURI       string
	MongoDatabase  string
	RedisURL       string
	OAuthStateTTL  time.Duration
	TokenSealerKey string

	TemplatesManifest string

	AuthJWKSURL   string
	AuthJWTSecret string
	AuthIssuer    string
	AuthAudience  string

	CallTimeout        time.Duration
	VerifyProviderKeys bool
}

type LoadOptions struct {
	// ConfigFile overrides the config file search.
	ConfigFile string
	// SkipValidation loads the configuration without checking required keys.
	SkipValidation bool
}

var envMappings = map[string]string{
	"HTTPAddress":          "HTTP_ADDRESS",
	"FrontendOrigin":       "FRONTEND_ORIGIN",
	"FrontendRedirectPath": "FRONTEND_REDIRECT_PATH",
	"GoogleClientID":       "GOOGLE_CLIENT_ID",
	"GoogleClientSecret":   "GOOGLE_CLIENT_SECRET",
	"GoogleRedirectURI":    "GOOGLE_REDIRECT_URI",
	"GoogleAuthURL":        "GOOGLE_AUTH_URL",
	"GoogleTokenURL":       "GOOGLE_TOKEN_URL",
	"GoogleVerifyMailbox":  "GOOGLE_VERIFY_MAILBOX",
	"N8NBaseURL":           "N8N_BASE_URL",
	"N8NAPIKey":            "N8N_API_KEY",
	"N8NTimeout":           "N8N_TIMEOUT",
	"OpenAIAPIKey":         "OPENAI_API_KEY",
	"GeminiAPIKey":         "GEMINI_API_KEY",
	"AnthropicAPIKey":      "ANTHROPIC_API_KEY",
	"StoreBackend":         "STORE_BACKEND",
	"DatabaseURL":          "DATABASE_URL",
	"MongoURI":             "MONGO_URI",
	"MongoDatabase":        "MONGO_DATABASE",
	"RedisURL":             "REDIS_URL",
	"OAuthStateTTL":        "OAUTH_STATE_TTL",
	"TokenSealerKey":       "TOKEN_ENCRYPTION_KEY",
	"TemplatesManifest":    "TEMPLATES_MANIFEST",
	"AuthJWKSURL":          "AUTH_JWKS_URL",
	"AuthJWTSecret":        "AUTH_JWT_SECRET",
	"AuthIssuer":           "AUTH_ISSUER",
	"AuthAudience":         "AUTH_AUDIENCE",
	"CallTimeout":          "CALL_TIMEOUT",
	"VerifyProviderKeys":   "VERIFY_PROVIDER_KEYS",
}

// Load reads defaults, an optional provisioner.yaml and the environment, in
// increasing order of precedence.
func Load(opts LoadOptions) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	for configKey, envVar := range envMappings {
		if err := v.BindEnv(configKey, envVar); err != nil {
			log.Warn().Err(err).Msgf("Failed to bind environment variable %s for %s", envVar, configKey)
		}
	}

	if opts.ConfigFile != "" {
		v.SetConfigFile(opts.ConfigFile)
	} else {
		v.SetConfigName("provisioner")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
		v.AddConfigPath("$HOME/.provisioner")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		log.Debug().Msg("Config file not found, using environment variables and defaults")
	} else {
		log.Info().Msgf("Using config file: %s", v.ConfigFileUsed())
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("unable to decode config into struct: %w", err)
	}

	config.StoreBackend = StoreBackend(strings.ToLower(string(config.StoreBackend)))

	if !opts.SkipValidation {
		if err := config.Validate(); err != nil {
			return nil, err
		}
	}

	log.Debug().
		Str("http_address", config.HTTPAddress).
		Str("store_backend", string(config.StoreBackend)).
		Str("n8n_base_url", config.N8NBaseURL).
		Bool("redis_states", config.RedisURL != "").
		Bool("token_sealing", config.TokenSealerKey != "").
		Msg("Config loaded")

	return &config, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("HTTPAddress", ":8000")
	v.SetDefault("FrontendOrigin", "http://localhost:3000")
	v.SetDefault("FrontendRedirectPath", "/dashboard")
	v.SetDefault("GoogleRedirectURI", "http://localhost:8000/oauth/google/callback")
	v.SetDefault("GoogleVerifyMailbox", false)
	v.SetDefault("N8NTimeout", 20*time.Second)
	v.SetDefault("StoreBackend", string(StoreBackendPostgres))
	v.SetDefault("MongoDatabase", "provisioner")
	v.SetDefault("OAuthStateTTL", time.Duration(0))
	v.SetDefault("CallTimeout", 20*time.Second)
	v.SetDefault("VerifyProviderKeys", false)
}

// Validate reports every missing or inconsistent setting in one error.
func (c *Config) Validate() error {
	var problems []string

	required := []struct {
		value string
		env   string
	}{
		{c.GoogleClientID, "GOOGLE_CLIENT_ID"},
		{c.GoogleClientSecret, "GOOGLE_CLIENT_SECRET"},
		{c.N8NBaseURL, "N8N_BASE_URL"},
		{c.N8NAPIKey, "N8N_API_KEY"},
	}

	var missing []string
	for _, r := range required {
		if r.value == "" {
			missing = append(missing, r.env)
		}
	}

	if c.AuthJWKSURL == "" && c.AuthJWTSecret == "" {
		missing = append(missing, "AUTH_JWKS_URL or AUTH_JWT_SECRET")
	}

	switch c.StoreBackend {
	case StoreBackendPostgres:
		if c.DatabaseURL == "" {
			missing = append(missing, "DATABASE_URL")
		}
	case StoreBackendMongo:
		if c.MongoURI == "" {
			missing = append(missing, "MONGO_URI")
		}
	case StoreBackendMemory:
	default:
		problems = append(problems, fmt.Sprintf("STORE_BACKEND must be one of postgres, mongo, memory (got %q)", c.StoreBackend))
	}

	if len(missing) > 0 {
		problems = append([]string{"missing required environment variables: " + strings.Join(missing, ", ")}, problems...)
	}

	if c.OAuthStateTTL < 0 {
		problems = append(problems, "OAUTH_STATE_TTL cannot be negative")
	}

	if c.OAuthStateTTL > 0 && c.RedisURL == "" {
		log.Warn().Msg("OAUTH_STATE_TTL only applies to the Redis state store and is ignored")
	}

	if len(problems) > 0 {
		return errors.New(strings.Join(problems, "; "))
	}

	return nil
}

// FrontendURL is the absolute URL the OAuth callback redirects to.
func (c *Config) FrontendURL() string {
	path := c.FrontendRedirectPath
	if path != "" && !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	return strings.TrimRight(c.FrontendOrigin, "/") + path
}

func (c *Config) ProviderAPIKeys() map[domain.Capability]string {
	keys := make(map[domain.Capability]string)

	if c.OpenAIAPIKey != "" {
		keys[domain.CapabilityOpenAI] = c.OpenAIAPIKey
	}
	if c.GeminiAPIKey != "" {
		keys[domain.CapabilityGemini] = c.GeminiAPIKey
	}
	if c.AnthropicAPIKey != "" {
		keys[domain.CapabilityAnthropic] = c.AnthropicAPIKey
	}

	return keys
}
