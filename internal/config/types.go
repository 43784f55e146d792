package config

import "time"

// Config is the complete interhook configuration. It is built once by Load
// and treated as read-only afterwards.
type Config struct {
	Service     ServiceConfig     `yaml:"service"`
	Credentials CredentialsConfig `yaml:"credentials"`
	OAuth       OAuthConfig       `yaml:"oauth"`
	Webhook     WebhookConfig     `yaml:"webhook"`
	Breaker     BreakerConfig     `yaml:"breaker"`

	// SourcePath is the YAML file the config was read from, if any.
	SourcePath string `yaml:"-"`
}

// ServiceConfig defines process-level settings.
type ServiceConfig struct {
	Port      string `yaml:"port"`
	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`

	// PIDFile, when set, holds an exclusive lock for the life of serve.
	PIDFile string `yaml:"pid_file,omitempty"`
}

// CredentialsConfig holds the PKCS#12 client identity.
type CredentialsConfig struct {
	// P12Base64 is the base64-encoded PKCS#12 bundle (P12_BASE64).
	P12Base64 Secret `yaml:"p12_base64"`

	// P12Password is the bundle passphrase (P12_PASSWORD).
	P12Password Secret `yaml:"p12_password"`

	// CAFile optionally points at PEM roots trusted in addition to the
	// system pool when validating the token endpoint.
	CAFile string `yaml:"ca_file,omitempty"`
}

// OAuthConfig defines the client-credentials grant against the token endpoint.
type OAuthConfig struct {
	ClientID      string        `yaml:"client_id"`
	ClientSecret  Secret        `yaml:"client_secret"`
	Scope         string        `yaml:"scope"`
	TokenURL      string        `yaml:"token_url"`
	Timeout       time.Duration `yaml:"timeout"`
	Cache         bool          `yaml:"cache"`
	RenewalBuffer time.Duration `yaml:"renewal_buffer"`
}

// WebhookConfig defines the inbound endpoint behaviour.
type WebhookConfig struct {
	// StrictPayload rejects empty payloads with 400 instead of a 200 echo.
	StrictPayload bool `yaml:"strict_payload"`

	// MaxBodySize accepts plain bytes or KB/MB/GB suffixes (e.g. "1MB").
	MaxBodySize string `yaml:"max_body_size"`

	// MaxBodyBytes is MaxBodySize resolved by Load.
	MaxBodyBytes int64 `yaml:"-"`
}

// BreakerConfig tunes the circuit breaker in front of the token endpoint.
type BreakerConfig struct {
	Failures    uint32        `yaml:"failures"`
	OpenTimeout time.Duration `yaml:"open_timeout"`
}

// Defaults returns the default configuration.
func Defaults() *Config {
	return &Config{
		Service: ServiceConfig{
			Port:      "8080",
			LogLevel:  "info",
			LogFormat: "json",
		},
		OAuth: OAuthConfig{
			Timeout:       10 * time.Second,
			RenewalBuffer: 60 * time.Second,
		},
		Webhook: WebhookConfig{
			MaxBodySize:  "1MB",
			MaxBodyBytes: DefaultMaxBodySize,
		},
		Breaker: BreakerConfig{
			Failures:    5,
			OpenTimeout: 30 * time.Second,
		},
	}
}

// DefaultMaxBodySize is 1 MB.
const DefaultMaxBodySize = 1048576

// ListenAddr returns the address the webhook server binds to.
func (c *Config) ListenAddr() string {
	return ":" + c.Service.Port
}

// MissingCredentials lists the absent PKCS#12 settings by env var name.
func (c *Config) MissingCredentials() []string {
	var missing []string
	if c.Credentials.P12Base64.IsZero() {
		missing = append(missing, EnvP12Base64)
	}
	if c.Credentials.P12Password.IsZero() {
		missing = append(missing, EnvP12Password)
	}
	return missing
}

// MTLSAvailable reports whether both PKCS#12 settings are present.
func (c *Config) MTLSAvailable() bool {
	return len(c.MissingCredentials()) == 0
}

// MissingOAuth lists the absent client-credentials settings by env var name.
func (c *Config) MissingOAuth() []string {
	var missing []string
	if c.OAuth.ClientID == "" {
		missing = append(missing, EnvClientID)
	}
	if c.OAuth.ClientSecret.IsZero() {
		missing = append(missing, EnvClientSecret)
	}
	if c.OAuth.Scope == "" {
		missing = append(missing, EnvScope)
	}
	if c.OAuth.TokenURL == "" {
		missing = append(missing, EnvTokenURL)
	}
	return missing
}
