package config

import (
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Environment variable names.
const (
	EnvPort          = "PORT"
	EnvP12Base64     = "P12_BASE64"
	EnvP12Password   = "P12_PASSWORD"
	EnvClientID      = "INTER_CLIENT_ID"
	EnvClientSecret  = "INTER_CLIENT_SECRET"
	EnvScope         = "SCOPE"
	EnvTokenURL      = "INTER_TOKEN_URL"
	EnvCAFile        = "INTER_CA_FILE"
	EnvLogLevel      = "LOG_LEVEL"
	EnvLogFormat     = "LOG_FORMAT"
	EnvTokenTimeout  = "TOKEN_TIMEOUT"
	EnvTokenCache    = "TOKEN_CACHE"
	EnvRenewalBuffer = "TOKEN_RENEWAL_BUFFER"
	EnvStrictPayload = "STRICT_PAYLOAD"
	EnvMaxBodySize   = "MAX_BODY_SIZE"
	EnvBreakerFails  = "BREAKER_FAILURES"
	EnvBreakerOpen   = "BREAKER_OPEN_TIMEOUT"
	EnvConfigPath    = "INTERHOOK_CONFIG"
	EnvPIDFile       = "PID_FILE"
)

var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// LookupFunc resolves an environment variable. os.LookupEnv satisfies it.
type LookupFunc func(key string) (string, bool)

// Load builds the configuration from defaults, an optional YAML file and the
// environment, in that order of precedence (environment wins).
//
// Missing credentials are not an error here: the liveness route must come up
// without them. Malformed values are.
func Load(configPath string, lookup LookupFunc) (*Config, error) {
	if lookup == nil {
		lookup = os.LookupEnv
	}

	cfg := Defaults()

	if configPath != "" {
		if err := loadConfigFile(cfg, configPath, lookup); err != nil {
			return nil, err
		}
		cfg.SourcePath = configPath
	}

	if err := applyEnv(cfg, lookup); err != nil {
		return nil, err
	}

	if err := resolve(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

func loadConfigFile(cfg *Config, path string, lookup LookupFunc) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file %q: %w", path, err)
	}

	interpolated := interpolateEnv(string(data), lookup)

	if err := yaml.Unmarshal([]byte(interpolated), cfg); err != nil {
		return fmt.Errorf("failed to parse YAML %q: %w", path, err)
	}
	return nil
}

// interpolateEnv replaces ${VAR} with environment variable values.
// Undefined variables are replaced with the empty string so they read as absent.
func interpolateEnv(input string, lookup LookupFunc) string {
	return envVarPattern.ReplaceAllStringFunc(input, func(match string) string {
		varName := envVarPattern.FindStringSubmatch(match)[1]
		if value, ok := lookup(varName); ok {
			return value
		}
		return ""
	})
}

func applyEnv(cfg *Config, lookup LookupFunc) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && strings.TrimSpace(v) != "" {
			*dst = strings.TrimSpace(v)
		}
	}
	secret := func(key string, dst *Secret) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = Secret(v)
		}
	}

	str(EnvPort, &cfg.Service.Port)
	str(EnvLogLevel, &cfg.Service.LogLevel)
	str(EnvLogFormat, &cfg.Service.LogFormat)
	str(EnvPIDFile, &cfg.Service.PIDFile)

	secret(EnvP12Base64, &cfg.Credentials.P12Base64)
	secret(EnvP12Password, &cfg.Credentials.P12Password)
	str(EnvCAFile, &cfg.Credentials.CAFile)

	str(EnvClientID, &cfg.OAuth.ClientID)
	secret(EnvClientSecret, &cfg.OAuth.ClientSecret)
	str(EnvScope, &cfg.OAuth.Scope)
	str(EnvTokenURL, &cfg.OAuth.TokenURL)

	str(EnvMaxBodySize, &cfg.Webhook.MaxBodySize)

	if err := envDuration(lookup, EnvTokenTimeout, &cfg.OAuth.Timeout); err != nil {
		return err
	}
	if err := envDuration(lookup, EnvRenewalBuffer, &cfg.OAuth.RenewalBuffer); err != nil {
		return err
	}
	if err := envDuration(lookup, EnvBreakerOpen, &cfg.Breaker.OpenTimeout); err != nil {
		return err
	}
	if err := envBool(lookup, EnvTokenCache, &cfg.OAuth.Cache); err != nil {
		return err
	}
	if err := envBool(lookup, EnvStrictPayload, &cfg.Webhook.StrictPayload); err != nil {
		return err
	}
	if v, ok := lookup(EnvBreakerFails); ok && strings.TrimSpace(v) != "" {
		n, err := strconv.ParseUint(strings.TrimSpace(v), 10, 32)
		if err != nil {
			return fmt.Errorf("%s: invalid count %q: %w", EnvBreakerFails, v, err)
		}
		cfg.Breaker.Failures = uint32(n)
	}
	return nil
}

func envDuration(lookup LookupFunc, key string, dst *time.Duration) error {
	v, ok := lookup(key)
	if !ok || strings.TrimSpace(v) == "" {
		return nil
	}
	d, err := time.ParseDuration(strings.TrimSpace(v))
	if err != nil {
		return fmt.Errorf("%s: invalid duration %q: %w", key, v, err)
	}
	*dst = d
	return nil
}

func envBool(lookup LookupFunc, key string, dst *bool) error {
	v, ok := lookup(key)
	if !ok || strings.TrimSpace(v) == "" {
		return nil
	}
	b, err := strconv.ParseBool(strings.TrimSpace(v))
	if err != nil {
		return fmt.Errorf("%s: invalid boolean %q: %w", key, v, err)
	}
	*dst = b
	return nil
}

// resolve derives computed fields and rejects malformed values.
func resolve(cfg *Config) error {
	port, err := strconv.Atoi(cfg.Service.Port)
	if err != nil || port <= 0 || port > 65535 {
		return fmt.Errorf("service.port must be a TCP port (got %q)", cfg.Service.Port)
	}

	cfg.Service.LogLevel = strings.ToLower(cfg.Service.LogLevel)
	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[cfg.Service.LogLevel] {
		return fmt.Errorf("service.log_level must be one of: debug, info, warn, error (got %q)", cfg.Service.LogLevel)
	}

	if cfg.OAuth.Timeout <= 0 {
		return fmt.Errorf("oauth.timeout must be positive")
	}
	if cfg.OAuth.RenewalBuffer < 0 {
		return fmt.Errorf("oauth.renewal_buffer must not be negative")
	}
	if cfg.Breaker.OpenTimeout <= 0 {
		return fmt.Errorf("breaker.open_timeout must be positive")
	}

	size, err := ParseSize(cfg.Webhook.MaxBodySize)
	if err != nil {
		return fmt.Errorf("webhook.max_body_size %q: %w", cfg.Webhook.MaxBodySize, err)
	}
	cfg.Webhook.MaxBodyBytes = size

	return nil
}

// ParseSize parses size strings like "1MB", "512KB" or "2048576" to bytes.
// Returns DefaultMaxBodySize if empty.
func ParseSize(size string) (int64, error) {
	if size == "" {
		return DefaultMaxBodySize, nil
	}

	upper := strings.ToUpper(strings.TrimSpace(size))
	multiplier := int64(1)

	switch {
	case strings.HasSuffix(upper, "KB"):
		multiplier = 1024
		upper = strings.TrimSuffix(upper, "KB")
	case strings.HasSuffix(upper, "MB"):
		multiplier = 1024 * 1024
		upper = strings.TrimSuffix(upper, "MB")
	case strings.HasSuffix(upper, "GB"):
		multiplier = 1024 * 1024 * 1024
		upper = strings.TrimSuffix(upper, "GB")
	}

	value, err := strconv.ParseInt(strings.TrimSpace(upper), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid size value: %w", err)
	}
	if value <= 0 {
		return 0, fmt.Errorf("size must be positive")
	}

	result := value * multiplier
	if result/multiplier != value {
		return 0, fmt.Errorf("size too large")
	}
	return result, nil
}
