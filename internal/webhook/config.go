package webhook

import (
	"fmt"

	"github.com/mattjoyce/interhook/internal/config"
)

// FromConfig converts the process configuration to webhook.Config.
func FromConfig(cfg *config.Config) (Config, error) {
	if cfg == nil {
		return Config{}, fmt.Errorf("config is nil")
	}

	return Config{
		Listen:        cfg.ListenAddr(),
		MaxBodySize:   cfg.Webhook.MaxBodyBytes,
		StrictPayload: cfg.Webhook.StrictPayload,
		TokenTimeout:  cfg.OAuth.Timeout,
	}, nil
}
