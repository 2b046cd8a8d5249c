package webhook

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/mattjoyce/relwiz/internal/config"
)

// FromGlobalConfig converts config.WebhooksConfig to webhook.Config.
func FromGlobalConfig(wc config.WebhooksConfig) (Config, error) {
	if wc.Slack == nil {
		return Config{}, fmt.Errorf("webhooks.slack is not configured")
	}
	if wc.Slack.SigningSecret == "" {
		return Config{}, fmt.Errorf("webhooks.slack: no signing_secret configured")
	}

	maxBodySize, err := parseMaxBodySize(wc.Slack.MaxBodySize)
	if err != nil {
		return Config{}, fmt.Errorf("webhooks.slack: invalid max_body_size %q: %w", wc.Slack.MaxBodySize, err)
	}
	maxSkew := wc.Slack.MaxSkew
	if maxSkew <= 0 {
		maxSkew = DefaultMaxSkew
	}
	path := wc.Slack.Path
	if path == "" {
		path = "/slack/actions"
	}

	return Config{
		Listen: wc.Listen,
		Slack: SlackEndpoint{
			Path:          path,
			SigningSecret: wc.Slack.SigningSecret,
			MaxBodySize:   maxBodySize,
			MaxSkew:       maxSkew,
		},
	}, nil
}

// parseMaxBodySize parses size strings like "1MB", "512KB", "1048576" to bytes.
// Returns DefaultMaxBodySize if empty.
func parseMaxBodySize(size string) (int64, error) {
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
