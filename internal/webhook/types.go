package webhook

import (
	"context"
	"time"

	"github.com/mattjoyce/relwiz/internal/adapter"
)

// InputSubmitter answers a pending user input.
type InputSubmitter interface {
	SubmitUserInput(ctx context.Context, inputID, value, submittedBy string) error
}

// MessageUpdater rewrites an approval message once it has been answered.
type MessageUpdater interface {
	UpdateMessage(ctx context.Context, channel, ts, text string) (adapter.SlackMessage, error)
}

// Config holds webhook server configuration.
type Config struct {
	Listen string
	Slack  SlackEndpoint
}

// SlackEndpoint configures the Slack interactivity callback.
type SlackEndpoint struct {
	// Path is the Request URL configured in the Slack app, e.g. "/slack/actions".
	Path string

	// SigningSecret is the Slack app signing secret.
	SigningSecret string

	// MaxBodySize is the maximum allowed request body size in bytes (default: 1MB)
	MaxBodySize int64

	// MaxSkew bounds the age of X-Slack-Request-Timestamp (default: 5m).
	MaxSkew time.Duration
}

// interaction is the subset of a Slack block_actions payload relwiz reads.
type interaction struct {
	Type string `json:"type"`
	User struct {
		ID       string `json:"id"`
		Username string `json:"username"`
		Name     string `json:"name"`
	} `json:"user"`
	Container struct {
		ChannelID string `json:"channel_id"`
		MessageTS string `json:"message_ts"`
	} `json:"container"`
	Channel struct {
		ID string `json:"id"`
	} `json:"channel"`
	Message struct {
		TS   string `json:"ts"`
		Text string `json:"text"`
	} `json:"message"`
	Actions []struct {
		ActionID string `json:"action_id"`
		BlockID  string `json:"block_id"`
		Value    string `json:"value"`
	} `json:"actions"`
}

// submitter names the Slack user in SubmittedBy.
func (i interaction) submitter() string {
	name := i.User.Username
	if name == "" {
		name = i.User.Name
	}
	if name == "" {
		name = i.User.ID
	}
	return "slack:" + name
}

// ErrorResponse is the JSON response for webhook errors.
type ErrorResponse struct {
	Error string `json:"error"`
}

// Default values
const (
	DefaultMaxBodySize = 1048576 // 1 MB
	DefaultMaxSkew     = 5 * time.Minute
)
