package adapter

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"strconv"
)

const slackBaseURL = "https://slack.com/api"

// Slack talks to the Slack Web API with a bot token.
type Slack struct {
	c *httpClient
}

func NewSlack(token string, opts Options) *Slack {
	h := http.Header{}
	h.Set("Authorization", "Bearer "+token)
	return &Slack{c: newHTTPClient("slack", slackBaseURL, opts, h)}
}

// SlackMessage identifies a posted message.
type SlackMessage struct {
	Channel string `json:"channel"`
	TS      string `json:"ts"`
}

type slackEnvelope struct {
	OK      bool   `json:"ok"`
	Error   string `json:"error,omitempty"`
	Channel string `json:"channel,omitempty"`
	TS      string `json:"ts,omitempty"`
	// auth.test
	URL    string `json:"url,omitempty"`
	Team   string `json:"team,omitempty"`
	User   string `json:"user,omitempty"`
	TeamID string `json:"team_id,omitempty"`
	BotID  string `json:"bot_id,omitempty"`
	// chat.getPermalink
	Permalink string `json:"permalink,omitempty"`
}

var slackPermanent = map[string]bool{
	"invalid_auth":        true,
	"not_authed":          true,
	"account_inactive":    true,
	"token_revoked":       true,
	"token_expired":       true,
	"missing_scope":       true,
	"no_permission":       true,
	"channel_not_found":   true,
	"not_in_channel":      true,
	"is_archived":         true,
	"msg_too_long":        true,
	"no_text":             true,
	"invalid_arguments":   true,
	"message_not_found":   true,
	"cant_update_message": true,
	"invalid_blocks":      true,
}

var slackTransient = map[string]bool{
	"ratelimited":         true,
	"rate_limited":        true,
	"service_unavailable": true,
	"fatal_error":         true,
	"internal_error":      true,
	"request_timeout":     true,
}

func (s *Slack) call(ctx context.Context, op, method string, body any, query url.Values) (*slackEnvelope, error) {
	path := "/" + op
	if len(query) > 0 {
		path += "?" + query.Encode()
	}
	var env slackEnvelope
	if err := s.c.do(ctx, op, method, path, body, &env); err != nil {
		return nil, err
	}
	if !env.OK {
		class := Unknown
		switch {
		case slackPermanent[env.Error]:
			class = Permanent
		case slackTransient[env.Error]:
			class = Transient
		}
		msg := env.Error
		if msg == "" {
			msg = "ok=false"
		}
		return nil, s.c.fail(op, class, http.StatusOK, errors.New(msg))
	}
	return &env, nil
}

// TestConnection calls auth.test.
func (s *Slack) TestConnection(ctx context.Context) (Info, error) {
	env, err := s.call(ctx, "auth.test", http.MethodGet, nil, nil)
	if err != nil {
		return Info{}, err
	}
	return Info{
		System:   "slack",
		Identity: env.User,
		Details:  map[string]string{"team": env.Team, "team_id": env.TeamID, "url": env.URL, "bot_id": env.BotID},
	}, nil
}

// PostMessage posts text to a channel, optionally as a thread reply.
func (s *Slack) PostMessage(ctx context.Context, channel, text, threadTS string) (SlackMessage, error) {
	body := map[string]any{"channel": channel, "text": text, "unfurl_links": true, "unfurl_media": true}
	if threadTS != "" {
		body["thread_ts"] = threadTS
	}
	env, err := s.call(ctx, "chat.postMessage", http.MethodPost, body, nil)
	if err != nil {
		return SlackMessage{}, err
	}
	return SlackMessage{Channel: env.Channel, TS: env.TS}, nil
}

// UpdateMessage replaces the text of a posted message.
func (s *Slack) UpdateMessage(ctx context.Context, channel, ts, text string) (SlackMessage, error) {
	env, err := s.call(ctx, "chat.update", http.MethodPost, map[string]any{"channel": channel, "ts": ts, "text": text}, nil)
	if err != nil {
		return SlackMessage{}, err
	}
	return SlackMessage{Channel: env.Channel, TS: env.TS}, nil
}

// Permalink resolves a message's public link.
func (s *Slack) Permalink(ctx context.Context, channel, ts string) (string, error) {
	env, err := s.call(ctx, "chat.getPermalink", http.MethodGet, nil, url.Values{"channel": {channel}, "message_ts": {ts}})
	if err != nil {
		return "", err
	}
	return env.Permalink, nil
}

// ApprovalActionID is the action_id of buttons posted by PostApproval.
const ApprovalActionID = "relwiz_input"

// PostApproval posts a prompt with one button per option. Each button value
// is "<inputID>|<option>" so an interactivity callback can answer the input.
func (s *Slack) PostApproval(ctx context.Context, channel, text, inputID string, options []string) (SlackMessage, error) {
	if len(options) == 0 {
		options = []string{"yes", "no"}
	}
	buttons := make([]map[string]any, 0, len(options))
	for i, opt := range options {
		btn := map[string]any{
			"type":      "button",
			"action_id": ApprovalActionID + "_" + strconv.Itoa(i),
			"text":      map[string]any{"type": "plain_text", "text": opt},
			"value":     inputID + "|" + opt,
		}
		switch opt {
		case "yes", "approve":
			btn["style"] = "primary"
		case "no", "reject":
			btn["style"] = "danger"
		}
		buttons = append(buttons, btn)
	}
	body := map[string]any{
		"channel": channel,
		"text":    text,
		"blocks": []map[string]any{
			{"type": "section", "text": map[string]any{"type": "mrkdwn", "text": text}},
			{"type": "actions", "block_id": inputID, "elements": buttons},
		},
	}
	env, err := s.call(ctx, "chat.postMessage", http.MethodPost, body, nil)
	if err != nil {
		return SlackMessage{}, err
	}
	return SlackMessage{Channel: env.Channel, TS: env.TS}, nil
}
