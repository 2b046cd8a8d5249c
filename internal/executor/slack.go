package executor

import (
	"context"
	"errors"
	"fmt"

	"github.com/mattjoyce/relwiz/internal/project"
	"github.com/mattjoyce/relwiz/internal/release"
)

var errSlackUnconfigured = errors.New("slack connection is not configured")

func slackMessage(client SlackClient) Func {
	return func(ctx context.Context, req Request) Outcome {
		spec := req.Block.Slack
		if spec == nil {
			return Fatal(fmt.Errorf("block %s has no slack payload", req.Block.ID), nil)
		}
		if client == nil {
			return Fatal(errSlackUnconfigured, nil)
		}

		text := messageText(req, spec)
		channel := req.render(spec.Channel)
		post := func(ctx context.Context) Outcome {
			msg, err := client.PostMessage(ctx, channel, text, req.render(spec.ThreadTS))
			if err != nil {
				return FromError(err, map[string]string{"channel": channel})
			}
			req.log(release.LevelInfo, "slack", "posted message to %s (ts %s)", msg.Channel, msg.TS)

			link, err := client.Permalink(ctx, msg.Channel, msg.TS)
			if err != nil {
				req.log(release.LevelWarning, "slack", "permalink lookup failed: %v", err)
			}
			meta := map[string]string{"channel": msg.Channel, "message_ts": msg.TS, "message_url": link}
			return Success(copyMap(meta), meta)
		}
		if req.Block.Timeout > 0 {
			return withBlockTimeout(ctx, req, req.Block.Timeout, post)
		}
		return post(ctx)
	}
}

// messageText picks the inline template, then the named project template,
// then a generic line naming the block.
func messageText(req Request, spec *project.SlackMessageSpec) string {
	tmpl := spec.MessageTemplate
	if tmpl == "" && spec.TemplateName != "" && req.Plan != nil {
		if t, ok := req.Plan.Template(spec.TemplateName); ok {
			tmpl = t.Template
		}
	}
	if tmpl == "" {
		name := req.Block.Name
		if name == "" {
			name = req.Block.ID
		}
		tmpl = "Release step " + name
	}
	return req.render(tmpl)
}
