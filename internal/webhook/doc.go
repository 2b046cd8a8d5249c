// Package webhook receives Slack interactivity callbacks so release
// approvals can be answered from the approval channel.
//
// # Security Model
//
// - Requests are signed by Slack: X-Slack-Signature carries "v0=" and the hex
//   HMAC-SHA256 of "v0:<X-Slack-Request-Timestamp>:<raw body>" keyed with the
//   app signing secret. Comparison is constant time (crypto/subtle).
// - Timestamps older or newer than max_skew (default 5m) are rejected.
// - Body size limits are enforced before verification.
// - Error responses never describe why verification failed (always 403).
// - Request logging excludes payloads.
//
// # Configuration
//
//	webhooks:
//	  enabled: true
//	  listen: "127.0.0.1:8091"
//	  slack:
//	    path: /slack/actions
//	    signing_secret: ${SLACK_SIGNING_SECRET}
//	    max_body_size: 1MB
//	    max_skew: 5m
//
// # Request Flow
//
//  1. Slack POSTs application/x-www-form-urlencoded with a payload field
//  2. Body size checked (413 if too large)
//  3. Timestamp window and signature verified (403 on failure)
//  4. block_actions whose action_id starts with adapter.ApprovalActionID are
//     decoded from their "<inputID>|<option>" value
//  5. The input is submitted as "slack:<username>"
//  6. The approval message is rewritten with the decision
//
// Inputs that were already answered or closed get an ephemeral notice with
// status 200 so Slack does not retry.
package webhook
