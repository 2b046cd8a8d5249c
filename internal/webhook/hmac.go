package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"time"
)

const slackSignatureVersion = "v0"

// verifySlackSignature checks a Slack request signature: "v0=" followed by
// the hex HMAC-SHA256 of "v0:<timestamp>:<body>". Requests whose timestamp
// is further than maxSkew from now are rejected as replays.
//
// All errors are generic to prevent information leakage.
func verifySlackSignature(body []byte, timestamp, signature, secret string, now time.Time, maxSkew time.Duration) error {
	if secret == "" || signature == "" || timestamp == "" {
		return fmt.Errorf("webhook verification failed")
	}

	ts, err := strconv.ParseInt(timestamp, 10, 64)
	if err != nil {
		return fmt.Errorf("webhook verification failed")
	}
	skew := now.Sub(time.Unix(ts, 0))
	if skew < 0 {
		skew = -skew
	}
	if skew > maxSkew {
		return fmt.Errorf("webhook verification failed")
	}

	actualMAC, err := parseSignature(signature)
	if err != nil {
		return fmt.Errorf("webhook verification failed")
	}

	// Constant-time comparison to prevent timing attacks
	if subtle.ConstantTimeCompare(slackMAC(body, timestamp, secret), actualMAC) != 1 {
		return fmt.Errorf("webhook verification failed")
	}
	return nil
}

// parseSignature decodes the hex digest of a "v0=<hex>" signature.
func parseSignature(signature string) ([]byte, error) {
	version, hexSig, ok := strings.Cut(signature, "=")
	if !ok || version != slackSignatureVersion {
		return nil, fmt.Errorf("unsupported signature version")
	}
	return hex.DecodeString(hexSig)
}

func slackMAC(body []byte, timestamp, secret string) []byte {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(slackSignatureVersion + ":" + timestamp + ":"))
	mac.Write(body)
	return mac.Sum(nil)
}

// computeSlackSignature returns the X-Slack-Signature value for a request.
func computeSlackSignature(body []byte, timestamp, secret string) string {
	return slackSignatureVersion + "=" + hex.EncodeToString(slackMAC(body, timestamp, secret))
}
