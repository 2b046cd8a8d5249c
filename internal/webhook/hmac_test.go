package webhook

import (
	"strconv"
	"testing"
	"time"
)

func TestVerifySlackSignature(t *testing.T) {
	secret := "8f742231b10e8888abcd99yyyzzz85a5"
	body := []byte("payload=%7B%22type%22%3A%22block_actions%22%7D")
	now := time.Unix(1_700_000_000, 0)
	ts := strconv.FormatInt(now.Unix(), 10)
	sig := computeSlackSignature(body, ts, secret)

	tests := []struct {
		name      string
		body      []byte
		timestamp string
		signature string
		secret    string
		now       time.Time
		wantErr   bool
	}{
		{name: "valid", body: body, timestamp: ts, signature: sig, secret: secret, now: now},
		{name: "within skew", body: body, timestamp: ts, signature: sig, secret: secret, now: now.Add(4 * time.Minute)},
		{name: "replayed outside window", body: body, timestamp: ts, signature: sig, secret: secret, now: now.Add(6 * time.Minute), wantErr: true},
		{name: "timestamp from the future", body: body, timestamp: ts, signature: sig, secret: secret, now: now.Add(-6 * time.Minute), wantErr: true},
		{name: "tampered body", body: []byte("payload=%7B%7D"), timestamp: ts, signature: sig, secret: secret, now: now, wantErr: true},
		{name: "timestamp not covered", body: body, timestamp: strconv.FormatInt(now.Unix()+1, 10), signature: sig, secret: secret, now: now, wantErr: true},
		{name: "wrong secret", body: body, timestamp: ts, signature: sig, secret: "other", now: now, wantErr: true},
		{name: "empty secret", body: body, timestamp: ts, signature: sig, secret: "", now: now, wantErr: true},
		{name: "missing signature", body: body, timestamp: ts, signature: "", secret: secret, now: now, wantErr: true},
		{name: "missing timestamp", body: body, timestamp: "", signature: sig, secret: secret, now: now, wantErr: true},
		{name: "non-numeric timestamp", body: body, timestamp: "yesterday", signature: sig, secret: secret, now: now, wantErr: true},
		{name: "unknown version", body: body, timestamp: ts, signature: "v1=" + sig[3:], secret: secret, now: now, wantErr: true},
		{name: "malformed hex", body: body, timestamp: ts, signature: "v0=not-hex", secret: secret, now: now, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := verifySlackSignature(tt.body, tt.timestamp, tt.signature, tt.secret, tt.now, DefaultMaxSkew)
			if (err != nil) != tt.wantErr {
				t.Errorf("verifySlackSignature() error = %v, wantErr %v", err, tt.wantErr)
			}

			// All errors should be generic (no information leakage)
			if err != nil && err.Error() != "webhook verification failed" {
				t.Errorf("error should be generic, got: %v", err)
			}
		})
	}
}

func TestComputeSlackSignature(t *testing.T) {
	body := []byte("test payload")
	sig := computeSlackSignature(body, "1531420618", "test-secret")

	// "v0=" + 64 hex chars
	if len(sig) != 67 || sig[:3] != "v0=" {
		t.Errorf("signature = %q, want v0=<64 hex>", sig)
	}
	if sig != computeSlackSignature(body, "1531420618", "test-secret") {
		t.Error("signature should be deterministic")
	}
	if sig == computeSlackSignature(body, "1531420619", "test-secret") {
		t.Error("timestamp must be part of the signed base string")
	}
}

func TestParseMaxBodySize(t *testing.T) {
	tests := []struct {
		in      string
		want    int64
		wantErr bool
	}{
		{in: "", want: DefaultMaxBodySize},
		{in: "2048", want: 2048},
		{in: "512KB", want: 512 * 1024},
		{in: "2mb", want: 2 * 1024 * 1024},
		{in: "1GB", want: 1024 * 1024 * 1024},
		{in: "0", wantErr: true},
		{in: "-5KB", wantErr: true},
		{in: "lots", wantErr: true},
	}
	for _, tt := range tests {
		got, err := parseMaxBodySize(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("parseMaxBodySize(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if !tt.wantErr && got != tt.want {
			t.Errorf("parseMaxBodySize(%q) = %d, want %d", tt.in, got, tt.want)
		}
	}
}
