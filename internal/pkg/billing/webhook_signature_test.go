package billing

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/hex"
	"strings"
	"testing"
)

func signHex(payload []byte, secret string, scheme string) string {
	var mac []byte
	switch scheme {
	case "sha512":
		h := hmac.New(sha512.New, []byte(secret))
		h.Write(payload)
		mac = h.Sum(nil)
	default:
		h := hmac.New(sha256.New, []byte(secret))
		h.Write(payload)
		mac = h.Sum(nil)
	}
	return hex.EncodeToString(mac)
}

func TestVerifyWebhookSignature(t *testing.T) {
	payload := []byte(`{"provider":"stripe","external_event_id":"evt-1"}`)
	secret := "whsec_test"

	tests := []struct {
		name      string
		payload   []byte
		signature string
		secret    string
		want      bool
	}{
		{name: "valid sha256", payload: payload, signature: signHex(payload, secret, "sha256"), secret: secret, want: true},
		{name: "valid sha512 fallback", payload: payload, signature: signHex(payload, secret, "sha512"), secret: secret, want: true},
		{name: "whitespace trimmed", payload: payload, signature: "  " + signHex(payload, secret, "sha256") + "  ", secret: secret, want: true},
		{name: "uppercase hex accepted", payload: payload, signature: strings.ToUpper(signHex(payload, secret, "sha256")), secret: secret, want: true},
		{name: "wrong secret", payload: payload, signature: signHex(payload, "other", "sha256"), secret: secret, want: false},
		{name: "tampered payload", payload: []byte(`{"amount":0}`), signature: signHex(payload, secret, "sha256"), secret: secret, want: false},
		{name: "not hex", payload: payload, signature: "zz-not-hex", secret: secret, want: false},
		{name: "empty signature", payload: payload, signature: "", secret: secret, want: false},
		{name: "empty secret", payload: payload, signature: signHex(payload, secret, "sha256"), secret: "", want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := VerifyWebhookSignature(tt.payload, tt.signature, tt.secret); got != tt.want {
				t.Errorf("VerifyWebhookSignature() = %v, want %v", got, tt.want)
			}
		})
	}
}
