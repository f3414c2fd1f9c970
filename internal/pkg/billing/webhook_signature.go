package billing

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/hex"
	"hash"
	"strings"
)

// VerifyWebhookSignature checks the gateway's HMAC over the raw payload.
// Signatures are hex-encoded; SHA-256 is the documented scheme with a SHA-512
// fallback for gateways that were configured before the scheme was pinned.
func VerifyWebhookSignature(payload []byte, signatureHeader, webhookSecret string) bool {
	sig := strings.TrimSpace(signatureHeader)
	secret := strings.TrimSpace(webhookSecret)
	if sig == "" || secret == "" {
		return false
	}

	decodedSig, err := hex.DecodeString(strings.ToLower(sig))
	if err != nil {
		return false
	}

	if verifyHMAC(payload, decodedSig, []byte(secret), sha256.New) {
		return true
	}
	return verifyHMAC(payload, decodedSig, []byte(secret), sha512.New)
}

func verifyHMAC(payload, expectedSig, secret []byte, hashFunc func() hash.Hash) bool {
	mac := hmac.New(hashFunc, secret)
	mac.Write(payload)
	return hmac.Equal(mac.Sum(nil), expectedSig)
}
