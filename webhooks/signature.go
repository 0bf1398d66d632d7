package webhooks

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"net/http"
	"strings"
)

const (
	SignaturePrefix        = "sha256="
	DefaultSignatureHeader = "X-Integrations-Signature"
)

// Sign returns the hex HMAC-SHA256 of body under secret.
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	_, _ = mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// SignatureHeader renders the signature header value, "sha256=<hex>".
func SignatureHeader(secret string, body []byte) string {
	return SignaturePrefix + Sign(secret, body)
}

// VerifySignature checks a received signature header against body in
// constant time. Receivers should run it on the raw request body.
func VerifySignature(secret string, body []byte, header string) bool {
	verifier := HeaderHMACVerifier{Prefix: SignaturePrefix, Secret: secret, Encoding: "hex"}
	return verifier.verifyValue(header, body) == nil
}

// HeaderHMACVerifier validates an HMAC-SHA256 signature carried in a request
// header, for receivers of our deliveries and for inbound partner webhooks.
type HeaderHMACVerifier struct {
	Header   string
	Prefix   string
	Secret   string
	Encoding string // hex | base64
}

func (v HeaderHMACVerifier) Verify(headers http.Header, body []byte) error {
	header := strings.TrimSpace(headers.Get(v.Header))
	if header == "" {
		return fmt.Errorf("webhooks: %s signature header is required", strings.TrimSpace(v.Header))
	}
	return v.verifyValue(header, body)
}

func (v HeaderHMACVerifier) verifyValue(header string, body []byte) error {
	secret := v.Secret
	if strings.TrimSpace(secret) == "" {
		return fmt.Errorf("webhooks: signature secret is required")
	}
	signature := strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(header), strings.TrimSpace(v.Prefix)))
	if signature == "" {
		return fmt.Errorf("webhooks: signature value is required")
	}

	mac := hmac.New(sha256.New, []byte(secret))
	_, _ = mac.Write(body)
	expected := mac.Sum(nil)

	var (
		decoded []byte
		err     error
	)
	switch strings.ToLower(strings.TrimSpace(v.Encoding)) {
	case "base64":
		decoded, err = base64.StdEncoding.DecodeString(signature)
	default:
		decoded, err = hex.DecodeString(signature)
	}
	if err != nil {
		return fmt.Errorf("webhooks: decode signature: %w", err)
	}
	if subtle.ConstantTimeCompare(decoded, expected) != 1 {
		return fmt.Errorf("webhooks: signature verification failed")
	}
	return nil
}
