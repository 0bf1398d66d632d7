package webhooks

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"strings"
)

const maxReceiverBody = 1 << 20

// RequireSignature guards a receiver endpoint: the raw body must carry a
// valid signature in header under secret. The body is restored for next.
func RequireSignature(secret, header string, next http.Handler) http.Handler {
	header = strings.TrimSpace(header)
	if header == "" {
		header = DefaultSignatureHeader
	}
	verifier := HeaderHMACVerifier{
		Header:   header,
		Prefix:   SignaturePrefix,
		Secret:   secret,
		Encoding: "hex",
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(io.LimitReader(r.Body, maxReceiverBody))
		if err != nil {
			writeReceiverError(w, http.StatusBadRequest, "unreadable body")
			return
		}
		_ = r.Body.Close()
		if err := verifier.Verify(r.Header, body); err != nil {
			writeReceiverError(w, http.StatusUnauthorized, "invalid signature")
			return
		}
		r.Body = io.NopCloser(bytes.NewReader(body))
		next.ServeHTTP(w, r)
	})
}

// DecodeEnvelope parses a delivered body. Data stays raw for the caller.
func DecodeEnvelope(body []byte) (Envelope, json.RawMessage, error) {
	var raw struct {
		Envelope
		Data json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(body, &raw); err != nil {
		return Envelope{}, nil, err
	}
	envelope := raw.Envelope
	envelope.Data = raw.Data
	return envelope, raw.Data, nil
}

func writeReceiverError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": message})
}
