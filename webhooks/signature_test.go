package webhooks

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestSign_DeterministicHexHMAC(t *testing.T) {
	body := []byte(`{"event":"order.created"}`)
	mac := hmac.New(sha256.New, []byte("whsec"))
	_, _ = mac.Write(body)
	want := hex.EncodeToString(mac.Sum(nil))

	if got := Sign("whsec", body); got != want {
		t.Fatalf("expected %q, got %q", want, got)
	}
	if Sign("whsec", body) != Sign("whsec", body) {
		t.Fatalf("expected identical signatures for identical input")
	}
	if Sign("other", body) == want {
		t.Fatalf("expected a different secret to change the signature")
	}
	if got := SignatureHeader("whsec", body); got != "sha256="+want {
		t.Fatalf("unexpected header value %q", got)
	}
}

func TestVerifySignature(t *testing.T) {
	body := []byte(`{"a":1}`)
	header := SignatureHeader("whsec", body)

	if !VerifySignature("whsec", body, header) {
		t.Fatalf("expected signature to verify")
	}
	if VerifySignature("whsec", []byte(`{"a":2}`), header) {
		t.Fatalf("expected tampered body to fail")
	}
	if VerifySignature("wrong", body, header) {
		t.Fatalf("expected wrong secret to fail")
	}
	if VerifySignature("whsec", body, "sha256=zz") {
		t.Fatalf("expected undecodable signature to fail")
	}
	if VerifySignature("", body, header) {
		t.Fatalf("expected empty secret to fail")
	}
}

func TestHeaderHMACVerifier_Base64(t *testing.T) {
	body := []byte("payload")
	mac := hmac.New(sha256.New, []byte("partner"))
	_, _ = mac.Write(body)
	headers := http.Header{}
	headers.Set("X-Partner-Hmac", base64.StdEncoding.EncodeToString(mac.Sum(nil)))

	verifier := HeaderHMACVerifier{Header: "X-Partner-Hmac", Secret: "partner", Encoding: "base64"}
	if err := verifier.Verify(headers, body); err != nil {
		t.Fatalf("expected base64 signature to verify: %v", err)
	}
	if err := verifier.Verify(http.Header{}, body); err == nil {
		t.Fatalf("expected missing header to fail")
	}
}

func TestRequireSignature(t *testing.T) {
	var received string
	handler := RequireSignature("whsec", "", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, _ := io.ReadAll(r.Body)
		received = string(raw)
		w.WriteHeader(http.StatusNoContent)
	}))

	body := `{"event":"ping","data":{"n":1},"timestamp":"2026-01-01T00:00:00Z","delivery_id":"d1"}`
	req := httptest.NewRequest(http.MethodPost, "/hook", strings.NewReader(body))
	req.Header.Set(DefaultSignatureHeader, SignatureHeader("whsec", []byte(body)))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", rec.Code)
	}
	if received != body {
		t.Fatalf("expected body to be restored for the handler")
	}

	envelope, data, err := DecodeEnvelope([]byte(received))
	if err != nil {
		t.Fatalf("decode envelope: %v", err)
	}
	if envelope.Event != "ping" || envelope.DeliveryID != "d1" || string(data) != `{"n":1}` {
		t.Fatalf("unexpected envelope %+v data %s", envelope, data)
	}

	bad := httptest.NewRequest(http.MethodPost, "/hook", strings.NewReader(body))
	bad.Header.Set(DefaultSignatureHeader, SignatureHeader("other", []byte(body)))
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, bad)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}
