package core

import (
	"bytes"
	"errors"
	"testing"
	"time"
)

func TestFixedClockAdvance(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	clock := NewFixedClock(start)
	clock.Advance(601 * time.Second)
	if got := clock.Now(); !got.Equal(start.Add(601 * time.Second)) {
		t.Fatalf("expected advanced clock, got %s", got)
	}
}

func TestRandomTokenEncodesRequestedEntropy(t *testing.T) {
	token, err := RandomToken(bytes.NewReader(bytes.Repeat([]byte{0xff}, 32)), 32)
	if err != nil {
		t.Fatalf("random token: %v", err)
	}
	// 32 bytes -> 43 unpadded base64url characters
	if len(token) != 43 {
		t.Fatalf("expected 43 char token, got %d (%q)", len(token), token)
	}
}

type failingRandom struct{}

func (failingRandom) Read([]byte) (int, error) { return 0, errors.New("entropy exhausted") }

func TestRandomTokenPropagatesSourceErrors(t *testing.T) {
	if _, err := RandomToken(failingRandom{}, 16); err == nil {
		t.Fatalf("expected random source error")
	}
	if _, err := RandomToken(nil, 0); err == nil {
		t.Fatalf("expected size validation error")
	}
}

func TestRandomTokenDefaultsToCryptoSource(t *testing.T) {
	first, err := RandomToken(nil, 32)
	if err != nil {
		t.Fatalf("random token: %v", err)
	}
	second, err := RandomToken(nil, 32)
	if err != nil {
		t.Fatalf("random token: %v", err)
	}
	if first == second {
		t.Fatalf("expected distinct tokens")
	}
}
