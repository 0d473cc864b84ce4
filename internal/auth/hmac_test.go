package auth

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"testing"
	"time"
)

func newTokens(t *testing.T, secret string, leeway time.Duration, now time.Time) *HMACTokens {
	t.Helper()
	tokens, err := NewHMACTokens(secret, leeway)
	if err != nil {
		t.Fatalf("NewHMACTokens: %v", err)
	}
	tokens.WithClock(func() time.Time { return now })
	return tokens
}

func TestIssuedTokenVerifies(t *testing.T) {
	now := time.Unix(1700000000, 0)
	tokens := newTokens(t, "secret", time.Second, now)
	token, err := tokens.Issue("driver-7", "session-a", 30*time.Second)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	claims, err := tokens.Verify(token, "session-a")
	if err != nil {
		t.Fatalf("Verify returned error: %v", err)
	}
	if claims.Subject != "driver-7" || claims.Audience != "session-a" {
		t.Fatalf("unexpected claims: %+v", claims)
	}
	if !claims.ExpiresAt.Equal(now.Add(30 * time.Second)) {
		t.Fatalf("unexpected expiry %v", claims.ExpiresAt)
	}
}

func TestTokenScopedToAnotherSessionIsRejected(t *testing.T) {
	now := time.Unix(1700000000, 0)
	tokens := newTokens(t, "secret", 0, now)
	scoped, _ := tokens.Issue("driver-7", "session-a", time.Minute)
	if _, err := tokens.Verify(scoped, "session-b"); !errors.Is(err, ErrWrongAudience) {
		t.Fatalf("expected ErrWrongAudience, got %v", err)
	}
	unscoped, _ := tokens.Issue("driver-7", "", time.Minute)
	if _, err := tokens.Verify(unscoped, "session-b"); err != nil {
		t.Fatalf("unscoped token rejected: %v", err)
	}
}

func TestExpiredTokenIsRejected(t *testing.T) {
	now := time.Unix(1700000000, 0)
	tokens := newTokens(t, "secret", 0, now)
	token := makeToken(t, "secret", "driver-7", now.Add(-time.Second))
	if _, err := tokens.Verify(token, ""); !errors.Is(err, ErrExpiredToken) {
		t.Fatalf("expected ErrExpiredToken, got %v", err)
	}
}

func TestForeignSignatureIsRejected(t *testing.T) {
	now := time.Unix(1700000000, 0)
	tokens := newTokens(t, "secret", time.Second, now)
	token := makeToken(t, "other-secret", "driver-7", now.Add(time.Minute))
	if _, err := tokens.Verify(token, ""); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken, got %v", err)
	}
	if _, err := tokens.Verify("not-a-token", ""); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken for garbage, got %v", err)
	}
}

func makeToken(t *testing.T, secret, subject string, expires time.Time) string {
	t.Helper()
	header := base64.RawURLEncoding.EncodeToString([]byte(`{"alg":"HS256","typ":"JWT"}`))
	payload := fmt.Sprintf(`{"sub":"%s","exp":%d,"iat":%d}`, subject, expires.Unix(), expires.Add(-time.Minute).Unix())
	encodedPayload := base64.RawURLEncoding.EncodeToString([]byte(payload))
	signingInput := header + "." + encodedPayload
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(signingInput))
	return signingInput + "." + base64.RawURLEncoding.EncodeToString(mac.Sum(nil))
}
