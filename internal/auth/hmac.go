package auth

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	// ErrInvalidToken indicates the token failed signature checks or had malformed structure.
	ErrInvalidToken = errors.New("invalid token")
	// ErrExpiredToken signals that the token's expiry is in the past.
	ErrExpiredToken = errors.New("token expired")
	// ErrWrongAudience signals a token minted for a different session.
	ErrWrongAudience = errors.New("token audience mismatch")
)

// TokenClaims captures the payload of a driver token. The subject names the driver and
// the audience, when present, pins the token to one session.
type TokenClaims struct {
	Subject   string
	ExpiresAt time.Time
	IssuedAt  time.Time
	Audience  string
}

type tokenPayload struct {
	Subject  string `json:"sub"`
	Expires  int64  `json:"exp"`
	Issued   int64  `json:"iat"`
	Audience string `json:"aud,omitempty"`
}

var tokenHeader = base64.RawURLEncoding.EncodeToString([]byte(`{"alg":"HS256","typ":"JWT"}`))

// HMACTokens mints and validates compact JWT-style tokens signed with HS256.
type HMACTokens struct {
	secret []byte
	now    func() time.Time
	leeway time.Duration
}

// NewHMACTokens constructs a signer/verifier for the shared secret and clock skew allowance.
func NewHMACTokens(secret string, leeway time.Duration) (*HMACTokens, error) {
	secret = strings.TrimSpace(secret)
	if secret == "" {
		return nil, errors.New("hmac secret must not be empty")
	}
	if leeway < 0 {
		leeway = 0
	}
	return &HMACTokens{secret: []byte(secret), now: time.Now, leeway: leeway}, nil
}

// WithClock overrides the clock, enabling deterministic unit tests.
func (v *HMACTokens) WithClock(clock func() time.Time) {
	if clock == nil {
		return
	}
	v.now = clock
}

// Issue signs a token for subject that expires after ttl. An empty audience makes the
// token valid for every session.
func (v *HMACTokens) Issue(subject, audience string, ttl time.Duration) (string, error) {
	if v == nil || len(v.secret) == 0 {
		return "", errors.New("token signer not initialised")
	}
	if strings.TrimSpace(subject) == "" {
		return "", fmt.Errorf("%w: subject must not be empty", ErrInvalidToken)
	}
	now := v.now()
	payload, err := json.Marshal(tokenPayload{
		Subject:  subject,
		Expires:  now.Add(ttl).Unix(),
		Issued:   now.Unix(),
		Audience: audience,
	})
	if err != nil {
		return "", err
	}
	signingInput := tokenHeader + "." + base64.RawURLEncoding.EncodeToString(payload)
	return signingInput + "." + base64.RawURLEncoding.EncodeToString(v.sign([]byte(signingInput))), nil
}

// Verify parses the token, validates signature and expiry and, when audience is not
// empty, requires the token to be unscoped or scoped to that audience.
func (v *HMACTokens) Verify(token, audience string) (*TokenClaims, error) {
	if v == nil || len(v.secret) == 0 {
		return nil, errors.New("verifier not initialised")
	}
	parts := strings.Split(strings.TrimSpace(token), ".")
	if len(parts) != 3 {
		return nil, ErrInvalidToken
	}

	headerBytes, err := decodeSegment(parts[0])
	if err != nil {
		return nil, ErrInvalidToken
	}
	var header struct {
		Algorithm string `json:"alg"`
	}
	if err := json.Unmarshal(headerBytes, &header); err != nil {
		return nil, ErrInvalidToken
	}
	if header.Algorithm != "HS256" {
		return nil, fmt.Errorf("%w: unexpected algorithm %q", ErrInvalidToken, header.Algorithm)
	}

	//1.- Check the signature before trusting anything in the payload.
	signature, err := decodeSegment(parts[2])
	if err != nil || !hmac.Equal(signature, v.sign([]byte(parts[0]+"."+parts[1]))) {
		return nil, ErrInvalidToken
	}

	payloadBytes, err := decodeSegment(parts[1])
	if err != nil {
		return nil, ErrInvalidToken
	}
	var payload tokenPayload
	if err := json.Unmarshal(payloadBytes, &payload); err != nil {
		return nil, ErrInvalidToken
	}
	if strings.TrimSpace(payload.Subject) == "" || payload.Expires <= 0 {
		return nil, ErrInvalidToken
	}
	expiresAt := time.Unix(payload.Expires, 0)
	if expiresAt.Add(v.leeway).Before(v.now()) {
		return nil, ErrExpiredToken
	}
	if audience != "" && payload.Audience != "" && payload.Audience != audience {
		return nil, ErrWrongAudience
	}
	return &TokenClaims{
		Subject:   payload.Subject,
		ExpiresAt: expiresAt,
		IssuedAt:  time.Unix(payload.Issued, 0),
		Audience:  payload.Audience,
	}, nil
}

func (v *HMACTokens) sign(payload []byte) []byte {
	mac := hmac.New(sha256.New, v.secret)
	mac.Write(payload)
	return mac.Sum(nil)
}

func decodeSegment(segment string) ([]byte, error) {
	return base64.RawURLEncoding.DecodeString(segment)
}
