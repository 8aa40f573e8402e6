package provider

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v4"
)

// errMalformedCallbackToken is returned when a token parses and verifies
// but carries no callId, which should never happen for tokens minted here.
var errMalformedCallbackToken = errors.New("provider: callback token missing call id")

// callbackTokenTTL bounds how long a webhook callback URL for a single call
// remains valid; comfortably above any per-state call timeout in practice.
const callbackTokenTTL = 24 * time.Hour

// callbackClaims identifies the engine-side callId inside a provider
// webhook URL. The provider's own identifiers are never used for
// correlation, only the engine callId carried here.
type callbackClaims struct {
	CallID string `json:"call_id"`
	jwt.RegisteredClaims
}

// TokenSigner mints and verifies the opaque callback tokens embedded in
// webhook URLs handed to PlaceCall.
type TokenSigner struct {
	secret []byte
}

// NewTokenSigner builds a TokenSigner from a shared HMAC secret.
func NewTokenSigner(secret []byte) *TokenSigner {
	return &TokenSigner{secret: secret}
}

// Sign returns an opaque token carrying callId, for embedding in a webhook
// callback URL.
func (t *TokenSigner) Sign(callID string) (string, error) {
	now := time.Now()
	claims := callbackClaims{
		CallID: callID,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(callbackTokenTTL)),
			Issuer:    "campaignd",
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(t.secret)
}

// Verify recovers callId from a token minted by Sign, rejecting expired or
// tampered tokens.
func (t *TokenSigner) Verify(token string) (callID string, err error) {
	claims := &callbackClaims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(tok *jwt.Token) (any, error) {
		if _, ok := tok.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrSignatureInvalid
		}
		return t.secret, nil
	})
	if err != nil {
		return "", fmt.Errorf("verifying callback token: %w", err)
	}
	if !parsed.Valid || claims.CallID == "" {
		return "", errMalformedCallbackToken
	}
	return claims.CallID, nil
}
