package security

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/cuemby/paddock/pkg/errdefs"
)

// TransferTokenTTL is how long a destination daemon may use a transfer token
const TransferTokenTTL = 15 * time.Minute

// TransferClaims authorize a destination daemon to pull one server's archive
// from the source daemon
type TransferClaims struct {
	Issuer    string `json:"iss"`
	Audience  string `json:"aud"`
	Subject   string `json:"sub"` // server UUID
	ID        string `json:"jti"`
	IssuedAt  int64  `json:"iat"`
	NotBefore int64  `json:"nbf"`
	ExpiresAt int64  `json:"exp"`
}

var transferTokenHeader = base64URLEncode([]byte(`{"alg":"HS256","typ":"JWT"}`))

// SignTransferToken creates an HS256 JWT for serverUUID keyed with the
// source node's plaintext daemon secret, which is the key the source daemon
// verifies with. The result is the Authorization header value.
func SignTransferToken(secret, issuer, audience, serverUUID string, now time.Time) (string, error) {
	if secret == "" {
		return "", errdefs.Configuration("transfer token secret is empty")
	}

	claims := TransferClaims{
		Issuer:    issuer,
		Audience:  audience,
		Subject:   serverUUID,
		ID:        uuid.NewString(),
		IssuedAt:  now.Unix(),
		NotBefore: now.Unix(),
		ExpiresAt: now.Add(TransferTokenTTL).Unix(),
	}
	claimsJSON, err := json.Marshal(claims)
	if err != nil {
		return "", fmt.Errorf("failed to encode transfer claims: %w", err)
	}

	signingInput := transferTokenHeader + "." + base64URLEncode(claimsJSON)
	return bearerPrefix + signingInput + "." + base64URLEncode(sign(secret, signingInput)), nil
}

// VerifyTransferToken checks a token produced by SignTransferToken and
// returns its claims
func VerifyTransferToken(token, secret string, now time.Time) (*TransferClaims, error) {
	token = strings.TrimPrefix(token, bearerPrefix)
	parts := strings.Split(token, ".")
	if len(parts) != 3 || parts[0] != transferTokenHeader {
		return nil, errdefs.Forbidden("malformed transfer token")
	}

	signature, err := base64.RawURLEncoding.DecodeString(parts[2])
	if err != nil || !hmac.Equal(signature, sign(secret, parts[0]+"."+parts[1])) {
		return nil, errdefs.Forbidden("invalid transfer token signature")
	}

	payload, err := base64.RawURLEncoding.DecodeString(parts[1])
	if err != nil {
		return nil, errdefs.Forbidden("malformed transfer token")
	}
	var claims TransferClaims
	if err := json.Unmarshal(payload, &claims); err != nil {
		return nil, errdefs.Forbidden("malformed transfer token")
	}

	if now.Unix() < claims.NotBefore || now.Unix() >= claims.ExpiresAt {
		return nil, errdefs.Forbidden("transfer token expired")
	}
	return &claims, nil
}

func sign(secret, input string) []byte {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(input))
	return mac.Sum(nil)
}

// base64URLEncode encodes without padding, per RFC 7515
func base64URLEncode(data []byte) string {
	return base64.RawURLEncoding.EncodeToString(data)
}
