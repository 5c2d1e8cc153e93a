package security

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"fmt"
	"math/big"
	"strings"
)

const bearerPrefix = "Bearer "

const (
	// NodeTokenIDLength is the length of a generated daemon token identifier
	NodeTokenIDLength = 16
	// NodeTokenLength is the length of a generated daemon token secret
	NodeTokenLength = 64
)

// Credentials is the token pair presented in an Authorization header
type Credentials struct {
	TokenID string
	Token   string
}

// ParseAuthHeader parses "Bearer <tokenId>.<token>". It returns false for
// any other shape so callers can tell a malformed header from a missing one.
func ParseAuthHeader(value string) (Credentials, bool) {
	if !strings.HasPrefix(value, bearerPrefix) {
		return Credentials{}, false
	}

	parts := strings.Split(strings.TrimPrefix(value, bearerPrefix), ".")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return Credentials{}, false
	}

	return Credentials{TokenID: parts[0], Token: parts[1]}, true
}

// BuildAuthHeader formats the Authorization header value for a token pair
func BuildAuthHeader(tokenID, token string) string {
	return bearerPrefix + tokenID + "." + token
}

// ConstantTimeEqual compares two secrets without leaking where they differ
// or how long they are. Both sides are hashed to fixed-size digests first,
// so a length mismatch costs the same as any other mismatch.
func ConstantTimeEqual(a, b string) bool {
	ha := sha256.Sum256([]byte(a))
	hb := sha256.Sum256([]byte(b))
	return subtle.ConstantTimeCompare(ha[:], hb[:]) == 1
}

const tokenAlphabet = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

func randomString(n int) (string, error) {
	max := big.NewInt(int64(len(tokenAlphabet)))
	var sb strings.Builder
	sb.Grow(n)
	for i := 0; i < n; i++ {
		idx, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", fmt.Errorf("failed to generate random token: %w", err)
		}
		sb.WriteByte(tokenAlphabet[idx.Int64()])
	}
	return sb.String(), nil
}

// GenerateNodeToken creates a new daemon token identifier and secret
func GenerateNodeToken() (tokenID, token string, err error) {
	tokenID, err = randomString(NodeTokenIDLength)
	if err != nil {
		return "", "", err
	}
	token, err = randomString(NodeTokenLength)
	if err != nil {
		return "", "", err
	}
	return tokenID, token, nil
}
