package upbit

import (
	"crypto/sha512"
	"encoding/hex"
	"fmt"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// signedToken builds the exchange's Authorization bearer token: a JWT signed
// with the secret key carrying the access key, a nonce, and the SHA-512 hash
// of the request's query string when one is present.
func (c *Client) signedToken(rawQuery string) (string, error) {
	claims := jwt.MapClaims{
		"access_key": c.accessKey,
		"nonce":      uuid.NewString(),
	}

	if rawQuery != "" {
		hash := sha512.Sum512([]byte(rawQuery))
		claims["query_hash"] = hex.EncodeToString(hash[:])
		claims["query_hash_alg"] = "SHA512"
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(c.secretKey))
	if err != nil {
		return "", fmt.Errorf("failed to sign auth token: %w", err)
	}

	return "Bearer " + signed, nil
}
