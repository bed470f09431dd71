package session

import (
	"crypto/rand"
	"fmt"
)

const (
	// TokenLength is the fixed length of a session token
	TokenLength = 32

	// tokenAlphabet is the character set session tokens are drawn from
	tokenAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"
)

// GenerateToken creates a new opaque session token: TokenLength characters
// drawn uniformly from tokenAlphabet.
func GenerateToken() (string, error) {
	token := make([]byte, 0, TokenLength)
	buf := make([]byte, TokenLength)

	// Rejection sampling keeps the distribution uniform: 62*4 = 248, so any
	// byte below 248 maps to the alphabet without modulo bias.
	const limit = byte(len(tokenAlphabet) * (256 / len(tokenAlphabet)))
	for len(token) < TokenLength {
		if _, err := rand.Read(buf); err != nil {
			return "", fmt.Errorf("failed to generate random bytes: %w", err)
		}
		for _, b := range buf {
			if b >= limit {
				continue
			}
			token = append(token, tokenAlphabet[int(b)%len(tokenAlphabet)])
			if len(token) == TokenLength {
				break
			}
		}
	}

	return string(token), nil
}
