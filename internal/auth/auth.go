// Package auth verifies the credentials presented on REST calls and at
// websocket connect, and issues local tokens.
package auth

import (
	"context"
	"errors"
	"strings"
)

// ErrInvalidCredential is returned for missing, malformed, expired or unknown credentials
var ErrInvalidCredential = errors.New("invalid or expired credential")

// Verifier resolves a bearer credential to a local user id
type Verifier interface {
	Verify(ctx context.Context, token string) (uint, error)
}

// Chain tries each verifier in order and accepts the first success
type Chain []Verifier

func (c Chain) Verify(ctx context.Context, token string) (uint, error) {
	for _, v := range c {
		if v == nil {
			continue
		}
		if id, err := v.Verify(ctx, token); err == nil {
			return id, nil
		}
	}
	return 0, ErrInvalidCredential
}

// BearerToken extracts the token from an "Authorization: Bearer <token>" header value
func BearerToken(header string) (string, bool) {
	parts := strings.SplitN(strings.TrimSpace(header), " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
		return "", false
	}
	token := strings.TrimSpace(parts[1])
	return token, token != ""
}
