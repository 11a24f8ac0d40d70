package jobclient

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"
)

type (
	credentialKey       struct{}
	credentialExpiryKey struct{}
)

// WithCredential attaches the caller's bearer token to ctx. Requests made with
// ctx forward it to the backend unchanged.
func WithCredential(ctx context.Context, token string) context.Context {
	return context.WithValue(ctx, credentialKey{}, strings.TrimSpace(token))
}

// CredentialFromContext returns the bearer token, if any.
func CredentialFromContext(ctx context.Context) (string, bool) {
	token, ok := ctx.Value(credentialKey{}).(string)
	return token, ok && token != ""
}

// WithCredentialExpiry records when the credential in ctx stops being valid.
// Only set it for tokens whose expiry is actually known.
func WithCredentialExpiry(ctx context.Context, expiresAt time.Time) context.Context {
	return context.WithValue(ctx, credentialExpiryKey{}, expiresAt)
}

// CredentialScope identifies the credential in ctx without exposing it. ok is
// false when there is no credential, its expiry is unknown, or it has expired.
func CredentialScope(ctx context.Context, now time.Time) (scope string, expiresAt time.Time, ok bool) {
	token, hasToken := CredentialFromContext(ctx)
	expiresAt, hasExpiry := ctx.Value(credentialExpiryKey{}).(time.Time)
	if !hasToken || !hasExpiry || !now.Before(expiresAt) {
		return "", time.Time{}, false
	}
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:16]), expiresAt, true
}
