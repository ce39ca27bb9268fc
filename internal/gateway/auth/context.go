package auth

import (
	"context"

	"github.com/fairwaylabs/mcp-gateway/internal/shared/models"
)

// recordContextKey keys the resolved AuthRecord in the request context.
// An empty struct type cannot collide with keys from other packages.
type recordContextKey struct{}

// credentialContextKey keys the raw credential, needed by the dispatcher to
// invalidate the cache when a downstream call reveals revocation.
type credentialContextKey struct{}

// WithRecord stores the resolved AuthRecord in the context.
func WithRecord(ctx context.Context, record *models.AuthRecord) context.Context {
	if record == nil {
		return ctx
	}
	return context.WithValue(ctx, recordContextKey{}, record)
}

// RecordFromContext retrieves the AuthRecord set by the auth middleware.
func RecordFromContext(ctx context.Context) (*models.AuthRecord, bool) {
	record, ok := ctx.Value(recordContextKey{}).(*models.AuthRecord)
	return record, ok
}

// WithCredential stores the raw credential in the context.
func WithCredential(ctx context.Context, credential string) context.Context {
	return context.WithValue(ctx, credentialContextKey{}, credential)
}

// CredentialFromContext retrieves the raw credential.
func CredentialFromContext(ctx context.Context) (string, bool) {
	credential, ok := ctx.Value(credentialContextKey{}).(string)
	return credential, ok
}
