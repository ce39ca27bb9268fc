package models

import "time"

// AuthRecord is the result of validating a gateway credential against the
// backend's key-validation endpoint. Records are created by the validator,
// copied into the credential cache, and read-only everywhere else.
type AuthRecord struct {
	UserID      string
	UserName    string
	UserEmail   string
	KeyID       string
	Scopes      []string
	ValidatedAt time.Time
}

// HasScope reports whether the record grants the named scope.
func (r *AuthRecord) HasScope(scope string) bool {
	for _, s := range r.Scopes {
		if s == scope {
			return true
		}
	}
	return false
}

// AuditRecord captures one terminal dispatch outcome.
type AuditRecord struct {
	ID        string
	Tool      string
	UserID    string
	KeyID     string
	ClientIP  string
	Success   bool
	ErrorKind string
	LatencyMs int
	CreatedAt time.Time
}
