package http

import (
	"context"

	"licensecheck/internal/license"
	api "licensecheck/pkg/contracts/api/v1"
)

// CheckIssuer answers check requests with a (possibly signed) response.
type CheckIssuer interface {
	Issue(ctx context.Context, req api.CheckRequest) (license.ServerResponse, error)
}

// CheckerStatus is the part of the checker the status endpoint reads.
type CheckerStatus interface {
	AllowAccess() bool
	Stats(ctx context.Context) (license.Stats, error)
}

// PolicyState exposes the last verdict of a policy.
type PolicyState interface {
	LastResponse() license.Verdict
}

// ServerManagedState exposes the server-managed policy's stored limits.
type ServerManagedState interface {
	PolicyState
	ValidityTimestamp() int64
	RetryUntil() int64
	MaxRetries() int64
	RetryCount() int64
}
