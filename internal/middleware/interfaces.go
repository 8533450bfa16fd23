package middleware

import (
	"context"

	"licensecheck/internal/license"
)

// LicenseChecker is the part of license.Checker the gate needs
type LicenseChecker interface {
	AllowAccess() bool
	Check(ctx context.Context) (license.Result, error)
}
