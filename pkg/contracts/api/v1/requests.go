// Package api contains the wire contract between license checkers and the
// licensing authority. Version v1 is served under /v1.
package api

// Paths served by the licensing authority
const (
	HealthPath = "/v1/health"
	ChecksPath = "/v1/checks"
)

// CheckRequest asks the authority to sign a verdict for one installation.
type CheckRequest struct {
	Nonce        int32  `json:"nonce"`
	PackageID    string `json:"package_id" validate:"required,max=255"`
	VersionLabel string `json:"version_label" validate:"max=64"`
	UserID       string `json:"user_id,omitempty" validate:"omitempty,max=128"`
}
