// Package domain contains the domain models shared by the licensing
// authority and its tooling.
package domain

import (
	"time"
)

// Entitlement describes what the authority answers for one package.
type Entitlement struct {
	PackageID string `yaml:"package_id" json:"package_id" validate:"required"`
	Licensed  bool   `yaml:"licensed" json:"licensed"`
	// Validity is how long a Licensed verdict may be cached (VT).
	Validity time.Duration `yaml:"validity" json:"validity" validate:"min=0"`
	// Grace is how long Retry verdicts are tolerated after a check (GT).
	Grace time.Duration `yaml:"grace" json:"grace" validate:"min=0"`
	// MaxRetries is how many consecutive Retry verdicts are tolerated (GR).
	MaxRetries int `yaml:"max_retries" json:"max_retries" validate:"min=0"`
	// Users restricts Licensed answers to these user ids. Empty means anyone.
	Users []string `yaml:"users" json:"users,omitempty"`
}

// EntitlementSet is the on-disk entitlements document.
type EntitlementSet struct {
	Packages []Entitlement `yaml:"packages" json:"packages" validate:"dive"`
}

// AllowsUser reports whether userID may receive a Licensed verdict.
func (e Entitlement) AllowsUser(userID string) bool {
	if len(e.Users) == 0 {
		return true
	}
	for _, u := range e.Users {
		if u == userID {
			return true
		}
	}
	return false
}
