package authority

import (
	"errors"
	"fmt"
	"os"
	"sync"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v2"

	"licensecheck/pkg/contracts/domain"
)

// ErrDuplicatePackage is returned when an entitlements document lists a
// package more than once.
var ErrDuplicatePackage = errors.New("duplicate package in entitlements")

// Registry holds the current entitlements keyed by package id. It can be
// replaced atomically while requests are served.
type Registry struct {
	mu       sync.RWMutex
	packages map[string]domain.Entitlement
}

// NewRegistry builds a registry from set after validating it.
func NewRegistry(set domain.EntitlementSet) (*Registry, error) {
	r := &Registry{}
	if err := r.Replace(set); err != nil {
		return nil, err
	}
	return r, nil
}

// LoadRegistry reads and validates the YAML entitlements file at path.
func LoadRegistry(path string) (*Registry, error) {
	set, err := ReadEntitlements(path)
	if err != nil {
		return nil, err
	}
	return NewRegistry(set)
}

// ReadEntitlements parses the YAML entitlements file at path.
func ReadEntitlements(path string) (domain.EntitlementSet, error) {
	var set domain.EntitlementSet
	data, err := os.ReadFile(path)
	if err != nil {
		return set, fmt.Errorf("read entitlements: %w", err)
	}
	if err := yaml.Unmarshal(data, &set); err != nil {
		return set, fmt.Errorf("parse entitlements %s: %w", path, err)
	}
	return set, nil
}

// Replace swaps in a new entitlement set. The current set is kept when set
// is invalid.
func (r *Registry) Replace(set domain.EntitlementSet) error {
	if err := validator.New().Struct(set); err != nil {
		return fmt.Errorf("invalid entitlements: %w", err)
	}

	packages := make(map[string]domain.Entitlement, len(set.Packages))
	for _, e := range set.Packages {
		if _, dup := packages[e.PackageID]; dup {
			return fmt.Errorf("%w: %s", ErrDuplicatePackage, e.PackageID)
		}
		packages[e.PackageID] = e
	}

	r.mu.Lock()
	r.packages = packages
	r.mu.Unlock()
	return nil
}

// Lookup returns the entitlement for packageID.
func (r *Registry) Lookup(packageID string) (domain.Entitlement, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.packages[packageID]
	return e, ok
}

// Len reports how many packages are registered.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.packages)
}
