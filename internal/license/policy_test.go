package license

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStrictPolicy(t *testing.T) {
	tests := []struct {
		name     string
		verdicts []Verdict
		want     bool
	}{
		{"fresh policy", nil, false},
		{"licensed", []Verdict{Licensed}, true},
		{"not licensed", []Verdict{NotLicensed}, false},
		{"retry after licensed", []Verdict{Licensed, Retry}, false},
		{"licensed after retry", []Verdict{Retry, Licensed}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			policy := NewStrictPolicy()
			for _, v := range tt.verdicts {
				policy.ProcessServerResponse(v, Extras{ExtraValidityTimestamp: "1"})
			}
			assert.Equal(t, tt.want, policy.AllowAccess())
		})
	}
}

func TestStrictPolicyLastResponse(t *testing.T) {
	policy := NewStrictPolicy()
	assert.Equal(t, Retry, policy.LastResponse())

	policy.ProcessServerResponse(NotLicensed, nil)
	assert.Equal(t, NotLicensed, policy.LastResponse())
}
