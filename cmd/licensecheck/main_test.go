package main

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"

	"licensecheck/internal/license"
)

func TestExitCode(t *testing.T) {
	tests := []struct {
		name   string
		result license.Result
		err    error
		want   int
	}{
		{"allowed", license.Result{Kind: license.Allowed, Verdict: license.Licensed}, nil, exitAllowed},
		{"allowed on retry", license.Result{Kind: license.Allowed, Verdict: license.Retry}, nil, exitAllowed},
		{"denied", license.Result{Kind: license.Denied, Verdict: license.NotLicensed}, nil, exitDenied},
		{"application error", license.Result{Kind: license.Errored, Error: license.ErrorInvalidPackageName}, nil, exitApplicationError},
		{"incomplete", license.Result{}, context.DeadlineExceeded, exitFailure},
		{"closed", license.Result{}, license.ErrCheckerClosed, exitFailure},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, exitCode(tt.result, tt.err))
		})
	}
}

func TestRunUsage(t *testing.T) {
	var stdout, stderr bytes.Buffer
	assert.Equal(t, exitFailure, run(nil, &stdout, &stderr))
	assert.Contains(t, stderr.String(), "usage")

	stderr.Reset()
	assert.Equal(t, exitFailure, run([]string{"bogus"}, &stdout, &stderr))

	assert.Equal(t, exitAllowed, run([]string{"version"}, &stdout, &stderr))
	assert.Contains(t, stdout.String(), "licensecheck")
}

func TestRunCheckRejectsBadFlags(t *testing.T) {
	var stdout, stderr bytes.Buffer
	assert.Equal(t, exitFailure, run([]string{"check", "-timeout", "soon"}, &stdout, &stderr))
}
