package main

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"licensecheck/internal/verifier"
)

func TestKeygenPrintsMatchingPair(t *testing.T) {
	var stdout, stderr bytes.Buffer
	require.Equal(t, 0, run([]string{"keygen"}, &stdout, &stderr))

	values := map[string]string{}
	for _, line := range strings.Split(strings.TrimSpace(stdout.String()), "\n") {
		name, value, ok := strings.Cut(line, "=")
		require.True(t, ok, line)
		values[name] = value
	}

	private, err := verifier.ParsePrivateKey(values["LICENSED_ISSUER_PRIVATE_KEY"])
	require.NoError(t, err)
	public, err := verifier.ParsePublicKey(values["LICENSECHECK_CHECKER_PUBLIC_KEY"])
	require.NoError(t, err)
	assert.True(t, private.PublicKey.Equal(public))
}

func TestRunUnknownCommand(t *testing.T) {
	var stdout, stderr bytes.Buffer
	assert.Equal(t, 1, run([]string{"bogus"}, &stdout, &stderr))
	assert.Contains(t, stderr.String(), "usage")
}
