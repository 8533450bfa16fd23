package license

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseVerdict(t *testing.T) {
	tests := []struct {
		in   string
		want Verdict
	}{
		{"2954", Licensed},
		{"435", NotLicensed},
		{"3144", Retry},
		{"0", Retry},
		{"", Retry},
		{"licensed", Retry},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, ParseVerdict(tt.in))
		})
	}
}

func TestVerdictString(t *testing.T) {
	assert.Equal(t, "LICENSED", Licensed.String())
	assert.Equal(t, "NOT_LICENSED", NotLicensed.String())
	assert.Equal(t, "RETRY", Retry.String())
	assert.Equal(t, "UNKNOWN(7)", Verdict(7).String())
	assert.False(t, Verdict(7).Valid())
}

func TestParseExtras(t *testing.T) {
	extras := ParseExtras("VT=1700000000000&GT=1700000600000&GR=10&UT=1")
	assert.Equal(t, "1700000000000", extras.Get(ExtraValidityTimestamp))
	assert.Equal(t, "1700000600000", extras.Get(ExtraRetryUntil))
	assert.Equal(t, "10", extras.Get(ExtraMaxRetries))
	assert.Equal(t, "1", extras.Get("UT"))

	assert.Empty(t, ParseExtras(""))
	assert.Empty(t, ParseExtras("%zz"))

	partial := ParseExtras("VT=1700000000000&GR=%zz&GT=1700000600000")
	assert.Equal(t, Extras{ExtraValidityTimestamp: "1700000000000", ExtraRetryUntil: "1700000600000"}, partial,
		"a malformed pair does not discard the others")

	var nilExtras Extras
	assert.Equal(t, "", nilExtras.Get(ExtraValidityTimestamp))

	assert.Equal(t, extras, ParseExtras(extras.Encode()))
}

func TestErrorCodeNumbering(t *testing.T) {
	codes := map[ErrorCode]string{
		1: "INVALID_PACKAGE_NAME",
		2: "NON_MATCHING_UID",
		3: "NOT_MARKET_MANAGED",
		4: "CHECK_IN_PROGRESS",
		5: "INVALID_PUBLIC_KEY",
		6: "MISSING_PERMISSION",
		7: "UNEXPECTED_SERVICE_FAILURE",
		8: "CHECKER_CLOSED",
	}
	for code, name := range codes {
		assert.Equal(t, name, code.String())
	}
	assert.Equal(t, ErrorCode(5), ErrorInvalidPublicKey)
	assert.Equal(t, ErrorCode(8), ErrorCheckerClosed)
}

func TestResultString(t *testing.T) {
	assert.Equal(t, "allowed(LICENSED)", Result{Kind: Allowed, Verdict: Licensed}.String())
	assert.Equal(t, "denied(RETRY)", Result{Kind: Denied, Verdict: Retry}.String())
	assert.Equal(t, "error(MISSING_PERMISSION)", Result{Kind: Errored, Error: ErrorMissingPermission}.String())
}
