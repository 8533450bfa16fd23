package license

import (
	"fmt"
	"net/url"
	"strconv"
)

// Verdict is the tri-state outcome of a license check.
type Verdict int

// Verdict codes are stable and persisted as decimal strings.
const (
	Licensed    Verdict = 0x0B8A
	NotLicensed Verdict = 0x01B3
	Retry       Verdict = 0x0C48
)

// Keys of the server supplied extras consumed by ServerManagedPolicy.
const (
	ExtraValidityTimestamp = "VT"
	ExtraRetryUntil        = "GT"
	ExtraMaxRetries        = "GR"
)

func (v Verdict) String() string {
	switch v {
	case Licensed:
		return "LICENSED"
	case NotLicensed:
		return "NOT_LICENSED"
	case Retry:
		return "RETRY"
	default:
		return fmt.Sprintf("UNKNOWN(%d)", int(v))
	}
}

// Valid reports whether v is one of the three known verdicts.
func (v Verdict) Valid() bool {
	return v == Licensed || v == NotLicensed || v == Retry
}

// ParseVerdict decodes a persisted decimal verdict code. Anything it does not
// recognise decodes as Retry, which never grants long-lived access.
func ParseVerdict(s string) Verdict {
	n, err := strconv.Atoi(s)
	if err != nil {
		return Retry
	}
	v := Verdict(n)
	if !v.Valid() {
		return Retry
	}
	return v
}

// Extras carries the optional key/value data attached to a server response.
type Extras map[string]string

// Get returns the value stored under key, or "" when absent or e is nil.
func (e Extras) Get(key string) string {
	if e == nil {
		return ""
	}
	return e[key]
}

// ParseExtras decodes the query-encoded extras segment of a signed response,
// e.g. "VT=1700000000000&GT=1700000600000&GR=10". Pairs are decoded one by
// one: a malformed pair is dropped and the well-formed ones are kept.
func ParseExtras(raw string) Extras {
	extras := Extras{}
	if raw == "" {
		return extras
	}
	// ParseQuery keeps decoding after a bad pair and returns what it decoded
	values, _ := url.ParseQuery(raw)
	for key, vals := range values {
		if len(vals) > 0 {
			extras[key] = vals[0]
		}
	}
	return extras
}

// Encode renders the extras in the query form understood by ParseExtras.
func (e Extras) Encode() string {
	values := url.Values{}
	for key, val := range e {
		values.Set(key, val)
	}
	return values.Encode()
}
