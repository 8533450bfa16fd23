package license

import (
	"crypto"
	"time"
)

// Policy turns server verdicts into an access decision.
type Policy interface {
	// ProcessServerResponse records the outcome of one resolved check.
	// Implementations must never fail; malformed extras degrade to
	// conservative defaults.
	ProcessServerResponse(v Verdict, extras Extras)
	// AllowAccess reports whether the installation may run right now.
	AllowAccess() bool
}

// Channel is the transport that carries verification requests to the
// licensing authority.
type Channel interface {
	// Establish starts connecting and reports readiness through events,
	// possibly from another goroutine. A returned error means establishment
	// failed synchronously and no event will follow.
	Establish(events ConnectionEvents) error
	// SendCheck dispatches one verification request. A returned error means
	// the request never left and sink will not be called.
	SendCheck(nonce int32, packageID string, sink ResultSink) error
	// Release tears the connection down. It is safe to call more than once.
	Release()
}

// ConnectionEvents receives channel lifecycle notifications.
type ConnectionEvents interface {
	Connected()
	Disconnected(err error)
}

// ResultSink receives the outcome of one dispatched request.
type ResultSink interface {
	Deliver(resp ServerResponse)
	Fail(err error)
}

// ServerResponse is the raw, still untrusted, answer to a verification request.
type ServerResponse struct {
	Code       int
	SignedData string
	Signature  string
}

// VerifyRequest bundles everything a Verifier needs to trust a response.
type VerifyRequest struct {
	PublicKey    crypto.PublicKey
	Nonce        int32
	PackageID    string
	VersionLabel string
	Response     ServerResponse
	Now          time.Time
}

// Verifier checks signature, nonce, package and version of a response and
// maps it to a Verdict. Every failure must map to a Verdict.
type Verifier interface {
	Verify(req VerifyRequest) (Verdict, Extras)
}

// KeyValidator is implemented by verifiers that only accept certain public
// keys. NewChecker rejects a key the verifier cannot use.
type KeyValidator interface {
	ValidateKey(key crypto.PublicKey) error
}

// PreferenceStore is the persistent, optionally obfuscated, string store
// used by ServerManagedPolicy.
type PreferenceStore interface {
	GetString(key, def string) string
	PutString(key, value string)
	// Commit atomically flushes every pending PutString.
	Commit() error
}
