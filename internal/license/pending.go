package license

import (
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Callback receives exactly one outcome per requested check.
// Methods are invoked on the Checker's worker goroutine and must not block.
type Callback interface {
	Allow(v Verdict)
	DontAllow(v Verdict)
	ApplicationError(code ErrorCode)
}

// ResultKind tags a Result.
type ResultKind int

const (
	Allowed ResultKind = iota + 1
	Denied
	Errored
)

func (k ResultKind) String() string {
	switch k {
	case Allowed:
		return "allowed"
	case Denied:
		return "denied"
	case Errored:
		return "error"
	default:
		return "unknown"
	}
}

// Result is the tagged outcome of a check: Allowed(verdict), Denied(verdict)
// or Errored(error code).
type Result struct {
	Kind    ResultKind
	Verdict Verdict
	Error   ErrorCode
}

func (r Result) String() string {
	if r.Kind == Errored {
		return fmt.Sprintf("%s(%s)", r.Kind, r.Error)
	}
	return fmt.Sprintf("%s(%s)", r.Kind, r.Verdict)
}

// resultCallback adapts a buffered channel to Callback.
type resultCallback chan Result

func (c resultCallback) Allow(v Verdict)     { c <- Result{Kind: Allowed, Verdict: v} }
func (c resultCallback) DontAllow(v Verdict) { c <- Result{Kind: Denied, Verdict: v} }
func (c resultCallback) ApplicationError(code ErrorCode) {
	c <- Result{Kind: Errored, Error: code}
}

// CallbackFunc adapts a single function to Callback.
type CallbackFunc func(Result)

func (f CallbackFunc) Allow(v Verdict)                 { f(Result{Kind: Allowed, Verdict: v}) }
func (f CallbackFunc) DontAllow(v Verdict)             { f(Result{Kind: Denied, Verdict: v}) }
func (f CallbackFunc) ApplicationError(code ErrorCode) { f(Result{Kind: Errored, Error: code}) }

// PendingCheck is one requested verification, owned by the Checker from
// creation until it resolves.
type PendingCheck struct {
	id           string
	nonce        int32
	packageID    string
	versionLabel string
	callback     Callback
	createdAt    time.Time
}

func newPendingCheck(nonce int32, packageID, versionLabel string, cb Callback, now time.Time) *PendingCheck {
	return &PendingCheck{
		id:           uuid.NewString(),
		nonce:        nonce,
		packageID:    packageID,
		versionLabel: versionLabel,
		callback:     cb,
		createdAt:    now,
	}
}

func (p *PendingCheck) ID() string           { return p.id }
func (p *PendingCheck) Nonce() int32         { return p.nonce }
func (p *PendingCheck) PackageID() string    { return p.packageID }
func (p *PendingCheck) VersionLabel() string { return p.versionLabel }
func (p *PendingCheck) Callback() Callback   { return p.callback }
func (p *PendingCheck) CreatedAt() time.Time { return p.createdAt }

// generateNonce returns a random 32-bit value.
func generateNonce() (int32, error) {
	var buf [4]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return 0, fmt.Errorf("generate nonce: %w", err)
	}
	return int32(binary.BigEndian.Uint32(buf[:])), nil
}
