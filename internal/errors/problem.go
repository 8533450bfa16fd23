package errors

import (
	"net/http"

	"github.com/go-chi/render"
)

// Problem types (RFC 7807 "type" member)
const (
	TypeValidation      = "urn:licensecheck:problem:validation"
	TypeNotFound        = "urn:licensecheck:problem:not-found"
	TypeMethod          = "urn:licensecheck:problem:method-not-allowed"
	TypeForbidden       = "urn:licensecheck:problem:forbidden"
	TypeRateLimit       = "urn:licensecheck:problem:rate-limit"
	TypeInternal        = "urn:licensecheck:problem:internal"
	TypeServiceDown     = "urn:licensecheck:problem:service-unavailable"
	TypeTimeout         = "urn:licensecheck:problem:timeout"
	TypeLicenseRequired = "urn:licensecheck:problem:license-required"
	TypeLicenseCheck    = "urn:licensecheck:problem:license-check-failed"
)

// Problem is an RFC 7807 problem document. The members after Instance are
// extensions and are omitted when empty.
type Problem struct {
	Type     string `json:"type"`
	Title    string `json:"title"`
	Status   int    `json:"status"`
	Detail   string `json:"detail,omitempty"`
	Instance string `json:"instance,omitempty"`

	ErrorCode string      `json:"error_code,omitempty"`
	TraceID   string      `json:"trace_id,omitempty"`
	Details   interface{} `json:"details,omitempty"`
	Panic     string      `json:"panic,omitempty"`
	Stack     string      `json:"stack,omitempty"`
}

// Render implements render.Renderer.
func (p *Problem) Render(w http.ResponseWriter, r *http.Request) error {
	render.Status(r, p.Status)
	return nil
}

// newProblem fills the standard members; the title is the status text.
func newProblem(status int, problemType, detail string, r *http.Request) *Problem {
	return &Problem{
		Type:     problemType,
		Title:    http.StatusText(status),
		Status:   status,
		Detail:   detail,
		Instance: r.URL.Path,
	}
}

// problemTypeFor maps an API error code to its problem type.
var problemTypeFor = map[string]string{
	CodeInvalidRequest:     TypeValidation,
	CodeValidationFailed:   TypeValidation,
	CodeLicenseRequired:    TypeLicenseRequired,
	CodeLicenseCheckFailed: TypeLicenseCheck,
	CodeRateLimitExceeded:  TypeRateLimit,
	CodeServiceUnavailable: TypeServiceDown,
}
