package api

import "time"

// CheckResponse carries the authority's signed answer. SignedData and
// Signature are empty for codes that are not signed.
type CheckResponse struct {
	ResponseCode int    `json:"response_code"`
	SignedData   string `json:"signed_data,omitempty"`
	Signature    string `json:"signature,omitempty"`
}

// HealthResponse is returned by the authority's health endpoint.
type HealthResponse struct {
	Status    string    `json:"status"`
	Version   string    `json:"version"`
	Timestamp time.Time `json:"timestamp"`
}
