package verifier

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"licensecheck/internal/license"
)

// ErrMalformedResponse is returned when signed data cannot be parsed.
var ErrMalformedResponse = errors.New("malformed response data")

// ResponseData is the payload covered by the server's signature:
//
//	responseCode|nonce|packageName|versionCode|userId|timestamp[:extras]
type ResponseData struct {
	ResponseCode ResponseCode
	Nonce        int32
	PackageName  string
	VersionCode  string
	UserID       string
	Timestamp    int64
	Extras       license.Extras
}

// ParseResponseData decodes signed data. Fields beyond the sixth are ignored.
func ParseResponseData(s string) (ResponseData, error) {
	payload, extra, _ := strings.Cut(s, ":")

	fields := strings.Split(payload, "|")
	if len(fields) < 6 {
		return ResponseData{}, fmt.Errorf("%w: want 6 fields, got %d", ErrMalformedResponse, len(fields))
	}

	code, err := strconv.Atoi(fields[0])
	if err != nil {
		return ResponseData{}, fmt.Errorf("%w: response code: %v", ErrMalformedResponse, err)
	}
	nonce, err := strconv.ParseInt(fields[1], 10, 32)
	if err != nil {
		return ResponseData{}, fmt.Errorf("%w: nonce: %v", ErrMalformedResponse, err)
	}
	timestamp, err := strconv.ParseInt(fields[5], 10, 64)
	if err != nil {
		return ResponseData{}, fmt.Errorf("%w: timestamp: %v", ErrMalformedResponse, err)
	}

	return ResponseData{
		ResponseCode: ResponseCode(code),
		Nonce:        int32(nonce),
		PackageName:  fields[2],
		VersionCode:  fields[3],
		UserID:       fields[4],
		Timestamp:    timestamp,
		Extras:       license.ParseExtras(extra),
	}, nil
}

// String encodes d in the signed wire form.
func (d ResponseData) String() string {
	s := strings.Join([]string{
		strconv.Itoa(int(d.ResponseCode)),
		strconv.FormatInt(int64(d.Nonce), 10),
		d.PackageName,
		d.VersionCode,
		d.UserID,
		strconv.FormatInt(d.Timestamp, 10),
	}, "|")
	if len(d.Extras) > 0 {
		s += ":" + d.Extras.Encode()
	}
	return s
}
