package verifier

import "fmt"

// ResponseCode is the status the licensing authority attaches to a response.
type ResponseCode int

// Server response codes. The values are part of the wire format.
const (
	Licensed              ResponseCode = 0x0
	NotLicensed           ResponseCode = 0x1
	LicensedOldKey        ResponseCode = 0x2
	NotMarketManaged      ResponseCode = 0x3
	ServerFailure         ResponseCode = 0x4
	OverQuota             ResponseCode = 0x5
	ErrorContactingServer ResponseCode = 0x101
	InvalidPackageName    ResponseCode = 0x102
	NonMatchingUID        ResponseCode = 0x103
)

func (c ResponseCode) String() string {
	switch c {
	case Licensed:
		return "LICENSED"
	case NotLicensed:
		return "NOT_LICENSED"
	case LicensedOldKey:
		return "LICENSED_OLD_KEY"
	case NotMarketManaged:
		return "NOT_MARKET_MANAGED"
	case ServerFailure:
		return "SERVER_FAILURE"
	case OverQuota:
		return "OVER_QUOTA"
	case ErrorContactingServer:
		return "ERROR_CONTACTING_SERVER"
	case InvalidPackageName:
		return "INVALID_PACKAGE_NAME"
	case NonMatchingUID:
		return "NON_MATCHING_UID"
	default:
		return fmt.Sprintf("UNKNOWN(%#x)", int(c))
	}
}

// signed reports whether responses with this code carry signed data.
func (c ResponseCode) signed() bool {
	return c == Licensed || c == NotLicensed || c == LicensedOldKey
}
