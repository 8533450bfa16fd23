// Package verifier authenticates licensing authority responses and maps
// them to license verdicts.
package verifier

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/sha256"
	"encoding/base64"
	"log/slog"

	"licensecheck/internal/license"
)

// SignatureVerifier implements license.Verifier for ECDSA P-256 signed
// responses.
type SignatureVerifier struct {
	logger *slog.Logger
}

// NewSignatureVerifier creates a verifier. A nil logger uses slog.Default.
func NewSignatureVerifier(logger *slog.Logger) *SignatureVerifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &SignatureVerifier{logger: logger.With(slog.String("component", "license_verifier"))}
}

// ValidateKey implements license.KeyValidator: only ECDSA P-256 public keys
// can authenticate responses.
func (v *SignatureVerifier) ValidateKey(key crypto.PublicKey) error {
	pub, ok := key.(*ecdsa.PublicKey)
	if !ok || pub == nil || pub.Curve != elliptic.P256() {
		return ErrInvalidKey
	}
	return nil
}

// Verify checks the signature and echoed request fields, then maps the
// response code. Every failure is reported as NotLicensed; only transient
// server conditions map to Retry.
func (v *SignatureVerifier) Verify(req license.VerifyRequest) (license.Verdict, license.Extras) {
	code := ResponseCode(req.Response.Code)
	log := v.logger.With(
		slog.String("response_code", code.String()),
		slog.String("package_id", req.PackageID),
	)

	var extras license.Extras
	if code.signed() {
		data, ok := v.authenticate(log, req)
		if !ok {
			return license.NotLicensed, nil
		}
		extras = data.Extras
	}

	switch code {
	case Licensed, LicensedOldKey:
		return license.Licensed, extras
	case NotLicensed:
		return license.NotLicensed, nil
	case ServerFailure, OverQuota, ErrorContactingServer:
		log.Warn("licensing authority asked for a retry")
		return license.Retry, nil
	case InvalidPackageName, NonMatchingUID, NotMarketManaged:
		log.Error("licensing authority rejected the installation")
		return license.NotLicensed, nil
	default:
		log.Error("unknown response code")
		return license.NotLicensed, nil
	}
}

func (v *SignatureVerifier) authenticate(log *slog.Logger, req license.VerifyRequest) (ResponseData, bool) {
	pub, ok := req.PublicKey.(*ecdsa.PublicKey)
	if !ok || pub == nil {
		log.Error("no ECDSA public key configured for response verification")
		return ResponseData{}, false
	}

	sig, err := base64.StdEncoding.DecodeString(req.Response.Signature)
	if err != nil {
		log.Error("signature is not valid base64")
		return ResponseData{}, false
	}
	hash := sha256.Sum256([]byte(req.Response.SignedData))
	if !ecdsa.VerifyASN1(pub, hash[:], sig) {
		log.Error("signature verification failed")
		return ResponseData{}, false
	}

	data, err := ParseResponseData(req.Response.SignedData)
	if err != nil {
		log.Error("could not parse response data", slog.String("error", err.Error()))
		return ResponseData{}, false
	}

	switch {
	case data.ResponseCode != ResponseCode(req.Response.Code):
		log.Error("response codes don't match")
	case data.Nonce != req.Nonce:
		log.Error("nonce doesn't match")
	case data.PackageName != req.PackageID:
		log.Error("package name doesn't match")
	case data.VersionCode != req.VersionLabel:
		log.Error("version codes don't match")
	case data.UserID == "":
		log.Error("user identifier is empty")
	default:
		return data, true
	}
	return ResponseData{}, false
}
