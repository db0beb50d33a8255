// Package mfa implements the second-factor primitives: TOTP enrollment
// and verification, and single-use backup codes.
package mfa

import (
	"strings"

	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"
)

const issuer = "MoodMash"

// Enrollment is the output of a new TOTP enrollment. Secret is shown to
// the user once and stored on the account; URL is the otpauth:// URI
// rendered as a QR code by the client.
type Enrollment struct {
	Secret string
	URL    string
}

// NewEnrollment generates a fresh TOTP secret for the given account.
func NewEnrollment(accountName string) (*Enrollment, error) {
	key, err := totp.Generate(totp.GenerateOpts{
		Issuer:      issuer,
		AccountName: accountName,
		Algorithm:   otp.AlgorithmSHA1,
	})
	if err != nil {
		return nil, err
	}
	return &Enrollment{
		Secret: key.Secret(),
		URL:    key.URL(),
	}, nil
}

// ValidateTOTP checks a user-supplied passcode against the stored
// secret. The library tolerates one time-step of clock skew in either
// direction.
func ValidateTOTP(code, secret string) bool {
	return totp.Validate(normalizeCode(code), secret)
}

func normalizeCode(code string) string {
	return strings.TrimSpace(strings.ReplaceAll(code, " ", ""))
}
