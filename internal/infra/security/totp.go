package security

import (
	"fmt"

	"github.com/pquerna/otp/totp"
)

// TOTPKey is the result of provisioning a new time-based one-time-code secret.
type TOTPKey struct {
	// Secret is the base32-encoded shared secret persisted on the enrollment.
	Secret string
	// URL is the otpauth:// provisioning URI the authenticator app consumes.
	URL string
}

// GenerateTOTPKey provisions a fresh shared secret for the standard 30s
// time-step one-time-code algorithm.
func GenerateTOTPKey(issuer, accountName string) (*TOTPKey, error) {
	key, err := totp.Generate(totp.GenerateOpts{
		Issuer:      issuer,
		AccountName: accountName,
	})
	if err != nil {
		return nil, fmt.Errorf("generate totp key: %w", err)
	}

	return &TOTPKey{Secret: key.Secret(), URL: key.URL()}, nil
}

// ValidateTOTP checks the code against the shared secret for the current
// time step (with the library's default one-step skew).
func ValidateTOTP(code, secret string) bool {
	if code == "" || secret == "" {
		return false
	}
	return totp.Validate(code, secret)
}
