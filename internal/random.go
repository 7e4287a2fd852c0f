package internal

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"math/big"
	"strings"
)

const tokenRawSize = 24

// NewToken returns an opaque, URL-safe random token used for transaction ids,
// MFA setup handles, and OTP handles.
func NewToken() (string, error) {
	var raw [tokenRawSize]byte
	if _, err := rand.Read(raw[:]); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(raw[:]), nil
}

// NewOTP returns a numeric one-time code with the given digit count.
func NewOTP(digits int) (string, error) {
	if digits < 6 || digits > 10 {
		return "", errors.New("invalid otp digits")
	}

	var b strings.Builder
	b.Grow(digits)

	max := big.NewInt(10)
	for i := 0; i < digits; i++ {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", err
		}
		b.WriteByte(byte('0' + n.Int64()))
	}

	otp := b.String()
	if len(otp) != digits {
		return "", fmt.Errorf("invalid otp generation length")
	}
	return otp, nil
}

// HashCode returns the stored form of a one-time or backup code. Codes are
// never persisted in the clear.
func HashCode(code string) string {
	sum := sha256.Sum256([]byte(code))
	return base64.RawURLEncoding.EncodeToString(sum[:])
}

// DeviceFingerprint derives the stable device identity recorded in the
// known-device set. The IP is deliberately excluded so roaming clients keep
// their device identity.
func DeviceFingerprint(userID, userAgent string) string {
	sum := sha256.Sum256([]byte(userID + "\x00" + userAgent))
	return base64.RawURLEncoding.EncodeToString(sum[:16])
}
