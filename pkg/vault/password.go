package vault

import (
	"crypto/subtle"
	"fmt"
	"regexp"
	"unicode/utf8"

	"github.com/forest6511/keylight/pkg/crypto"
)

// Password validation constants
const (
	MinPasswordLength = 16
	MaxPasswordLength = crypto.MaxPasswordBytes
)

var (
	upperRe   = regexp.MustCompile(`[A-Z]`)
	lowerRe   = regexp.MustCompile(`[a-z]`)
	digitRe   = regexp.MustCompile(`\d`)
	specialRe = regexp.MustCompile(`[!@#$%^&*(),.?":{}|<>\-_=+\[\]\;'~/\x60 ]`)
)

// PasswordStrength represents the strength level of a password
type PasswordStrength int

const (
	PasswordWeak PasswordStrength = iota
	PasswordFair
	PasswordGood
	PasswordStrong
)

// String returns a human-readable representation of password strength
func (s PasswordStrength) String() string {
	switch s {
	case PasswordWeak:
		return "weak"
	case PasswordFair:
		return "fair"
	case PasswordGood:
		return "good"
	case PasswordStrong:
		return "strong"
	default:
		return "unknown"
	}
}

// PasswordValidationResult contains the result of password validation
type PasswordValidationResult struct {
	Valid    bool             // Whether password meets minimum requirements
	Strength PasswordStrength // Estimated strength
	Warnings []string         // Suggestions for improvement (not errors)
}

// shortPasswordNotice is the message shown for passwords under minLength.
func shortPasswordNotice(minLength int) string {
	return fmt.Sprintf("Please make your Master password at least %d characters long", minLength)
}

// ValidateMasterPassword checks a master password without copying it into a
// string. Length is counted in characters; complexity only produces warnings.
func ValidateMasterPassword(password []byte, minLength int) *PasswordValidationResult {
	if minLength < MinPasswordLength {
		minLength = MinPasswordLength
	}
	result := &PasswordValidationResult{
		Valid:    true,
		Strength: PasswordFair,
	}

	n := utf8.RuneCount(password)
	if n < minLength {
		result.Valid = false
		result.Strength = PasswordWeak
		result.Warnings = append(result.Warnings, shortPasswordNotice(minLength))
		return result
	}
	if len(password) > MaxPasswordLength {
		result.Valid = false
		result.Strength = PasswordWeak
		result.Warnings = append(result.Warnings,
			fmt.Sprintf("Password must be at most %d bytes", MaxPasswordLength))
		return result
	}

	complexity := 0
	for _, re := range []*regexp.Regexp{upperRe, lowerRe, digitRe, specialRe} {
		if re.Match(password) {
			complexity++
		}
	}
	if complexity < 2 {
		result.Warnings = append(result.Warnings,
			"Consider using a mix of uppercase, lowercase, numbers, and symbols")
	}

	switch {
	case complexity >= 3 && n >= 20:
		result.Strength = PasswordStrong
	case complexity >= 2:
		result.Strength = PasswordGood
	default:
		result.Strength = PasswordFair
	}
	return result
}

// ConfirmPassword reports whether two typed passwords match, in constant time.
func ConfirmPassword(password, confirm []byte) error {
	if subtle.ConstantTimeCompare(password, confirm) != 1 {
		return stepErr(ErrPasswordMismatch, "confirm password", "Passwords do not match", nil)
	}
	return nil
}
