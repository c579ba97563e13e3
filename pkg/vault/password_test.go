package vault

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateMasterPassword(t *testing.T) {
	tests := []struct {
		name     string
		password string
		valid    bool
		strength PasswordStrength
		warns    bool
	}{
		{"too short", "Short1!", false, PasswordWeak, true},
		{"fifteen characters", strings.Repeat("a", 15), false, PasswordWeak, true},
		{"single class", strings.Repeat("a", 16), true, PasswordFair, true},
		{"two classes", "abcdefghijklmno1", true, PasswordGood, false},
		{"three classes long", "Abcdefghijklmnopqrs1", true, PasswordStrong, false},
		{"passphrase", "apple~banana~cherry~damson", true, PasswordGood, false},
		{"multibyte", strings.Repeat("日本", 8), true, PasswordFair, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := ValidateMasterPassword([]byte(tt.password), MinPasswordLength)
			assert.Equal(t, tt.valid, r.Valid)
			assert.Equal(t, tt.strength, r.Strength)
			assert.Equal(t, tt.warns, len(r.Warnings) > 0, "warnings: %v", r.Warnings)
		})
	}
}

func TestValidateMasterPassword_TooLong(t *testing.T) {
	r := ValidateMasterPassword([]byte(strings.Repeat("a", MaxPasswordLength+1)), MinPasswordLength)
	assert.False(t, r.Valid)
}

func TestValidateMasterPassword_MinimumFloor(t *testing.T) {
	r := ValidateMasterPassword([]byte("twelve-chars"), 8)
	assert.False(t, r.Valid)
	assert.Equal(t, []string{"Please make your Master password at least 16 characters long"}, r.Warnings)

	r = ValidateMasterPassword([]byte(strings.Repeat("a", 18)), 20)
	assert.False(t, r.Valid)
}

func TestConfirmPassword(t *testing.T) {
	require.NoError(t, ConfirmPassword([]byte("same-password"), []byte("same-password")))

	err := ConfirmPassword([]byte("same-password"), []byte("same-passw0rd"))
	require.ErrorIs(t, err, ErrPasswordMismatch)
	assert.Equal(t, "Passwords do not match", noticeOf(err))
}

func TestPasswordStrength_String(t *testing.T) {
	assert.Equal(t, "weak", PasswordWeak.String())
	assert.Equal(t, "fair", PasswordFair.String())
	assert.Equal(t, "good", PasswordGood.String())
	assert.Equal(t, "strong", PasswordStrong.String())
	assert.Equal(t, "unknown", PasswordStrength(9).String())
}

func TestCode(t *testing.T) {
	err := stepErr(ErrCorruptKeyfile, "read keyfile", "", assert.AnError)
	assert.Equal(t, "corrupt_keyfile", Code(err))
	assert.ErrorIs(t, err, assert.AnError)
	assert.Equal(t, "Unexpected Error: corrupt_keyfile", noticeOf(err))
	assert.Equal(t, "unknown", Code(assert.AnError))
}
