package mfa

import (
	"strings"
	"testing"
	"time"

	"github.com/pquerna/otp/totp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewEnrollment(t *testing.T) {
	enr, err := NewEnrollment("alice@example.com")
	require.NoError(t, err)

	assert.NotEmpty(t, enr.Secret)
	assert.True(t, strings.HasPrefix(enr.URL, "otpauth://totp/"), "URL should be an otpauth URI, got %s", enr.URL)
	assert.Contains(t, enr.URL, "MoodMash:alice@example.com")
	assert.Contains(t, enr.URL, "issuer=MoodMash")
}

func TestValidateTOTP(t *testing.T) {
	enr, err := NewEnrollment("alice@example.com")
	require.NoError(t, err)

	code, err := totp.GenerateCode(enr.Secret, time.Now())
	require.NoError(t, err)

	assert.True(t, ValidateTOTP(code, enr.Secret))
	assert.True(t, ValidateTOTP(" "+code[:3]+" "+code[3:]+" ", enr.Secret), "spaces should be ignored")
	assert.False(t, ValidateTOTP("000000", enr.Secret))
	assert.False(t, ValidateTOTP("", enr.Secret))
	assert.False(t, ValidateTOTP(code, "WRONGSECRET234567"))
}

func TestValidateTOTP_RejectsStaleCode(t *testing.T) {
	enr, err := NewEnrollment("alice@example.com")
	require.NoError(t, err)

	// A code from ten minutes ago is far outside the skew window.
	stale, err := totp.GenerateCode(enr.Secret, time.Now().Add(-10*time.Minute))
	require.NoError(t, err)
	assert.False(t, ValidateTOTP(stale, enr.Secret))
}

func TestGenerateBackupCodes(t *testing.T) {
	plaintext, hashed, err := GenerateBackupCodes(BackupCodeCount)
	require.NoError(t, err)
	require.Len(t, plaintext, BackupCodeCount)
	require.Len(t, hashed, BackupCodeCount)

	seen := make(map[string]bool)
	for i, code := range plaintext {
		assert.Regexp(t, `^[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{4}$`, code)
		assert.False(t, seen[code], "codes must be unique")
		seen[code] = true
		assert.NotContains(t, hashed[i].Hash, code[:4], "plaintext must not appear in the stored hash")
		assert.False(t, hashed[i].Used)
	}
}

func TestConsumeBackupCode_SingleUse(t *testing.T) {
	plaintext, hashed, err := GenerateBackupCodes(3)
	require.NoError(t, err)

	require.True(t, ConsumeBackupCode(hashed, plaintext[1]))
	assert.True(t, hashed[1].Used)
	assert.Equal(t, 2, CountUnusedBackupCodes(hashed))

	// The same code must not verify twice.
	assert.False(t, ConsumeBackupCode(hashed, plaintext[1]))
	assert.Equal(t, 2, CountUnusedBackupCodes(hashed))
}

func TestConsumeBackupCode_NormalisesInput(t *testing.T) {
	plaintext, hashed, err := GenerateBackupCodes(1)
	require.NoError(t, err)

	undashed := strings.ToUpper(strings.ReplaceAll(plaintext[0], "-", ""))
	assert.True(t, ConsumeBackupCode(hashed, undashed), "dashes and case should not matter")
}

func TestConsumeBackupCode_Miss(t *testing.T) {
	_, hashed, err := GenerateBackupCodes(3)
	require.NoError(t, err)

	assert.False(t, ConsumeBackupCode(hashed, "0000-0000-0000"))
	assert.Equal(t, 3, CountUnusedBackupCodes(hashed))
}
