package mfa

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/moodmash/authgate/storage"
)

const (
	// BackupCodeCount is the number of codes generated per batch.
	BackupCodeCount = 10
	// backupCodeByteLen is the number of random bytes per code
	// (6 bytes = 12 hex chars, formatted as XXXX-XXXX-XXXX).
	backupCodeByteLen = 6
)

// GenerateBackupCodes creates a batch of single-use backup codes. It
// returns the plaintext codes (displayed to the user exactly once) and
// their SHA-256 hashed counterparts for the user record.
func GenerateBackupCodes(count int) ([]string, []storage.HashedBackupCode, error) {
	plaintext := make([]string, count)
	hashed := make([]storage.HashedBackupCode, count)

	for i := 0; i < count; i++ {
		buf := make([]byte, backupCodeByteLen)
		if _, err := rand.Read(buf); err != nil {
			return nil, nil, fmt.Errorf("generating backup code: %w", err)
		}
		hexStr := hex.EncodeToString(buf)
		code := hexStr[:4] + "-" + hexStr[4:8] + "-" + hexStr[8:12]
		plaintext[i] = code
		hashed[i] = storage.HashedBackupCode{Hash: hashBackupCode(code)}
	}
	return plaintext, hashed, nil
}

// hashBackupCode computes the hex-encoded SHA-256 hash of a backup
// code, normalised to lowercase with dashes removed.
func hashBackupCode(code string) string {
	normalised := strings.ToLower(strings.ReplaceAll(code, "-", ""))
	sum := sha256.Sum256([]byte(normalised))
	return hex.EncodeToString(sum[:])
}

// ConsumeBackupCode checks the candidate against the stored codes using
// constant-time comparison and, on a match with an unused code, marks
// it used in place. It reports whether a code was consumed.
func ConsumeBackupCode(codes []storage.HashedBackupCode, input string) bool {
	candidate := []byte(hashBackupCode(input))

	for i := range codes {
		if codes[i].Used {
			continue
		}
		if subtle.ConstantTimeCompare(candidate, []byte(codes[i].Hash)) == 1 {
			codes[i].Used = true
			return true
		}
	}
	return false
}

// CountUnusedBackupCodes returns the number of codes not yet consumed.
func CountUnusedBackupCodes(codes []storage.HashedBackupCode) int {
	n := 0
	for _, c := range codes {
		if !c.Used {
			n++
		}
	}
	return n
}
