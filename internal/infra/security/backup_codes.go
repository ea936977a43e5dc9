package security

import (
	"crypto/rand"
	"fmt"
	"strings"
)

const (
	backupCodeAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"
	backupCodeGroupLen = 4
	backupCodeGroups   = 2
)

// GenerateBackupCodes produces n single-use fallback codes in the form
// "XXXX-XXXX". The alphabet omits the ambiguous 0/O/1/I glyphs.
func GenerateBackupCodes(n int) ([]string, error) {
	if n <= 0 {
		return nil, fmt.Errorf("backup code count must be positive")
	}

	codes := make([]string, 0, n)
	for i := 0; i < n; i++ {
		code, err := generateBackupCode()
		if err != nil {
			return nil, err
		}
		codes = append(codes, code)
	}

	return codes, nil
}

func generateBackupCode() (string, error) {
	raw := make([]byte, backupCodeGroupLen*backupCodeGroups)
	if _, err := rand.Read(raw); err != nil {
		return "", fmt.Errorf("generate backup code: %w", err)
	}

	var builder strings.Builder
	for i, b := range raw {
		if i > 0 && i%backupCodeGroupLen == 0 {
			builder.WriteByte('-')
		}
		builder.WriteByte(backupCodeAlphabet[int(b)%len(backupCodeAlphabet)])
	}

	return builder.String(), nil
}
