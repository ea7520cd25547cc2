package internal

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strings"
)

const (
	// TempTokenBytes is the entropy of challenge tickets and email verification tokens.
	TempTokenBytes  = 32
	backupHalfBytes = 2
)

// NewHexToken returns n random bytes hex encoded.
func NewHexToken(n int) (string, error) {
	if n <= 0 {
		return "", errors.New("invalid token size")
	}
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}

// HashToken returns the hex SHA-256 digest used as the storage key for bearer values.
func HashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

// NewBackupCode returns a code formatted as two groups of four uppercase hex
// characters, e.g. "9F3A-07C2".
func NewBackupCode() (string, error) {
	var buf [2 * backupHalfBytes]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return "", err
	}
	enc := strings.ToUpper(hex.EncodeToString(buf[:]))
	return enc[:4] + "-" + enc[4:], nil
}

// NormalizeBackupCode uppercases code and removes whitespace so that user input
// such as "9f3a 07c2" or "9F3A07C2" hashes to the same value as the issued form.
func NormalizeBackupCode(code string) string {
	code = strings.ToUpper(strings.TrimSpace(code))
	code = strings.ReplaceAll(code, " ", "")
	code = strings.ReplaceAll(code, "-", "")
	if len(code) != 8 {
		return code
	}
	return code[:4] + "-" + code[4:]
}
