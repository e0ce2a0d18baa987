package api

import (
	"crypto/md5" //nolint:gosec // protocol-mandated digest, not used for security decisions
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
)

// md5Hex returns the lowercase hex MD5 digest of s.
func md5Hex(s string) string {
	sum := md5.Sum([]byte(s)) //nolint:gosec // see above
	return hex.EncodeToString(sum[:])
}

// sha256Hex returns the lowercase hex SHA-256 digest of s.
func sha256Hex(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}

// passwordDigest computes the login digest the service expects:
// SHA-256 over the hex MD5 of the password concatenated with the
// server-issued nonce. The concatenation is of hex strings, not raw digest
// bytes — the service verifies exactly this construction, so it must not
// be "fixed" to byte concatenation.
func passwordDigest(password, nonce string) string {
	return sha256Hex(md5Hex(password) + nonce)
}

// extractRealKey pulls the real key material out of a pre-auth token of the
// form "seg0-seg1-...-segN-i", where the trailing character i is a decimal
// index selecting one of the dash-separated segments.
func extractRealKey(token string) (string, error) {
	if token == "" || !strings.Contains(token, "-") {
		return "", fmt.Errorf("%w: no segments", ErrBadPreAuthToken)
	}

	idx, err := strconv.Atoi(token[len(token)-1:])
	if err != nil {
		return "", fmt.Errorf("%w: non-numeric index", ErrBadPreAuthToken)
	}

	parts := strings.Split(token, "-")
	if idx < 0 || idx >= len(parts) {
		return "", fmt.Errorf("%w: index %d out of range", ErrBadPreAuthToken, idx)
	}

	return parts[idx], nil
}
