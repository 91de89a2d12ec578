package api

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strconv"
)

// Sign computes the request signature the internal platform verifies. The
// signed message is the decimal Unix timestamp, HTTP method, request path
// and the lowercase-hex SHA-256 of the body, concatenated with no
// separator. The body passed here must be the exact bytes transmitted:
// signing a re-serialized copy breaks verification.
func Sign(secret string, timestamp int64, method, path string, body []byte) string {
	sum := sha256.Sum256(body)
	message := strconv.FormatInt(timestamp, 10) + method + path + hex.EncodeToString(sum[:])

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(message))
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}
