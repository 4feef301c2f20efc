// Package utils provides small helpers shared by the gateway and the
// orchestrator: retry with exponential backoff and the derivation of
// idempotency keys and body digests.
package utils

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// IdempotencyKey derives a stable key from the HTTP method and the
// correlation id of the call that first issued the request. Retries of the
// same call reuse the correlation id and therefore the same key.
func IdempotencyKey(method, correlationID string) string {
	sum := sha256.Sum256([]byte(strings.ToUpper(method) + ":" + correlationID))
	return hex.EncodeToString(sum[:])
}

// ContentHash returns the hex sha256 of body, used as the request-integrity header.
func ContentHash(body []byte) string {
	sum := sha256.Sum256(body)
	return hex.EncodeToString(sum[:])
}

// Truncate shortens s to at most max runes.
func Truncate(s string, max int) string {
	if max <= 0 {
		return ""
	}
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max])
}
