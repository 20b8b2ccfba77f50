// Package secret extracts, generates and compares device auth secrets.
// It is pure: no I/O, no storage access.
package secret

import (
	"encoding/json"
	"strings"

	"github.com/gridtrust/device-trust-server/pkg/crypto"
)

// Key is the payload field devices use to embed their auth secret.
const Key = "auth_secret"

// secretLength is the number of random bytes behind a generated secret.
const secretLength = 32

// Extract scans a free-form telemetry payload for an embedded auth
// secret. Two layouts are supported: a JSON object with an
// "auth_secret" field, and a flat "key: value, key: value" text
// format. Malformed payloads return ("", false), never an error; this
// runs on the hot ingestion path and must not fail open or crash.
func Extract(rawPayload string) (string, bool) {
	if s, ok := extractJSON(rawPayload); ok {
		return s, true
	}
	return extractKeyValue(rawPayload)
}

func extractJSON(rawPayload string) (string, bool) {
	var fields map[string]interface{}
	if err := json.Unmarshal([]byte(rawPayload), &fields); err != nil {
		return "", false
	}

	value, ok := fields[Key]
	if !ok {
		return "", false
	}

	s, ok := value.(string)
	if !ok || s == "" {
		return "", false
	}
	return s, true
}

func extractKeyValue(rawPayload string) (string, bool) {
	for _, pair := range strings.Split(rawPayload, ",") {
		key, value, found := strings.Cut(pair, ":")
		if !found {
			continue
		}
		if strings.TrimSpace(key) != Key {
			continue
		}
		value = strings.TrimSpace(value)
		if value == "" {
			return "", false
		}
		return value, true
	}
	return "", false
}

// Generate produces a new cryptographically random opaque secret
func Generate() (string, error) {
	return crypto.GenerateRandomString(secretLength)
}

// Equal compares two secrets in constant time
func Equal(a, b string) bool {
	return crypto.ConstantTimeEqual(a, b)
}
