// Package fingerprint derives stable identifiers and content hashes for policies.
package fingerprint

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// idLength is the number of hex characters kept from the SHA-256 digest.
const idLength = 16

// separator joins identity fields. It is stripped from the fields first.
const separator = "\x1f"

// PolicyID computes a stable identifier from a policy's origin.
// ref is an upstream identifier (e.g. an HTML section id); callers fall back
// to the title when no upstream identifier exists.
func PolicyID(countryCode, policyType, sourceURL, ref string) string {
	fields := []string{
		strings.ToUpper(field(countryCode)),
		strings.ToLower(field(policyType)),
		field(sourceURL),
		field(ref),
	}

	return CalculateHash(strings.Join(fields, separator))[:idLength]
}

func field(s string) string {
	return strings.TrimSpace(strings.ReplaceAll(s, separator, ""))
}

// CalculateHash computes the SHA-256 hash of the content.
func CalculateHash(content string) string {
	hash := sha256.Sum256([]byte(content))

	return hex.EncodeToString(hash[:])
}
