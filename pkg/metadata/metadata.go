// Package metadata signs generated markdown reports with a trailing block
// carrying the run that produced them and a hash of the report body.
package metadata

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"
)

const (
	// TagStart is the start of the metadata block.
	TagStart = "<!-- POLICYWATCH_REPORT"
	// TagEnd is the end of the metadata block.
	TagEnd = "POLICYWATCH_REPORT_END -->"
)

// Metadata verification errors.
var (
	ErrNoMetadataBlock = errors.New("no metadata block found")
	ErrNoHashFound     = errors.New("no hash found in metadata")
	ErrHashMismatch    = errors.New("hash mismatch")
)

// Metadata describes the run a report was generated from.
type Metadata struct {
	GeneratedAt time.Time
	RunID       string
	Status      string
	Hash        string
}

// metadataRegex matches the entire metadata block including tags.
var metadataRegex = regexp.MustCompile(`(?s)<!--\s*POLICYWATCH_REPORT\s*\n(.*?)\n\s*POLICYWATCH_REPORT_END\s*-->`)

// Extract removes the metadata block from content and returns both the
// metadata and the report body. The body is what gets hashed.
func Extract(content string) (*Metadata, string) {
	match := metadataRegex.FindStringSubmatch(content)
	body := metadataRegex.ReplaceAllString(content, "")
	// Trailing newlines are not part of the hashed body.
	body = strings.TrimRight(body, "\n")

	if len(match) < 2 {
		return nil, body
	}

	meta := &Metadata{}

	for line := range strings.SplitSeq(match[1], "\n") {
		key, val, ok := strings.Cut(strings.TrimSpace(line), ":")
		if !ok {
			continue
		}

		val = strings.TrimSpace(val)

		switch strings.TrimSpace(key) {
		case "RUN_ID":
			meta.RunID = val
		case "STATUS":
			meta.Status = val
		case "GENERATED_AT":
			if t, err := time.Parse(time.RFC3339, val); err == nil {
				meta.GeneratedAt = t
			}
		case "HASH":
			meta.Hash = val
		}
	}

	return meta, body
}

// CalculateHash computes the SHA-256 hash of the report body.
func CalculateHash(content string) string {
	_, body := Extract(content)
	hash := sha256.Sum256([]byte(body))

	return hex.EncodeToString(hash[:])
}

// Sign replaces any existing metadata block with one describing meta and the
// hash of the current body. meta.Hash is ignored.
func Sign(content string, meta Metadata) string {
	_, body := Extract(content)

	block := fmt.Sprintf("\n\n%s\nRUN_ID: %s\nSTATUS: %s\nGENERATED_AT: %s\nHASH: %s\n%s\n",
		TagStart, meta.RunID, meta.Status, meta.GeneratedAt.UTC().Format(time.RFC3339), CalculateHash(body), TagEnd)

	return body + block
}

// Verify checks that the body matches the hash in its metadata block and
// returns the parsed metadata.
func Verify(content string) (*Metadata, error) {
	meta, body := Extract(content)
	if meta == nil {
		return nil, ErrNoMetadataBlock
	}

	if meta.Hash == "" {
		return meta, ErrNoHashFound
	}

	if calculated := CalculateHash(body); calculated != meta.Hash {
		return meta, fmt.Errorf("%w: expected %s, got %s", ErrHashMismatch, meta.Hash, calculated)
	}

	return meta, nil
}
