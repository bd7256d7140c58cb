package model

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// GenerateUUIDWithSuffix generates a UUID with a given module name as a prefix.
// This is useful for creating unique identifiers with context-specific prefixes.
func GenerateUUIDWithSuffix(module string) string {
	id := uuid.New() // Generate a new UUID.
	uuidStr := id.String()
	idWithSuffix := fmt.Sprintf("%s_%s", module, uuidStr) // Append the module as a suffix to the UUID.
	return idWithSuffix
}

// IdentityKey computes the deterministic identity of a unit of work from the
// sender, subject and received timestamp of a source document. Two submissions
// with the same key refer to the same logical work item.
//
// The sender is lowercased and all fields are trimmed before hashing; the
// timestamp is truncated to second granularity in UTC so that re-parsed
// payloads hash identically regardless of sub-second drift.
func IdentityKey(sender, subject string, receivedAt time.Time) string {
	data := fmt.Sprintf("%s|%s|%d",
		strings.ToLower(strings.TrimSpace(sender)),
		strings.TrimSpace(subject),
		receivedAt.UTC().Truncate(time.Second).Unix(),
	)
	hash := sha256.Sum256([]byte(data))
	return hex.EncodeToString(hash[:])
}
