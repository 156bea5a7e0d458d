package core

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
)

// Hash represents a cryptographic hash
type Hash string

// NewHash creates a new hash from data
func NewHash(data []byte) Hash {
	sum := sha256.Sum256(data)
	return Hash(hex.EncodeToString(sum[:]))
}

// String returns the string representation
func (h Hash) String() string {
	return string(h)
}

// IsEmpty checks if the hash is empty
func (h Hash) IsEmpty() bool {
	return h == ""
}

// Short returns the first 12 hex characters, for logs.
func (h Hash) Short() string {
	if len(h) <= 12 {
		return string(h)
	}
	return string(h[:12])
}

// Domain-specific hash types
type (
	CohortHash   Hash
	SettingsHash Hash
)

func (h CohortHash) String() string   { return Hash(h).String() }
func (h SettingsHash) String() string { return Hash(h).String() }

// ComputeCohortHash hashes the retained subjects and the filters applied to them.
// Subject order does not matter.
func ComputeCohortHash(subjectIDs []string, filters map[string]interface{}) CohortHash {
	ids := append([]string(nil), subjectIDs...)
	sort.Strings(ids)

	var data strings.Builder
	for _, id := range ids {
		data.WriteString(id)
		data.WriteByte(0)
	}

	keys := make([]string, 0, len(filters))
	for k := range filters {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, key := range keys {
		data.WriteString(key)
		data.WriteString(fmt.Sprintf("%v", filters[key]))
	}

	return CohortHash(NewHash([]byte(data.String())))
}

// ComputeSettingsHash hashes a flat settings map in key order.
func ComputeSettingsHash(settings map[string]interface{}) SettingsHash {
	keys := make([]string, 0, len(settings))
	for k := range settings {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var data strings.Builder
	for _, key := range keys {
		data.WriteString(key)
		data.WriteByte('=')
		data.WriteString(fmt.Sprintf("%v", settings[key]))
		data.WriteByte(';')
	}
	return SettingsHash(NewHash([]byte(data.String())))
}
