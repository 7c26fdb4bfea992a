// Package dedup fingerprints chunks and filters out ones already stored.
package dedup

import (
	"crypto/sha256"
	"encoding/hex"

	"github.com/mfenderov/reg-rag/pkg/models"
)

// Fingerprint returns the hex SHA-256 of "{url}::{content}".
func Fingerprint(url, content string) string {
	sum := sha256.Sum256([]byte(url + "::" + content))
	return hex.EncodeToString(sum[:])
}

// Set is a collection of known fingerprints.
type Set map[string]struct{}

// NewSet builds a Set from hashes.
func NewSet(hashes ...string) Set {
	s := make(Set, len(hashes))
	for _, h := range hashes {
		s[h] = struct{}{}
	}
	return s
}

// Has reports whether hash is in the set.
func (s Set) Has(hash string) bool {
	_, ok := s[hash]
	return ok
}

// Add inserts hash into the set.
func (s Set) Add(hash string) {
	s[hash] = struct{}{}
}

// FilterNew returns the chunks whose hash is neither in existing nor
// repeated earlier in chunks, along with the number skipped.
// Chunks without a hash are fingerprinted from their source URL.
// existing is not modified.
func FilterNew(chunks []models.Chunk, existing Set) ([]models.Chunk, int) {
	fresh := make([]models.Chunk, 0, len(chunks))
	seen := make(Set)
	skipped := 0

	for _, c := range chunks {
		hash := c.Hash
		if hash == "" {
			hash = Fingerprint(c.Metadata.SourceURL, c.Content)
			c.Hash = hash
		}
		if existing.Has(hash) || seen.Has(hash) {
			skipped++
			continue
		}
		seen.Add(hash)
		fresh = append(fresh, c)
	}

	return fresh, skipped
}
