package graphevent

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
)

// CanonicalID derives the deterministic entity identifier from class, name,
// and identity attributes. Identical inputs always produce identical IDs,
// regardless of attribute map iteration order.
func CanonicalID(class, name string, identityAttrs map[string]string) string {
	keys := make([]string, 0, len(identityAttrs))
	for k := range identityAttrs {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys)+2)
	parts = append(parts, class, name)
	for _, k := range keys {
		parts = append(parts, k+":"+identityAttrs[k])
	}

	sum := sha256.Sum256([]byte(strings.Join(parts, "|")))
	return strings.ToLower(class) + "_" + hex.EncodeToString(sum[:])[:16]
}

// AssertionID derives the deterministic reified-relationship identifier.
func AssertionID(subjectID, predicate, objectID, chunkID string, spanStart, spanEnd int) string {
	joined := strings.Join([]string{
		subjectID, predicate, objectID, chunkID,
		fmt.Sprintf("%d", spanStart), fmt.Sprintf("%d", spanEnd),
	}, "|")
	sum := sha256.Sum256([]byte(joined))
	return "assertion_" + hex.EncodeToString(sum[:])[:20]
}

// TextHash fingerprints evidence chunk text for the (chunk_id, text_hash)
// evidence key.
func TextHash(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])[:16]
}
