package dataset

import (
	"fmt"
	"strconv"

	"github.com/spaolacci/murmur3"

	"github.com/framebench/framebench/pkg/types"
)

// Fingerprint returns a short hex identifier of a dataset layout. Two layouts
// share a fingerprint only if their schema version, column names and types
// match and the text column was generated with the same length.
func Fingerprint(schema types.Schema, textLength int) string {
	sig := schema.Signature() + "|text:" + strconv.Itoa(textLength)
	h1, h2 := murmur3.Sum128([]byte(sig))
	return fmt.Sprintf("%016x%016x", h1, h2)[:16]
}
