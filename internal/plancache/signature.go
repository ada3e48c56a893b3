package plancache

import (
	"fmt"

	"github.com/cespare/xxhash/v2"

	language "github.com/hanpama/fedgate/internal/language"
)

// Signature identifies a plan: a stable hash of the normalized operation
// text, the operation name and the schema version.
type Signature string

// ComputeSignature hashes query after normalization so that whitespace,
// comments and formatting differences map to the same signature. Text that
// does not parse is hashed verbatim; the planner rejects it later.
func ComputeSignature(query, operationName, schemaVersion string) Signature {
	text := query
	if doc, err := language.ParseQuery(query); err == nil {
		text = language.Normalize(doc)
	}
	d := xxhash.New()
	_, _ = d.WriteString(text)
	_, _ = d.WriteString("\x00")
	_, _ = d.WriteString(operationName)
	_, _ = d.WriteString("\x00")
	_, _ = d.WriteString(schemaVersion)
	return Signature(fmt.Sprintf("%016x", d.Sum64()))
}

// SchemaVersion hashes supergraph SDL into the version component of a
// signature.
func SchemaVersion(sdl []byte) string {
	return fmt.Sprintf("%016x", xxhash.Sum64(sdl))
}
