// Package wire implements the byte protocol between the gateway and the
// client: visible prose passes through as plain UTF-8 text, and a single
// JSON metadata envelope, delimited by literal markers, may be appended at
// the end of a completed stream.
//
// The markers cannot legitimately occur in generated prose, and the
// envelope is preceded by a blank line so naive consumers that truncate at
// the first marker still see clean prose:
//
//	<visible prose>
//	\n\n<<<METADATA_START>>>{"citations":[...],"action":"..."}<<<METADATA_END>>>
package wire

// Metadata envelope delimiters. Literal text, chosen to never appear in
// model output.
const (
	MetadataStart = "<<<METADATA_START>>>"
	MetadataEnd   = "<<<METADATA_END>>>"

	// metadataSeparator precedes the start marker so truncating consumers
	// see clean prose.
	metadataSeparator = "\n\n"
)
