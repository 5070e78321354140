// Package sourcemapx lets code generators describe source positions inline,
// without building a source map themselves.
//
// A generator writes hints into its output stream: the `\b` (0x08) magic byte
// followed by a length-prefixed payload, see Hint for the format. '\b' never
// occurs unescaped in generated JavaScript, so it can't be confused with code.
//
// The payload is one of:
//
//   - Position: the code that follows comes from this original location.
//   - Identifier: like Position, and the generated name stands for an
//     original name.
//   - Unmapped: the code that follows has no original location.
//
// Filter extracts the hints from the written stream, reports them together
// with the generated position they were found at, and makes sure that none of
// them reach the final output. Recorder turns those reports into mappings of a
// genmapping.GenMapping.
package sourcemapx
