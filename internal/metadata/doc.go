// Package metadata converts blueprints into searchable documents and back.
//
// A document is a nested JSON object. Every string key and every string leaf
// is hex-encoded from its UTF-8 bytes before it is written, so structural
// parsing never depends on the text itself (localized strings, quotes and
// control characters all round-trip unchanged). Booleans and numbers are kept
// in their native JSON form.
//
// Top-level arrays are Properties, UberGraphs, Functions, Macros and
// SubGraphs. Each graph nests a Nodes array and each node nests a Pins array.
package metadata
