// Package convert rewrites downloaded datasets as CSV.
//
// Scan finds every .xpt object under a bucket. ConvertAll decodes each one
// with a Decoder, writes <name>.csv next to it and deletes the source.
// Conversions run in parallel, limited to GOMAXPROCS by default.
//
// A file that fails to decode is left in place and no CSV is written for
// it, so a later run can retry it. Files already converted have no .xpt
// left, which makes repeated runs no-ops.
package convert
