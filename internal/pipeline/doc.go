// Package pipeline wires the catalog, downloader and converter together.
//
// Sync filters the catalog by category and period and hands the resulting
// URLs to the downloader, either into the destination root (flat layout)
// or into one "<Category>/" prefix per category, the partitions running
// concurrently. Convert is a separate phase over every .xpt object found
// in the destination; Sync chains it when asked to.
package pipeline
