// Package chunker splits extracted page text into overlapping word windows
// that carry their page number and byte offsets.
package chunker
