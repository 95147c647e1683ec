// Package reembed refreshes the vectors of every record in a collection,
// for example after the embedding service was upgraded.
//
// Records are read in insertion order, re-embedded in batches with the
// cache bypassed, and written back under their existing ids, so record
// order and ids survive. Progress is reported while the run advances.
package reembed
