// Package ingestion provides pipeline orchestration for turning PDF files into
// searchable vector records.
//
// The Pipeline runs each file through these stages:
//   - Hashing the file and skipping content that was already ingested
//   - Extracting page text
//   - Chunking pages into overlapping windows
//   - Embedding chunks through the cached, rate-limited generator
//   - Upserting records into the vector store in batches
//
// Every file is guarded by a recovery operation. A failing file is recorded in
// the run's ProcessingStats and the run moves on; only a failure to persist
// recovery state aborts the run. Files are processed one at a time so the
// vector store only ever has one writer.
package ingestion
