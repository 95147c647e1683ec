// Package embedding resolves text to vectors through a content-addressed
// disk cache in front of a remote ai.Embedder.
//
// Generator.EmbedBatch partitions a batch into cache hits and misses, sends
// misses in sub-batches whose items run concurrently on a bounded ants pool,
// retries each item with the configured retry.Policy, and writes every new
// vector to the cache before returning. Output order always matches input
// order.
package embedding
