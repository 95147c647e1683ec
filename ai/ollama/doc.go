// Package ollama implements ai.Provider against Ollama's native embedding
// endpoint. The request goes to the plural path /api/embeddings but the
// response holds one vector under the singular "embedding" key.
package ollama
