// Copyright 2025 Poiesic Systems
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.


// Package ai provides abstractions for the embedding service used by docqa.
//
// The ingestion pipeline and the vector store depend only on the Embedder
// and Provider interfaces defined here, never on a concrete client.
//
// # Implementation Packages
//
//   - ai/ollama: native Ollama /api/embeddings client
//   - ai/openai: OpenAI-compatible client built on langchaingo
//   - ai/mock: deterministic test doubles
//
// # Constructor Return Type Pattern
//
// Public constructors (ollama.NewProvider, openai.NewProvider) return
// INTERFACE types. Test constructors (mock.NewMockEmbedder) return CONCRETE
// types so tests can inject failures and read call counts.
//
// # Response Shape
//
// Ollama's legacy endpoint path is plural (/api/embeddings) while the
// response carries a single vector under "embedding". The OpenAI-compatible
// endpoint instead returns a "data" array. Pick the provider that matches
// the server; do not assume one shape from the other.
package ai
