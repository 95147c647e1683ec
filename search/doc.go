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

// Package search answers natural-language queries against a vector store.
//
// The Searcher embeds the query, ranks stored chunks by cosine similarity
// and then applies optional post filters:
//   - A minimum similarity score
//   - Verbatim term matching with stop-word filtering
//
// Metadata filters (document, page, chapter) are pushed down to the store.
package search
