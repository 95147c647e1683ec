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


package chunker

import "strings"

// EstimateTokens gives a rough token count from the word count.
// Roughly 1.33 tokens per English word; exact tokenization is not needed
// for statistics.
func EstimateTokens(text string) int {
	if text == "" {
		return 0
	}
	words := len(strings.Fields(text))
	tokens := int(float64(words) * 1.33)
	if tokens < 1 && strings.TrimSpace(text) != "" {
		tokens = 1
	}
	return tokens
}

// CountWords returns the number of whitespace-separated words in a document.
func CountWords(pages []string) int {
	n := 0
	for _, p := range pages {
		n += len(strings.Fields(p))
	}
	return n
}

// OptimalChunkSize returns the chunk size that yields roughly targetChunks
// chunks over totalWords words with the given overlap, clamped to
// [minSize, maxSize]. With k chunks of size s the text covers
// s + (k-1)(s-overlap) words, so s = (W-overlap)/k + overlap.
func OptimalChunkSize(totalWords, targetChunks, overlap, minSize, maxSize int) int {
	if maxSize < minSize {
		minSize, maxSize = maxSize, minSize
	}
	if targetChunks <= 0 || totalWords <= 0 {
		return minSize
	}
	usable := max(totalWords-overlap, 0)
	size := (usable+targetChunks-1)/targetChunks + overlap
	return min(max(size, minSize), maxSize)
}
