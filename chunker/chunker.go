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

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"unicode"

	"github.com/poiesic/docqa/core"
)

// Config controls chunking. Sizes are in words.
type Config struct {
	ChunkSize    int // Target chunk size in words.
	ChunkOverlap int // Words shared with the tail of the previous chunk.
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		ChunkSize:    200,
		ChunkOverlap: 40,
	}
}

// Validate checks that the overlap is smaller than the chunk size.
func (c Config) Validate() error {
	if c.ChunkSize <= 0 {
		return fmt.Errorf("chunk size must be positive, got %d", c.ChunkSize)
	}
	if c.ChunkOverlap < 0 || c.ChunkOverlap >= c.ChunkSize {
		return fmt.Errorf("chunk overlap must be in [0, %d), got %d", c.ChunkSize, c.ChunkOverlap)
	}
	return nil
}

// ChunkTypeText marks chunks cut from running page text.
const ChunkTypeText = "text"

var chapterPattern = regexp.MustCompile(`(?im)^\s*chapter\s+([0-9]+|[ivxlcdm]+)\b`)

type span struct{ start, end int }

type heading struct {
	offset int
	name   string
}

// Chunk splits every page of doc into overlapping chunks. Chunks never cross
// a page boundary. Index runs across the whole document and Total is the
// document's chunk count. An empty document yields no chunks.
func Chunk(doc *core.Document, cfg Config) ([]core.TextChunk, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if doc == nil {
		return nil, nil
	}

	var chunks []core.TextChunk
	chapter := ""
	for _, page := range doc.Pages {
		headings := findHeadings(page.Text)
		for _, s := range splitSpans(page.Text, cfg) {
			for len(headings) > 0 && headings[0].offset <= s.start {
				chapter = headings[0].name
				headings = headings[1:]
			}
			meta := map[string]string{
				core.MetaDocumentID: doc.ID,
				core.MetaPage:       strconv.Itoa(page.Number),
				core.MetaChunkType:  ChunkTypeText,
			}
			if doc.SourcePath != "" {
				meta[core.MetaSource] = doc.SourcePath
			}
			if doc.Title != "" {
				meta[core.MetaTitle] = doc.Title
			}
			if chapter != "" {
				meta[core.MetaChapter] = chapter
			}
			chunks = append(chunks, core.TextChunk{
				Text:        page.Text[s.start:s.end],
				Page:        page.Number,
				Index:       len(chunks),
				StartOffset: s.start,
				EndOffset:   s.end,
				Metadata:    meta,
			})
		}
		// headings after the last chunk start still open a chapter for the next page
		if len(headings) > 0 {
			chapter = headings[len(headings)-1].name
		}
	}

	for i := range chunks {
		chunks[i].Total = len(chunks)
	}
	return chunks, nil
}

// ChunkText splits a single text into chunk strings.
func ChunkText(text string, cfg Config) ([]string, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	spans := splitSpans(text, cfg)
	out := make([]string, len(spans))
	for i, s := range spans {
		out[i] = text[s.start:s.end]
	}
	return out, nil
}

// splitSpans returns byte spans of text, each covering at most ChunkSize
// words. A window prefers to end on a sentence boundary within its last
// fifth. The next window starts min(overlap, len(prev)-1) words before the
// previous end so short chunks shrink the overlap instead of stalling.
func splitSpans(text string, cfg Config) []span {
	words := wordSpans(text)
	if len(words) == 0 {
		return nil
	}

	var out []span
	start := 0
	for {
		end := min(start+cfg.ChunkSize, len(words))
		if end < len(words) {
			end = sentenceBreak(text, words, start, end, cfg.ChunkSize)
		}
		out = append(out, span{start: words[start].start, end: words[end-1].end})
		if end == len(words) {
			break
		}
		overlap := min(cfg.ChunkOverlap, end-start-1)
		start = end - overlap
	}
	return out
}

// sentenceBreak moves end back to just after the last sentence-ending word in
// the final fifth of the window, if there is one.
func sentenceBreak(text string, words []span, start, end, size int) int {
	floor := max(start+1, end-size/5)
	for i := end - 1; i >= floor; i-- {
		w := text[words[i].start:words[i].end]
		if endsSentence(w) {
			return i + 1
		}
	}
	return end
}

func endsSentence(word string) bool {
	word = strings.TrimRight(word, `"')]`)
	if word == "" {
		return false
	}
	switch word[len(word)-1] {
	case '.', '!', '?':
		return true
	}
	return false
}

func wordSpans(text string) []span {
	var spans []span
	start := -1
	for i, r := range text {
		if unicode.IsSpace(r) {
			if start >= 0 {
				spans = append(spans, span{start: start, end: i})
				start = -1
			}
			continue
		}
		if start < 0 {
			start = i
		}
	}
	if start >= 0 {
		spans = append(spans, span{start: start, end: len(text)})
	}
	return spans
}

func findHeadings(text string) []heading {
	var out []heading
	for _, m := range chapterPattern.FindAllStringSubmatchIndex(text, -1) {
		out = append(out, heading{
			offset: m[0],
			name:   "Chapter " + strings.ToUpper(text[m[2]:m[3]]),
		})
	}
	return out
}
