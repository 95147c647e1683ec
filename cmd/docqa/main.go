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

package main

import (
	"fmt"
	"log"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/poiesic/docqa"
	"github.com/poiesic/docqa/ai"
	"github.com/poiesic/docqa/chunker"
	"github.com/poiesic/docqa/embedding"
	"github.com/poiesic/docqa/extract"
	"github.com/urfave/cli/v2"
)

func main() {
	if err := newApp().Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func newApp() *cli.App {
	aiDefaults := ai.DefaultConfig()
	chunkDefaults := chunker.DefaultConfig()

	return &cli.App{
		Name:  "docqa",
		Usage: "Ingest PDF documents and search them by meaning",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "log-level",
				Aliases: []string{"l"},
				Usage:   "Set logging level (debug, info, warn, error)",
				Value:   "info",
				EnvVars: []string{"DOCQA_LOG_LEVEL"},
			},
			&cli.StringFlag{
				Name:    "data-dir",
				Aliases: []string{"d"},
				Usage:   "Directory holding the vector and recovery databases",
				Value:   "./docqa_data",
				EnvVars: []string{"DOCQA_DATA_DIR"},
			},
			&cli.StringFlag{
				Name:    "cache-dir",
				Usage:   "Embedding cache directory (default: <data-dir>/cache)",
				EnvVars: []string{"DOCQA_CACHE_DIR"},
			},
			&cli.StringFlag{
				Name:    "collection",
				Aliases: []string{"c"},
				Usage:   "Vector collection name",
				Value:   docqa.DefaultCollection,
				EnvVars: []string{"DOCQA_COLLECTION"},
			},
			&cli.StringFlag{
				Name:    "provider",
				Usage:   "Embedding service protocol (ollama, openai)",
				Value:   aiDefaults.Provider,
				EnvVars: []string{"DOCQA_PROVIDER"},
			},
			&cli.StringFlag{
				Name:    "embedding-host",
				Usage:   "Embedding service host URL",
				Value:   aiDefaults.EmbeddingHost,
				EnvVars: []string{"DOCQA_EMBEDDING_HOST"},
			},
			&cli.StringFlag{
				Name:    "embedding-model",
				Usage:   "Embedding model name",
				Value:   aiDefaults.EmbeddingModel,
				EnvVars: []string{"DOCQA_EMBEDDING_MODEL"},
			},
			&cli.StringFlag{
				Name:    "api-key",
				Usage:   "Bearer token for the embedding service",
				EnvVars: []string{"DOCQA_API_KEY"},
			},
			&cli.DurationFlag{
				Name:    "request-timeout",
				Usage:   "Timeout for one embedding request",
				Value:   aiDefaults.RequestTimeout,
				EnvVars: []string{"DOCQA_REQUEST_TIMEOUT"},
			},
			&cli.IntFlag{
				Name:    "chunk-size",
				Usage:   "Words per chunk",
				Value:   chunkDefaults.ChunkSize,
				EnvVars: []string{"DOCQA_CHUNK_SIZE"},
			},
			&cli.IntFlag{
				Name:    "chunk-overlap",
				Usage:   "Words shared by consecutive chunks",
				Value:   chunkDefaults.ChunkOverlap,
				EnvVars: []string{"DOCQA_CHUNK_OVERLAP"},
			},
			&cli.IntFlag{
				Name:    "target-chunks",
				Usage:   "Resize chunks per document to yield about N chunks (0 = fixed size)",
				EnvVars: []string{"DOCQA_TARGET_CHUNKS"},
			},
			&cli.IntFlag{
				Name:    "batch-size",
				Usage:   "Texts per embedding sub-batch",
				Value:   embedding.DefaultBatchSize,
				EnvVars: []string{"DOCQA_BATCH_SIZE"},
			},
			&cli.IntFlag{
				Name:    "concurrency",
				Usage:   "Concurrent requests to the embedding service",
				Value:   embedding.DefaultConcurrency,
				EnvVars: []string{"DOCQA_CONCURRENCY"},
			},
			&cli.Float64Flag{
				Name:    "rate-limit",
				Usage:   "Maximum embedding requests per second (0 = unlimited)",
				EnvVars: []string{"DOCQA_RATE_LIMIT"},
			},
			&cli.IntFlag{
				Name:    "max-retries",
				Usage:   "Retries for failed embedding requests and ingest operations",
				Value:   3,
				EnvVars: []string{"DOCQA_MAX_RETRIES"},
			},
			&cli.DurationFlag{
				Name:    "retry-delay",
				Usage:   "Base delay for exponential backoff",
				Value:   1 * time.Second,
				EnvVars: []string{"DOCQA_RETRY_DELAY"},
			},
			&cli.DurationFlag{
				Name:    "max-retry-delay",
				Usage:   "Upper bound for the backoff delay",
				Value:   30 * time.Second,
				EnvVars: []string{"DOCQA_MAX_RETRY_DELAY"},
			},
			&cli.DurationFlag{
				Name:    "extract-timeout",
				Usage:   "Time budget for scanning one PDF",
				Value:   extract.DefaultTimeout,
				EnvVars: []string{"DOCQA_EXTRACT_TIMEOUT"},
			},
			&cli.BoolFlag{
				Name:    "ignore-embedding-errors",
				Usage:   "Store chunks that embedded and skip the rest",
				EnvVars: []string{"DOCQA_IGNORE_EMBEDDING_ERRORS"},
			},
		},
		Before: setupLogger,
		Commands: []*cli.Command{
			{
				Name:      "ingest",
				Usage:     "Ingest PDF files or directories of PDFs",
				ArgsUsage: "<path...>",
				Action:    ingestCommand,
				Flags: []cli.Flag{
					&cli.BoolFlag{
						Name:    "recursive",
						Aliases: []string{"r"},
						Usage:   "Descend into subdirectories",
					},
					&cli.BoolFlag{
						Name:  "force",
						Usage: "Re-ingest files whose content was already ingested",
					},
					&cli.BoolFlag{
						Name:  "progress",
						Usage: "Print progress to stderr",
						Value: true,
					},
				},
			},
			{
				Name:      "search",
				Usage:     "Search ingested documents",
				ArgsUsage: "<query>",
				Action:    searchCommand,
				Flags: []cli.Flag{
					&cli.IntFlag{
						Name:    "n",
						Aliases: []string{"limit"},
						Usage:   "Number of results",
						Value:   5,
					},
					&cli.StringSliceFlag{
						Name:  "where",
						Usage: "Metadata filter key=value (repeatable)",
					},
					&cli.Float64Flag{
						Name:  "min-score",
						Usage: "Drop results below this similarity",
						Value: -1,
					},
					&cli.BoolFlag{
						Name:  "all-terms",
						Usage: "Only return chunks containing every query term",
					},
				},
			},
			{
				Name:   "stats",
				Usage:  "Show collection statistics",
				Action: statsCommand,
			},
			{
				Name:   "resume",
				Usage:  "Finish ingest operations interrupted by a crash",
				Action: resumeCommand,
			},
			{
				Name:   "failed",
				Usage:  "List failed ingest operations",
				Action: failedCommand,
			},
			{
				Name:   "delete-collection",
				Usage:  "Delete every record and all ingest history",
				Action: deleteCollectionCommand,
				Flags: []cli.Flag{
					&cli.BoolFlag{
						Name:  "yes",
						Usage: "Confirm the irreversible deletion",
					},
				},
			},
			{
				Name:   "reembed",
				Usage:  "Refresh every stored vector from the embedding service",
				Action: reembedCommand,
			},
		},
	}
}

func setupLogger(c *cli.Context) error {
	levelStr := strings.ToLower(c.String("log-level"))

	var level slog.Level
	switch levelStr {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		return fmt.Errorf("invalid log level %q: must be one of debug, info, warn, error", levelStr)
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	}))
	slog.SetDefault(logger)

	return nil
}
