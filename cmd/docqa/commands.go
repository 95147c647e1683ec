package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"slices"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/poiesic/docqa"
	"github.com/poiesic/docqa/ai"
	"github.com/poiesic/docqa/core"
	"github.com/poiesic/docqa/ingestion"
	"github.com/poiesic/docqa/search"
	"github.com/poiesic/docqa/storage"
	"github.com/urfave/cli/v2"
)

// configFromFlags maps the global flags onto a docqa.Config.
func configFromFlags(c *cli.Context) *docqa.Config {
	cfg := docqa.DefaultConfig(c.String("data-dir"))
	cfg.CacheDir = c.String("cache-dir")
	cfg.Collection = c.String("collection")
	cfg.ChunkSize = c.Int("chunk-size")
	cfg.ChunkOverlap = c.Int("chunk-overlap")
	cfg.TargetChunks = c.Int("target-chunks")
	cfg.EmbedBatchSize = c.Int("batch-size")
	cfg.EmbedConcurrency = c.Int("concurrency")
	cfg.EmbedRatePerSecond = c.Float64("rate-limit")
	cfg.MaxRetries = c.Int("max-retries")
	cfg.InitialDelay = c.Duration("retry-delay")
	cfg.MaxDelay = c.Duration("max-retry-delay")
	cfg.ExtractTimeout = c.Duration("extract-timeout")
	cfg.IgnoreEmbeddingErrors = c.Bool("ignore-embedding-errors")
	cfg.AI = ai.NewConfig(
		ai.WithProvider(c.String("provider")),
		ai.WithEmbeddingHost(c.String("embedding-host")),
		ai.WithEmbeddingModel(c.String("embedding-model")),
		ai.WithAPIKey(c.String("api-key")),
		ai.WithRequestTimeout(c.Duration("request-timeout")),
	)
	return cfg
}

func openDatabase(c *cli.Context, opts ...docqa.Option) (*docqa.Database, error) {
	db, err := docqa.Open(configFromFlags(c), opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	return db, nil
}

// commandContext is cancelled on interrupt. Interrupted ingests stay
// in_progress and are picked up by the resume command.
func commandContext(c *cli.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(c.Context, os.Interrupt)
}

func ingestCommand(c *cli.Context) error {
	if c.NArg() == 0 {
		return fmt.Errorf("at least one file or directory is required")
	}

	opts := []docqa.Option{docqa.WithPipelineOptions(ingestion.WithForce(c.Bool("force")))}
	if c.Bool("progress") {
		opts = append(opts, docqa.WithProgressWriter(c.App.ErrWriter))
	}
	db, err := openDatabase(c, opts...)
	if err != nil {
		return err
	}
	defer db.Close()

	ctx, cancel := commandContext(c)
	defer cancel()

	var files []string
	total := core.NewProcessingStats()
	for _, arg := range c.Args().Slice() {
		info, err := os.Stat(arg)
		if err != nil {
			total.FilesAttempted++
			total.FilesFailed++
			total.Errors[arg] = err.Error()
			continue
		}
		if !info.IsDir() {
			files = append(files, arg)
			continue
		}
		paths, err := ingestion.ListPDFs(arg, c.Bool("recursive"))
		if err != nil {
			return err
		}
		files = append(files, paths...)
	}

	stats, err := db.ProcessFiles(ctx, files)
	total.Merge(stats)
	printStats(c, total)
	if err != nil {
		return err
	}
	if total.FilesFailed > 0 {
		return fmt.Errorf("%d of %d files failed", total.FilesFailed, total.FilesAttempted)
	}
	return nil
}

func resumeCommand(c *cli.Context) error {
	db, err := openDatabase(c, docqa.WithProgressWriter(c.App.ErrWriter))
	if err != nil {
		return err
	}
	defer db.Close()

	ctx, cancel := commandContext(c)
	defer cancel()

	stats, err := db.Resume(ctx)
	if stats != nil {
		printStats(c, stats)
	}
	return err
}

func printStats(c *cli.Context, stats *core.ProcessingStats) {
	out := c.App.Writer
	fmt.Fprintf(out, "Files: %d attempted, %d succeeded, %d failed, %d skipped\n",
		stats.FilesAttempted, stats.FilesSucceeded, stats.FilesFailed, stats.FilesSkipped)
	fmt.Fprintf(out, "Chunks: %d (~%d tokens), embedding failures: %d, elapsed %s\n",
		stats.Chunks, stats.Tokens, stats.EmbeddingFailures, stats.Duration.Round(time.Millisecond))

	paths := make([]string, 0, len(stats.Errors))
	for path := range stats.Errors {
		paths = append(paths, path)
	}
	slices.Sort(paths)
	for _, path := range paths {
		fmt.Fprintf(out, "  FAILED %s: %s\n", path, stats.Errors[path])
	}
}

func searchCommand(c *cli.Context) error {
	query := strings.Join(c.Args().Slice(), " ")
	if strings.TrimSpace(query) == "" {
		return fmt.Errorf("a query is required")
	}
	where, err := parseWhere(c.StringSlice("where"))
	if err != nil {
		return err
	}

	db, err := openDatabase(c, docqa.WithSearchOptions(
		search.WithMinScore(float32(c.Float64("min-score"))),
		search.WithRequireAllTerms(c.Bool("all-terms")),
	))
	if err != nil {
		return err
	}
	defer db.Close()

	ctx, cancel := commandContext(c)
	defer cancel()

	results, err := db.Search(ctx, query, where, c.Int("n"))
	if err != nil {
		return err
	}

	out := c.App.Writer
	fmt.Fprintf(out, "Found %d hits\n", len(results))
	for i, hit := range results {
		meta := hit.Record.Metadata
		fmt.Fprintf(out, "%d: [%0.3f] %s p.%s", i+1, hit.Score, meta[core.MetaSource], meta[core.MetaPage])
		if ch := meta[core.MetaChapter]; ch != "" {
			fmt.Fprintf(out, " (%s)", ch)
		}
		fmt.Fprintf(out, "\n   %s\n", oneLine(hit.Record.Text, 200))
	}
	return nil
}

// parseWhere turns key=value pairs into a metadata filter.
func parseWhere(pairs []string) (storage.Where, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	where := make(storage.Where, len(pairs))
	for _, pair := range pairs {
		key, value, ok := strings.Cut(pair, "=")
		if !ok || strings.TrimSpace(key) == "" {
			return nil, fmt.Errorf("invalid filter %q: want key=value", pair)
		}
		where[strings.TrimSpace(key)] = strings.TrimSpace(value)
	}
	return where, nil
}

func oneLine(text string, limit int) string {
	text = strings.Join(strings.Fields(text), " ")
	if r := []rune(text); len(r) > limit {
		return string(r[:limit]) + "..."
	}
	return text
}

func statsCommand(c *cli.Context) error {
	db, err := openDatabase(c)
	if err != nil {
		return err
	}
	defer db.Close()

	stats, err := db.Stats(c.Context)
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(c.App.Writer, 0, 0, 2, ' ', 0)
	fmt.Fprintf(w, "Collection:\t%s\n", stats.Collection)
	fmt.Fprintf(w, "Records:\t%d\n", stats.Count)
	fmt.Fprintf(w, "Documents:\t%d\n", stats.Documents)
	fmt.Fprintf(w, "Dimension:\t%d\n", stats.Dimension)
	fmt.Fprintf(w, "Storage bytes:\t%d\n", stats.StorageBytes)
	fmt.Fprintf(w, "Model:\t%s\n", db.Model())
	return w.Flush()
}

func failedCommand(c *cli.Context) error {
	db, err := openDatabase(c)
	if err != nil {
		return err
	}
	defer db.Close()

	failed, err := db.FailedOperations(c.Context)
	if err != nil {
		return err
	}
	if len(failed) == 0 {
		fmt.Fprintln(c.App.Writer, "No failed operations")
		return nil
	}

	ids := make([]string, 0, len(failed))
	for id := range failed {
		ids = append(ids, id)
	}
	slices.Sort(ids)

	w := tabwriter.NewWriter(c.App.Writer, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "PATH\tRETRIES\tUPDATED\tERROR")
	for _, id := range ids {
		s := failed[id]
		fmt.Fprintf(w, "%s\t%d\t%s\t%s\n", s.Input[ingestion.InputPath], s.RetryCount,
			s.UpdatedAt.Format("2006-01-02 15:04:05"), s.Error)
	}
	return w.Flush()
}

var errNotConfirmed = errors.New("refusing to delete the collection without --yes")

func deleteCollectionCommand(c *cli.Context) error {
	if !c.Bool("yes") {
		return errNotConfirmed
	}
	db, err := openDatabase(c)
	if err != nil {
		return err
	}
	defer db.Close()

	if err := db.DeleteCollection(c.Context); err != nil {
		return err
	}
	fmt.Fprintf(c.App.Writer, "Deleted collection %q\n", c.String("collection"))
	return nil
}

func reembedCommand(c *cli.Context) error {
	db, err := openDatabase(c, docqa.WithProgressWriter(c.App.ErrWriter))
	if err != nil {
		return err
	}
	defer db.Close()

	ctx, cancel := commandContext(c)
	defer cancel()

	fmt.Fprintf(c.App.ErrWriter, "Model: %s\n", db.Model())
	_, err = db.Reembed(ctx)
	return err
}
