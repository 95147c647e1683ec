package ingestion

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/poiesic/docqa/core"
)

// ProcessDirectory ingests every PDF in dir, descending into subdirectories
// when recursive is set. Files are processed in lexical path order.
func (p *Pipeline) ProcessDirectory(ctx context.Context, dir string, recursive bool) (*core.ProcessingStats, error) {
	paths, err := ListPDFs(dir, recursive)
	if err != nil {
		return nil, err
	}
	p.logger.Info("processing directory", "dir", dir, "recursive", recursive, "files", len(paths))
	return p.ProcessFiles(ctx, paths)
}

// ListPDFs returns the .pdf files (case-insensitive) under dir, sorted.
func ListPDFs(dir string, recursive bool) ([]string, error) {
	info, err := os.Stat(dir)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%s is not a directory", dir)
	}

	var paths []string
	err = filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if path != dir && !recursive {
				return filepath.SkipDir
			}
			return nil
		}
		if d.Type().IsRegular() && strings.EqualFold(filepath.Ext(path), ".pdf") {
			paths = append(paths, path)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	slices.Sort(paths)
	return paths, nil
}

// Resume re-runs ingest operations a previous run left in_progress. Failed
// operations are not touched; they are listed by the recovery manager for
// manual inspection.
func (p *Pipeline) Resume(ctx context.Context) (*core.ProcessingStats, error) {
	incomplete, err := p.recovery.ListIncompleteOperations(ctx)
	if err != nil {
		return nil, err
	}

	ids := make([]string, 0, len(incomplete))
	for id, state := range incomplete {
		if state.Type == OpIngest {
			ids = append(ids, id)
		}
	}
	slices.Sort(ids)

	stats := core.NewProcessingStats()
	if len(ids) == 0 {
		return stats, nil
	}
	p.logger.Info("resuming interrupted operations", "count", len(ids))

	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return stats, err
		}
		state := incomplete[id]
		path := state.Input[InputPath]
		err := p.record(ctx, stats, path, func() (*FileResult, error) {
			return p.resumeOne(ctx, state)
		})
		if err != nil {
			return stats, err
		}
	}
	return stats, nil
}

// resumeOne re-runs an interrupted operation. If its source is gone or now
// has different content, the operation is failed instead.
func (p *Pipeline) resumeOne(ctx context.Context, state *core.RecoveryState) (*FileResult, error) {
	path := state.Input[InputPath]
	docID, err := hashFile(path)
	if err == nil && state.ID != opID(docID) {
		err = fmt.Errorf("%w: %s", ErrSourceChanged, path)
	}
	if err != nil {
		if _, uerr := p.recovery.UpdateOperation(ctx, state.ID, core.StatusFailed, err); uerr != nil {
			return nil, uerr
		}
		return &FileResult{Path: path}, err
	}
	// An archived completion may predate a forced re-run that crashed after
	// deleting the old records, so the completed check is bypassed.
	return p.processFile(ctx, path, true)
}
