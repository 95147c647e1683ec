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


package extract

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/ledongthuc/pdf"
	"github.com/poiesic/docqa/core"
	"github.com/poiesic/docqa/retry"
)

const (
	// DefaultTimeout bounds one page scan of a document.
	DefaultTimeout = 2 * time.Minute

	maxIODelay = 10 * time.Second
)

// ProgressFunc is called after each page with the 1-based page number.
type ProgressFunc func(page, total int)

// Extractor produces a Document from a file on disk.
type Extractor interface {
	Extract(ctx context.Context, path string, progress ProgressFunc) (*core.Document, error)
}

// PDFExtractor extracts text with github.com/ledongthuc/pdf.
type PDFExtractor struct {
	timeout  time.Duration
	ioPolicy retry.Policy
	logger   *slog.Logger

	// readPage is swapped in tests to simulate slow pages.
	readPage func(p pdf.Page) (string, error)
}

var _ Extractor = (*PDFExtractor)(nil)

// Option configures a PDFExtractor.
type Option func(*PDFExtractor)

// WithTimeout sets the budget for scanning all pages of one document.
// A timed-out document is retried once with double the budget.
func WithTimeout(d time.Duration) Option {
	return func(e *PDFExtractor) {
		if d > 0 {
			e.timeout = d
		}
	}
}

// WithIOPolicy sets the retry policy for reading the file from disk.
func WithIOPolicy(p retry.Policy) Option {
	return func(e *PDFExtractor) {
		e.ioPolicy = p
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(e *PDFExtractor) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// NewPDFExtractor creates an extractor. I/O reads default to 3 attempts
// starting at 1s and doubling up to 10s.
func NewPDFExtractor(opts ...Option) *PDFExtractor {
	policy := retry.DefaultPolicy()
	policy.MaxDelay = maxIODelay
	e := &PDFExtractor{
		timeout:  DefaultTimeout,
		ioPolicy: policy,
		logger:   slog.Default(),
		readPage: func(p pdf.Page) (string, error) { return p.GetPlainText(nil) },
	}
	for _, opt := range opts {
		opt(e)
	}
	e.logger = e.logger.With("component", "pdf-extractor")
	return e
}

// Extract reads path and returns its pages and metadata.
func (e *PDFExtractor) Extract(ctx context.Context, path string, progress ProgressFunc) (*core.Document, error) {
	data, err := e.readFile(ctx, path)
	if err != nil {
		return nil, err
	}

	doc, err := e.scan(ctx, data, e.timeout, progress)
	if errors.Is(err, core.ErrExtractionTimeout) && ctx.Err() == nil {
		e.logger.Warn("extraction timed out, retrying with longer budget",
			"path", path, "budget", 2*e.timeout)
		doc, err = e.scan(ctx, data, 2*e.timeout, progress)
	}
	if err != nil {
		return nil, fmt.Errorf("%w (%s)", err, path)
	}

	doc.ID = core.ContentHash(data)
	doc.SourcePath = path
	e.logger.Debug("extracted document", "path", path, "pages", doc.PageCount, "id", doc.ID)
	return doc, nil
}

func (e *PDFExtractor) readFile(ctx context.Context, path string) ([]byte, error) {
	return retry.DoValue(ctx, e.ioPolicy, func(ctx context.Context) ([]byte, error) {
		data, err := os.ReadFile(path)
		if err == nil {
			return data, nil
		}
		if errors.Is(err, fs.ErrNotExist) || errors.Is(err, fs.ErrPermission) {
			return nil, retry.Permanent(err)
		}
		e.logger.Debug("transient read failure", "path", path, "error", err)
		return nil, err
	})
}

type scanResult struct {
	doc *core.Document
	err error
}

// scan parses data under a time budget. The page loop runs in its own
// goroutine so a page stuck inside the parser cannot block the caller.
func (e *PDFExtractor) scan(ctx context.Context, data []byte, budget time.Duration, progress ProgressFunc) (*core.Document, error) {
	ctx, cancel := context.WithTimeout(ctx, budget)
	defer cancel()

	done := make(chan scanResult, 1)
	go func() {
		doc, err := e.parse(ctx, data, progress)
		done <- scanResult{doc: doc, err: err}
	}()

	select {
	case res := <-done:
		return res.doc, res.err
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w after %s", core.ErrExtractionTimeout, budget)
		}
		return nil, ctx.Err()
	}
}

func (e *PDFExtractor) parse(ctx context.Context, data []byte, progress ProgressFunc) (doc *core.Document, err error) {
	defer func() {
		if r := recover(); r != nil {
			doc = nil
			err = fmt.Errorf("%w: parser panic: %v", core.ErrCorruptDocument, r)
		}
	}()

	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, classify(err)
	}

	total := reader.NumPage()
	doc = &core.Document{
		PageCount: total,
		Pages:     make([]core.Page, 0, total),
	}
	if info := reader.Trailer().Key("Info"); !info.IsNull() {
		doc.Title = strings.TrimSpace(info.Key("Title").Text())
		doc.Author = strings.TrimSpace(info.Key("Author").Text())
	}

	for i := 1; i <= total; i++ {
		if err := ctx.Err(); err != nil {
			if errors.Is(err, context.DeadlineExceeded) {
				return nil, core.ErrExtractionTimeout
			}
			return nil, err
		}

		var text string
		page := reader.Page(i)
		if !page.V.IsNull() {
			text, err = e.readPage(page)
			if err != nil {
				e.logger.Warn("failed to read page text, keeping it empty", "page", i, "error", err)
				text = ""
			}
		}
		doc.Pages = append(doc.Pages, core.Page{Number: i, Text: text})

		if progress != nil {
			progress(i, total)
		}
	}

	return doc, nil
}

func classify(err error) error {
	if errors.Is(err, pdf.ErrInvalidPassword) || strings.Contains(strings.ToLower(err.Error()), "encrypt") {
		return fmt.Errorf("%w: %v", core.ErrEncryptedDocument, err)
	}
	return fmt.Errorf("%w: %v", core.ErrCorruptDocument, err)
}
