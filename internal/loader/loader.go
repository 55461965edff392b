// Package loader extracts raw text documents from PDF, DOCX and plain text
// files. A single explicit file is loaded strictly: unknown extensions and
// extraction failures are returned to the caller. A directory is walked
// leniently: every file is attempted and per-file failures are logged and
// recorded without aborting the walk.
package loader

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/54b3r/docchat-go/internal/rag"
)

// Extractor turns one file into one or more Documents.
type Extractor interface {
	Extract(ctx context.Context, path string) ([]rag.Document, error)
}

// ExtractorFunc adapts a plain function to the Extractor interface.
type ExtractorFunc func(ctx context.Context, path string) ([]rag.Document, error)

// Extract calls f(ctx, path).
func (f ExtractorFunc) Extract(ctx context.Context, path string) ([]rag.Document, error) {
	return f(ctx, path)
}

// Skipped records a file that a directory walk did not load.
type Skipped struct {
	// Path is the skipped file.
	Path string `json:"path"`
	// Reason is a human-readable cause (unsupported format or extraction error).
	Reason string `json:"reason"`
}

// Result is the outcome of a Load call.
type Result struct {
	// Documents holds every successfully extracted document, in walk order.
	Documents []rag.Document

	// Files is the number of files that produced at least one document.
	Files int

	// Skipped lists the files a directory walk could not load.
	Skipped []Skipped
}

// Loader dispatches files to extractors by lower-cased extension.
type Loader struct {
	// extractors maps ".pdf" style extensions to their extractor.
	extractors map[string]Extractor

	// log receives per-file warnings during directory walks.
	log *slog.Logger
}

// New returns a Loader with the PDF, DOCX and TXT extractors registered.
func New(log *slog.Logger) *Loader {
	if log == nil {
		log = slog.Default()
	}
	l := &Loader{extractors: make(map[string]Extractor), log: log}
	l.Register(".pdf", ExtractorFunc(extractPDF))
	l.Register(".docx", ExtractorFunc(extractDOCX))
	l.Register(".txt", ExtractorFunc(extractTXT))
	return l
}

// Register installs e for files with extension ext (case-insensitive,
// leading dot optional). A later registration replaces an earlier one.
func (l *Loader) Register(ext string, e Extractor) {
	ext = strings.ToLower(ext)
	if !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}
	l.extractors[ext] = e
}

// Extensions returns the supported extensions in sorted order.
func (l *Loader) Extensions() []string {
	out := make([]string, 0, len(l.extractors))
	for ext := range l.extractors {
		out = append(out, ext)
	}
	sort.Strings(out)
	return out
}

// Supports reports whether path has a registered extension.
func (l *Loader) Supports(path string) bool {
	_, ok := l.extractors[strings.ToLower(filepath.Ext(path))]
	return ok
}

// Load loads path, which may be a single file or a directory tree.
func (l *Loader) Load(ctx context.Context, path string) (*Result, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("loader: %w", err)
	}
	if info.IsDir() {
		return l.LoadDir(ctx, path)
	}
	docs, err := l.LoadFile(ctx, path)
	if err != nil {
		return nil, err
	}
	return &Result{Documents: docs, Files: 1}, nil
}

// LoadFile extracts a single explicit file. Unknown extensions yield an
// error wrapping rag.ErrUnsupportedFormat.
func (l *Loader) LoadFile(ctx context.Context, path string) ([]rag.Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	ext := strings.ToLower(filepath.Ext(path))
	e, ok := l.extractors[ext]
	if !ok {
		return nil, fmt.Errorf("loader: %s: %w %q", path, rag.ErrUnsupportedFormat, ext)
	}
	docs, err := e.Extract(ctx, path)
	if err != nil {
		return nil, fmt.Errorf("loader: %s: %w", path, err)
	}
	return docs, nil
}

// LoadDir walks root recursively and extracts every supported file.
// Hidden entries (".git", ".DS_Store", sync-client metadata) and Office lock
// files ("~$...") are ignored. Unsupported and failing files are logged at
// WARN and listed in Result.Skipped. A walk that yields no documents fails
// with rag.ErrEmptyCorpus.
func (l *Loader) LoadDir(ctx context.Context, root string) (*Result, error) {
	res := &Result{}

	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, walkErr error) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		if walkErr != nil {
			if path == root {
				return walkErr
			}
			l.skip(res, path, walkErr.Error())
			if d != nil && d.IsDir() {
				return fs.SkipDir
			}
			return nil
		}
		if path != root && ignored(d.Name()) {
			if d.IsDir() {
				return fs.SkipDir
			}
			return nil
		}
		if d.IsDir() || !d.Type().IsRegular() {
			return nil
		}
		if !l.Supports(path) {
			l.skip(res, path, fmt.Sprintf("%s %q", rag.ErrUnsupportedFormat, filepath.Ext(path)))
			return nil
		}

		docs, err := l.LoadFile(ctx, path)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return err
			}
			l.skip(res, path, err.Error())
			return nil
		}
		res.Documents = append(res.Documents, docs...)
		res.Files++
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("loader: walking %s: %w", root, err)
	}

	if len(res.Documents) == 0 {
		return nil, fmt.Errorf("loader: %s: %w (%d files skipped)", root, rag.ErrEmptyCorpus, len(res.Skipped))
	}

	l.log.Info("loader: directory loaded",
		slog.String("root", root),
		slog.Int("files", res.Files),
		slog.Int("documents", len(res.Documents)),
		slog.Int("skipped", len(res.Skipped)),
	)
	return res, nil
}

// skip records and logs a file the walk could not load.
func (l *Loader) skip(res *Result, path, reason string) {
	l.log.Warn("loader: skipping file", slog.String("path", path), slog.String("reason", reason))
	res.Skipped = append(res.Skipped, Skipped{Path: path, Reason: reason})
}

// ignored reports whether a directory entry is hidden or an editor lock file.
func ignored(name string) bool {
	return strings.HasPrefix(name, ".") || strings.HasPrefix(name, "~$")
}
