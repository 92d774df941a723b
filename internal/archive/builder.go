// Package archive packs rendered certificates into a single zip file.
package archive

import (
	"archive/zip"
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"unicode"

	"github.com/klauspost/compress/flate"
	"go.uber.org/zap"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	apperrors "certifica/issuance-backend/pkg/errors"
)

// Entry is one rendered document to add to an archive. Open is called once,
// when the entry is written, so callers can stream from storage.
type Entry struct {
	DisplayName string
	Code        string
	Ext         string
	Open        func(ctx context.Context) (io.ReadCloser, error)
}

// Result describes a finished archive.
type Result struct {
	Path    string
	Entries []string
	Bytes   int64
}

// Builder writes zip archives at maximum compression.
type Builder struct {
	logger *zap.Logger
}

// NewBuilder creates an archive builder.
func NewBuilder(logger *zap.Logger) *Builder {
	return &Builder{logger: logger}
}

// EntryName returns "{name}_{code}.{ext}" where name is the display name with
// accents folded and every non-alphanumeric character removed. When nothing of
// the name survives the entry is just "{code}.{ext}".
func EntryName(displayName, code, ext string) string {
	ext = strings.TrimPrefix(ext, ".")
	name := Sanitize(displayName)
	if name == "" {
		return fmt.Sprintf("%s.%s", code, ext)
	}
	return fmt.Sprintf("%s_%s.%s", name, code, ext)
}

// Sanitize folds accented letters to ASCII and keeps only [A-Za-z0-9].
func Sanitize(s string) string {
	folded, _, err := transform.String(transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC), s)
	if err != nil {
		folded = s
	}
	var b strings.Builder
	for _, r := range folded {
		if r < 0x80 && (unicode.IsLetter(r) || unicode.IsDigit(r)) {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// Build streams entries into a new zip file at path. It returns only after the
// zip directory is written and the file is synced and closed; on failure the
// partial file is removed.
func (b *Builder) Build(ctx context.Context, path string, entries []Entry) (*Result, error) {
	names := make([]string, len(entries))
	seen := make(map[string]bool, len(entries))
	for i, e := range entries {
		if e.Code == "" || e.Open == nil {
			return nil, apperrors.New(apperrors.CodeInvalidInput, "archive entry %d has no code or source", i)
		}
		name := EntryName(e.DisplayName, e.Code, e.Ext)
		if seen[name] {
			return nil, apperrors.New(apperrors.CodeInvalidInput, "duplicate archive entry %s", name)
		}
		seen[name] = true
		names[i] = name
	}

	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("failed to create archive: %w", err)
	}

	written, err := b.write(ctx, f, entries, names)
	if err == nil {
		err = f.Sync()
	}
	if closeErr := f.Close(); err == nil && closeErr != nil {
		err = fmt.Errorf("failed to close archive: %w", closeErr)
	}
	if err != nil {
		os.Remove(path)
		return nil, err
	}

	b.logger.Info("Archive built",
		zap.String("path", path),
		zap.Int("entries", len(entries)),
		zap.Int64("bytes", written),
	)
	return &Result{Path: path, Entries: names, Bytes: written}, nil
}

func (b *Builder) write(ctx context.Context, f *os.File, entries []Entry, names []string) (int64, error) {
	counter := &countingWriter{w: f}
	zw := zip.NewWriter(counter)
	zw.RegisterCompressor(zip.Deflate, func(out io.Writer) (io.WriteCloser, error) {
		return flate.NewWriter(out, flate.BestCompression)
	})

	for i, e := range entries {
		if err := ctx.Err(); err != nil {
			zw.Close()
			return 0, err
		}
		if err := addEntry(ctx, zw, names[i], e); err != nil {
			zw.Close()
			return 0, err
		}
	}

	if err := zw.Close(); err != nil {
		return 0, fmt.Errorf("failed to finish archive: %w", err)
	}
	return counter.n, nil
}

func addEntry(ctx context.Context, zw *zip.Writer, name string, e Entry) error {
	src, err := e.Open(ctx)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", e.Code, err)
	}
	defer src.Close()

	w, err := zw.CreateHeader(&zip.FileHeader{Name: name, Method: zip.Deflate})
	if err != nil {
		return fmt.Errorf("failed to add %s: %w", name, err)
	}
	if _, err := io.Copy(w, src); err != nil {
		return fmt.Errorf("failed to write %s: %w", name, err)
	}
	return nil
}

type countingWriter struct {
	w io.Writer
	n int64
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.n += int64(n)
	return n, err
}
