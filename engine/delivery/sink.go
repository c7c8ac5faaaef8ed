// Package delivery saves conversion results. Every Deliver call acquires its own
// transient handle and releases it before returning, whether or not the save succeeded.
package delivery

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/klauspost/compress/zip"
)

// Result is one produced artifact. It is handed to a Sink and never retained by the producer.
type Result struct {
	Bytes    []byte
	Filename string
	MIMEType string
}

// Sink receives conversion results
type Sink interface {
	Deliver(ctx context.Context, result Result) error
}

// Func adapts a function to a Sink
type Func func(ctx context.Context, result Result) error

// Deliver calls f
func (f Func) Deliver(ctx context.Context, result Result) error {
	return f(ctx, result)
}

// SafeName reduces a suggested filename to a plain base name
func SafeName(name string) string {
	name = filepath.Base(filepath.Clean(strings.ReplaceAll(name, "\\", "/")))
	if name == "." || name == "/" || name == ".." || name == "" {
		return "output"
	}
	return name
}

// DirSink writes each result into a directory
type DirSink struct {
	Dir string
	// NoClobber keeps existing files by suffixing the new name with _1, _2, ...
	NoClobber bool
}

// NewDirSink returns a sink writing into dir, creating it if needed
func NewDirSink(dir string) (*DirSink, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create output directory: %w", err)
	}
	return &DirSink{Dir: dir}, nil
}

// Deliver writes the bytes to a private temp file in the target directory and renames it into place.
// The temp file is always closed, and removed unless the rename succeeded.
func (s *DirSink) Deliver(ctx context.Context, result Result) error {
	target := filepath.Join(s.Dir, SafeName(result.Filename))
	if s.NoClobber {
		target = freeName(target)
	}

	tmp, err := os.CreateTemp(s.Dir, ".piconverter-*")
	if err != nil {
		return fmt.Errorf("create temp file for %s: %w", target, err)
	}
	tmpName := tmp.Name()
	renamed := false
	defer func() {
		tmp.Close()
		if !renamed {
			os.Remove(tmpName)
		}
	}()

	if _, err := tmp.Write(result.Bytes); err != nil {
		return fmt.Errorf("write %s: %w", target, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close %s: %w", target, err)
	}
	if err := os.Chmod(tmpName, 0o644); err != nil {
		return fmt.Errorf("chmod %s: %w", target, err)
	}
	if err := os.Rename(tmpName, target); err != nil {
		return fmt.Errorf("save %s: %w", target, err)
	}
	renamed = true
	return nil
}

func freeName(path string) string {
	if _, err := os.Lstat(path); os.IsNotExist(err) {
		return path
	}
	ext := filepath.Ext(path)
	stem := strings.TrimSuffix(path, ext)
	for i := 1; ; i++ {
		candidate := fmt.Sprintf("%s_%d%s", stem, i, ext)
		if _, err := os.Lstat(candidate); os.IsNotExist(err) {
			return candidate
		}
	}
}

// ZipSink streams every result as an entry of one zip archive
type ZipSink struct {
	mu    sync.Mutex
	zw    *zip.Writer
	names map[string]int
	count int
}

// NewZipSink wraps w. Call Close to write the central directory.
func NewZipSink(w io.Writer) *ZipSink {
	return &ZipSink{zw: zip.NewWriter(w), names: map[string]int{}}
}

// Deliver adds one entry, renaming duplicates so no entry is overwritten
func (s *ZipSink) Deliver(ctx context.Context, result Result) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	name := SafeName(result.Filename)
	if n := s.names[name]; n > 0 {
		ext := filepath.Ext(name)
		s.names[name] = n + 1
		name = fmt.Sprintf("%s_%d%s", strings.TrimSuffix(name, ext), n+1, ext)
	} else {
		s.names[name] = 1
	}

	entry, err := s.zw.Create(name)
	if err != nil {
		return fmt.Errorf("add %s to archive: %w", name, err)
	}
	if _, err := entry.Write(result.Bytes); err != nil {
		return fmt.Errorf("write %s to archive: %w", name, err)
	}
	s.count++
	return s.zw.Flush()
}

// Count returns the number of entries written
func (s *ZipSink) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.count
}

// Close finishes the archive
func (s *ZipSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.zw.Close()
}

// Buffer keeps results in memory, in delivery order
type Buffer struct {
	mu      sync.Mutex
	results []Result
}

// Deliver records a copy of the result
func (b *Buffer) Deliver(ctx context.Context, result Result) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	result.Bytes = append([]byte(nil), result.Bytes...)
	b.results = append(b.results, result)
	return nil
}

// Results returns the delivered results
func (b *Buffer) Results() []Result {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]Result(nil), b.results...)
}

// Filenames returns the delivered filenames in order
func (b *Buffer) Filenames() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	names := make([]string, len(b.results))
	for i, r := range b.results {
		names[i] = r.Filename
	}
	return names
}
