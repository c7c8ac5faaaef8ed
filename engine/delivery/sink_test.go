package delivery

import (
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/klauspost/compress/zip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDirSinkWritesFile(t *testing.T) {
	dir := t.TempDir()
	sink, err := NewDirSink(filepath.Join(dir, "out"))
	require.NoError(t, err)

	err = sink.Deliver(context.Background(), Result{
		Bytes:    []byte("hello"),
		Filename: "report_page_1.jpg",
		MIMEType: "image/jpeg",
	})
	require.NoError(t, err)

	data, err := os.ReadFile(filepath.Join(dir, "out", "report_page_1.jpg"))
	require.NoError(t, err)
	assert.Equal(t, "hello", string(data))

	entries, err := os.ReadDir(filepath.Join(dir, "out"))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "no temp files should remain")
}

func TestDirSinkStripsDirectories(t *testing.T) {
	dir := t.TempDir()
	sink, err := NewDirSink(dir)
	require.NoError(t, err)

	require.NoError(t, sink.Deliver(context.Background(), Result{Bytes: []byte("x"), Filename: "../../escape.pdf"}))
	_, err = os.Stat(filepath.Join(dir, "escape.pdf"))
	assert.NoError(t, err)
}

func TestDirSinkFailureLeavesNoTempFile(t *testing.T) {
	dir := t.TempDir()
	sink, err := NewDirSink(dir)
	require.NoError(t, err)

	// a directory occupying the target name makes the rename fail
	require.NoError(t, os.Mkdir(filepath.Join(dir, "taken.pdf"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "taken.pdf", "keep"), []byte("x"), 0o644))

	err = sink.Deliver(context.Background(), Result{Bytes: []byte("x"), Filename: "taken.pdf"})
	require.Error(t, err)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "taken.pdf", entries[0].Name())
}

func TestSafeName(t *testing.T) {
	assert.Equal(t, "a.pdf", SafeName("a.pdf"))
	assert.Equal(t, "b.png", SafeName("dir/sub/b.png"))
	assert.Equal(t, "c.jpg", SafeName(`C:\tmp\c.jpg`))
	assert.Equal(t, "output", SafeName(""))
	assert.Equal(t, "output", SafeName(".."))
}

func TestZipSinkEntriesInOrder(t *testing.T) {
	var buf bytes.Buffer
	sink := NewZipSink(&buf)
	ctx := context.Background()

	require.NoError(t, sink.Deliver(ctx, Result{Bytes: []byte("one"), Filename: "doc_page_1.jpg"}))
	require.NoError(t, sink.Deliver(ctx, Result{Bytes: []byte("two"), Filename: "doc_page_2.jpg"}))
	require.NoError(t, sink.Deliver(ctx, Result{Bytes: []byte("dup"), Filename: "doc_page_1.jpg"}))
	assert.Equal(t, 3, sink.Count())
	require.NoError(t, sink.Close())

	zr, err := zip.NewReader(bytes.NewReader(buf.Bytes()), int64(buf.Len()))
	require.NoError(t, err)
	require.Len(t, zr.File, 3)

	names := []string{zr.File[0].Name, zr.File[1].Name, zr.File[2].Name}
	assert.Equal(t, []string{"doc_page_1.jpg", "doc_page_2.jpg", "doc_page_1_2.jpg"}, names)

	rc, err := zr.File[1].Open()
	require.NoError(t, err)
	defer rc.Close()
	body, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Equal(t, "two", string(body))
}

func TestBufferCopiesBytes(t *testing.T) {
	var b Buffer
	data := []byte("abc")
	require.NoError(t, b.Deliver(context.Background(), Result{Bytes: data, Filename: "x.pdf"}))
	data[0] = 'z'

	results := b.Results()
	require.Len(t, results, 1)
	assert.Equal(t, "abc", string(results[0].Bytes))
	assert.Equal(t, []string{"x.pdf"}, b.Filenames())
}

func TestFuncSink(t *testing.T) {
	var got string
	var s Sink = Func(func(ctx context.Context, r Result) error {
		got = r.Filename
		return nil
	})
	require.NoError(t, s.Deliver(context.Background(), Result{Filename: "merged.pdf"}))
	assert.Equal(t, "merged.pdf", got)
}

func TestDirSinkNoClobber(t *testing.T) {
	dir := t.TempDir()
	sink := &DirSink{Dir: dir, NoClobber: true}
	ctx := context.Background()

	for _, body := range []string{"first", "second", "third"} {
		require.NoError(t, sink.Deliver(ctx, Result{Bytes: []byte(body), Filename: "merged_document.pdf"}))
	}

	for name, want := range map[string]string{
		"merged_document.pdf":   "first",
		"merged_document_1.pdf": "second",
		"merged_document_2.pdf": "third",
	} {
		data, err := os.ReadFile(filepath.Join(dir, name))
		require.NoError(t, err)
		assert.Equal(t, want, string(data))
	}
}
