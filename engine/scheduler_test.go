package engine

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/drummonds/piconverter/config"
	"github.com/drummonds/piconverter/engine/pdfcompose"
	"github.com/drummonds/piconverter/internal/testsupport"
)

func listDir(t *testing.T, dir string) []string {
	t.Helper()
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	var names []string
	for _, e := range entries {
		names = append(names, e.Name())
	}
	sort.Strings(names)
	return names
}

func TestWatcherMergesInboxInNameOrder(t *testing.T) {
	inbox, outbox := t.TempDir(), t.TempDir()
	testsupport.WriteFile(t, inbox, "02.pdf", testsupport.MinimalPDF(testsupport.PageSize{Width: 200, Height: 100}))
	testsupport.WriteFile(t, inbox, "01.pdf", testsupport.MinimalPDF(testsupport.PageSize{Width: 100, Height: 100}))
	testsupport.WriteFile(t, inbox, "notes.txt", []byte("not a pdf"))

	w, err := NewWatcher(NewConverter(nil), t.TempDir(), config.WatchConfig{
		Tool: "merge-pdf", Inbox: inbox, Outbox: outbox, Delete: true,
	})
	require.NoError(t, err)

	result, err := w.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Len(t, result.Converted, 2)
	assert.Empty(t, result.Failed)
	assert.Equal(t, []string{"merged_document.pdf"}, result.Outputs)

	data, err := os.ReadFile(filepath.Join(outbox, "merged_document.pdf"))
	require.NoError(t, err)
	dims, err := pdfcompose.PageDims(data)
	require.NoError(t, err)
	require.Len(t, dims, 2)
	assert.Equal(t, 100.0, dims[0].Width)
	assert.Equal(t, 200.0, dims[1].Width)

	assert.Equal(t, []string{"notes.txt"}, listDir(t, inbox), "only unaccepted files remain")

	// a second batch does not overwrite the first output
	testsupport.WriteFile(t, inbox, "03.pdf", testsupport.MinimalPDF(testsupport.PageSize{Width: 300, Height: 100}))
	_, err = w.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"merged_document.pdf", "merged_document_1.pdf"}, listDir(t, outbox))
}

func TestWatcherMovesSingleInputsToDoneFolder(t *testing.T) {
	inbox, outbox := t.TempDir(), t.TempDir()
	done := filepath.Join(t.TempDir(), "done")
	testsupport.WriteFile(t, inbox, "a.png", testsupport.PNG(t, 40, 30))
	testsupport.WriteFile(t, inbox, "b.jpg", testsupport.JPEG(t, 30, 40))
	testsupport.WriteFile(t, inbox, "broken.png", []byte("not really a png"))

	w, err := NewWatcher(NewConverter(nil), t.TempDir(), config.WatchConfig{
		Tool: "shrink-image", Inbox: inbox, Outbox: outbox, DoneFolder: done,
	})
	require.NoError(t, err)

	result, err := w.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Len(t, result.Converted, 2)
	assert.Equal(t, []string{filepath.Join(inbox, "broken.png")}, result.Failed)

	assert.Equal(t, []string{"optimized_a.jpg", "optimized_b.jpg"}, listDir(t, outbox))
	assert.Equal(t, []string{"a.png", "b.jpg"}, listDir(t, done))
	assert.Equal(t, []string{"broken.png"}, listDir(t, inbox))
}

func TestWatcherRejectsBadConfig(t *testing.T) {
	_, err := NewWatcher(NewConverter(nil), "", config.WatchConfig{Tool: "ocr", Inbox: "in", Outbox: "out"})
	assert.ErrorIs(t, err, ErrUnknownTool)

	_, err = NewWatcher(NewConverter(nil), "", config.WatchConfig{Tool: "merge-pdf"})
	assert.Error(t, err)
}

func TestWatcherOwnsInbox(t *testing.T) {
	inbox := t.TempDir()
	cfg := config.WatchConfig{Tool: "merge-pdf", Inbox: inbox, Outbox: t.TempDir(), Interval: 60, Delete: true}

	first, err := NewWatcher(NewConverter(nil), t.TempDir(), cfg)
	require.NoError(t, err)
	require.NoError(t, first.Start())

	second, err := NewWatcher(NewConverter(nil), t.TempDir(), cfg)
	require.NoError(t, err)
	assert.ErrorIs(t, second.Start(), ErrInboxLocked)

	require.NoError(t, first.Stop())

	third, err := NewWatcher(NewConverter(nil), t.TempDir(), cfg)
	require.NoError(t, err)
	require.NoError(t, third.Start())
	require.NoError(t, third.Stop())
}
