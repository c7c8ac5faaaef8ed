// Package queue holds the files selected for a tool, in order, with their status and previews.
package queue

import (
	"log/slog"
	"math/rand"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/drummonds/piconverter/engine/imagecodec"
)

// Logger is injected from main
var Logger = slog.Default()

// Status represents the processing status of a queued file
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusError      Status = "error"
)

// Payload is the raw content of a selected file
type Payload struct {
	Name     string `json:"name"`
	Size     int64  `json:"size"`
	MIMEType string `json:"mimeType"`
	Bytes    []byte `json:"-"`
}

// FileItem is one selected file waiting in a queue
type FileItem struct {
	ID      string   `json:"id"`
	Payload Payload  `json:"payload"`
	Preview *Preview `json:"-"`
	Status  Status   `json:"status"`
	Pages   int      `json:"pages,omitempty"`
}

// HasPreview reports whether the item carries a live preview
func (f FileItem) HasPreview() bool {
	return f.Preview != nil && f.Preview.Path != ""
}

// Queue holds the ordered files selected for one tool. It owns every preview it creates.
type Queue struct {
	previewDir string

	mu      sync.Mutex
	items   []FileItem
	entropy *ulid.MonotonicEntropy
}

// New returns an empty queue writing previews into previewDir ("" means the OS temp dir)
func New(previewDir string) *Queue {
	return &Queue{
		previewDir: previewDir,
		entropy:    ulid.Monotonic(rand.New(rand.NewSource(time.Now().UnixNano())), 0),
	}
}

func (q *Queue) newID() string {
	return ulid.MustNew(ulid.Timestamp(time.Now()), q.entropy).String()
}

// Select wraps each payload as a pending item. In append mode the items are added after the
// existing ones; otherwise the previous items are released and replaced. Selection never fails:
// previews and page probes that cannot be produced are logged and left empty.
func (q *Queue) Select(payloads []Payload, appendMode bool) []FileItem {
	added := make([]FileItem, 0, len(payloads))
	for _, p := range payloads {
		item := FileItem{
			Payload: p,
			Status:  StatusPending,
		}
		if p.Size == 0 {
			item.Payload.Size = int64(len(p.Bytes))
		}
		if imagecodec.IsImageMIME(p.MIMEType) {
			preview, err := NewPreview(q.previewDir, p.Bytes)
			if err != nil {
				Logger.Warn("Unable to create preview", "file", p.Name, "error", err)
			} else {
				item.Preview = preview
			}
		} else if IsPDFMIME(p.MIMEType) {
			pages, err := ProbePages(p.Bytes)
			if err != nil {
				Logger.Debug("Unable to probe page count", "file", p.Name, "error", err)
			}
			item.Pages = pages
		}
		added = append(added, item)
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	for i := range added {
		added[i].ID = q.newID()
	}
	if !appendMode {
		releaseAll(q.items)
		q.items = nil
	}
	q.items = append(q.items, added...)
	Logger.Debug("Files selected", "count", len(added), "append", appendMode, "queued", len(q.items))
	return append([]FileItem(nil), q.items...)
}

// Remove deletes the item with id and releases its preview. Unknown ids are ignored.
func (q *Queue) Remove(id string) []FileItem {
	q.mu.Lock()
	defer q.mu.Unlock()
	for i, item := range q.items {
		if item.ID != id {
			continue
		}
		item.Preview.Release()
		q.items = append(q.items[:i:i], q.items[i+1:]...)
		break
	}
	return append([]FileItem(nil), q.items...)
}

// Items returns a snapshot of the queued items in order
func (q *Queue) Items() []FileItem {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]FileItem(nil), q.items...)
}

// Len returns the number of queued items
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Get returns the item with id
func (q *Queue) Get(id string) (FileItem, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, item := range q.items {
		if item.ID == id {
			return item, true
		}
	}
	return FileItem{}, false
}

// SetStatus updates the status of the listed items, or every item when ids is empty
func (q *Queue) SetStatus(status Status, ids ...string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(ids) == 0 {
		for i := range q.items {
			q.items[i].Status = status
		}
		return
	}
	want := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		want[id] = struct{}{}
	}
	for i := range q.items {
		if _, ok := want[q.items[i].ID]; ok {
			q.items[i].Status = status
		}
	}
}

// Payloads returns the payloads of the queued items in order
func (q *Queue) Payloads() []Payload {
	q.mu.Lock()
	defer q.mu.Unlock()
	payloads := make([]Payload, len(q.items))
	for i, item := range q.items {
		payloads[i] = item.Payload
	}
	return payloads
}

// TotalBytes returns the summed payload size of the queued items
func (q *Queue) TotalBytes() int64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	var total int64
	for _, item := range q.items {
		total += item.Payload.Size
	}
	return total
}

// Close releases every preview and empties the queue
func (q *Queue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	releaseAll(q.items)
	q.items = nil
}

func releaseAll(items []FileItem) {
	for _, item := range items {
		item.Preview.Release()
	}
}
