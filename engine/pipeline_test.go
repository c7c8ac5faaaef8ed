package engine

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/drummonds/piconverter/config"
	"github.com/drummonds/piconverter/engine/delivery"
	"github.com/drummonds/piconverter/internal/testsupport"
	"github.com/drummonds/piconverter/queue"
)

func mustTool(t *testing.T, kind ToolKind) ToolDescriptor {
	t.Helper()
	tool, err := LookupTool(string(kind))
	require.NoError(t, err)
	return tool
}

func statuses(q *queue.Queue) []queue.Status {
	var out []queue.Status
	for _, item := range q.Items() {
		out = append(out, item.Status)
	}
	return out
}

func TestDispatchSuccess(t *testing.T) {
	fake := &fakeRenderer{pages: letterPages(2)}
	p := NewPipeline(mustTool(t, ToolPDFToImage), NewConverter(fakeProvider(fake)))
	q := queue.New(t.TempDir())
	defer q.Close()
	q.Select([]queue.Payload{pdfPayload("doc.pdf")}, false)

	var sink delivery.Buffer
	require.NoError(t, p.Dispatch(context.Background(), q, &sink))

	assert.Equal(t, []string{"doc_page_1.jpg", "doc_page_2.jpg"}, sink.Filenames())
	assert.Equal(t, State{}, p.State())
	assert.Equal(t, []queue.Status{queue.StatusCompleted}, statuses(q))
}

func TestDispatchEmptyQueue(t *testing.T) {
	p := NewPipeline(mustTool(t, ToolMergePDF), NewConverter(nil))
	q := queue.New(t.TempDir())

	var sink delivery.Buffer
	err := p.Dispatch(context.Background(), q, &sink)
	assert.ErrorIs(t, err, ErrEmptyQueue)
	assert.Equal(t, State{}, p.State())
	assert.Empty(t, sink.Results())
}

func TestDispatchFailureSurfacesGenericMessage(t *testing.T) {
	fake := &fakeRenderer{pages: letterPages(3), failPage: 3}
	p := NewPipeline(mustTool(t, ToolPDFToImage), NewConverter(fakeProvider(fake)))
	q := queue.New(t.TempDir())
	defer q.Close()
	q.Select([]queue.Payload{pdfPayload("doc.pdf")}, false)

	var sink delivery.Buffer
	err := p.Dispatch(context.Background(), q, &sink)
	require.ErrorIs(t, err, ErrProcessingFailed)
	assert.Equal(t, GenericFailureMessage, err.Error())

	state := p.State()
	assert.False(t, state.Processing)
	assert.Equal(t, "An error occurred during processing. Please try again.", state.LastError)
	assert.Equal(t, []queue.Status{queue.StatusError}, statuses(q))
	// no rollback of what was already delivered
	assert.Equal(t, []string{"doc_page_1.jpg", "doc_page_2.jpg"}, sink.Filenames())
}

func TestDispatchClearsErrorOnNextAttempt(t *testing.T) {
	fake := &fakeRenderer{pages: letterPages(1), failPage: 1}
	p := NewPipeline(mustTool(t, ToolShrinkPDF), NewConverter(fakeProvider(fake)))
	q := queue.New(t.TempDir())
	defer q.Close()
	q.Select([]queue.Payload{pdfPayload("doc.pdf")}, false)

	require.Error(t, p.Dispatch(context.Background(), q, &delivery.Buffer{}))
	require.NotEmpty(t, p.State().LastError)

	fake.failPage = 0
	require.NoError(t, p.Dispatch(context.Background(), q, &delivery.Buffer{}))
	assert.Equal(t, State{}, p.State())
}

func TestDispatchRecoversPanics(t *testing.T) {
	fake := &fakeRenderer{pages: letterPages(2), panicPage: 1}
	p := NewPipeline(mustTool(t, ToolShrinkPDF), NewConverter(fakeProvider(fake)))
	q := queue.New(t.TempDir())
	defer q.Close()
	q.Select([]queue.Payload{pdfPayload("doc.pdf")}, false)

	err := p.Dispatch(context.Background(), q, &delivery.Buffer{})
	assert.ErrorIs(t, err, ErrProcessingFailed)
	assert.Equal(t, GenericFailureMessage, p.State().LastError)
	assert.False(t, p.State().Processing)
}

func TestDispatchWhileProcessingIsRejected(t *testing.T) {
	entered := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once
	fake := &fakeRenderer{
		pages: letterPages(1),
		onRender: func(int) {
			once.Do(func() { close(entered) })
			<-release
		},
	}
	p := NewPipeline(mustTool(t, ToolPDFToImage), NewConverter(fakeProvider(fake)))
	q := queue.New(t.TempDir())
	defer q.Close()
	q.Select([]queue.Payload{pdfPayload("doc.pdf")}, false)

	var sink delivery.Buffer
	done := make(chan error, 1)
	go func() { done <- p.Dispatch(context.Background(), q, &sink) }()
	<-entered

	assert.True(t, p.State().Processing)
	assert.Equal(t, []queue.Status{queue.StatusProcessing}, statuses(q))

	var second delivery.Buffer
	err := p.Dispatch(context.Background(), q, &second)
	assert.ErrorIs(t, err, ErrBusy)
	assert.Empty(t, second.Results())
	assert.True(t, p.State().Processing, "a rejected trigger changes nothing")

	close(release)
	require.NoError(t, <-done)
	assert.Len(t, sink.Results(), 1)
	assert.False(t, p.State().Processing)
}

func TestDispatchSingleInputToolUsesFirstItem(t *testing.T) {
	p := NewPipeline(mustTool(t, ToolShrinkImage), NewConverter(nil))
	q := queue.New(t.TempDir())
	defer q.Close()
	q.Select([]queue.Payload{
		imagePayload("first.png", "image/png", testsupport.PNG(t, 20, 20)),
		imagePayload("second.png", "image/png", testsupport.PNG(t, 20, 20)),
	}, false)

	var sink delivery.Buffer
	require.NoError(t, p.Dispatch(context.Background(), q, &sink))
	assert.Equal(t, []string{"optimized_first.jpg"}, sink.Filenames())
	assert.Equal(t, []queue.Status{queue.StatusCompleted, queue.StatusPending}, statuses(q))
}

func TestDispatchIgnoresCallerCancellation(t *testing.T) {
	p := NewPipeline(mustTool(t, ToolMergePDF), NewConverter(nil))
	q := queue.New(t.TempDir())
	defer q.Close()
	q.Select([]queue.Payload{sizedPDF("a.pdf", 100), sizedPDF("b.pdf", 200)}, true)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var seen error
	sink := delivery.Func(func(ctx context.Context, r delivery.Result) error {
		seen = ctx.Err()
		return nil
	})
	require.NoError(t, p.Dispatch(ctx, q, sink))
	assert.NoError(t, seen)
}

func TestToolRegistry(t *testing.T) {
	tools := Tools()
	require.Len(t, tools, 5)

	multi := map[ToolKind]bool{}
	for _, tool := range tools {
		multi[tool.Kind] = tool.AllowsMultipleInputs
	}
	assert.Equal(t, map[ToolKind]bool{
		ToolPDFToImage:  false,
		ToolImageToPDF:  true,
		ToolMergePDF:    true,
		ToolShrinkPDF:   false,
		ToolShrinkImage: false,
	}, multi)

	tool, err := LookupTool("Merge-PDF")
	require.NoError(t, err)
	assert.Equal(t, "Merge PDFs", tool.Title)
	assert.Equal(t, "application/pdf", tool.AcceptFilter())
	assert.True(t, tool.AcceptsMIME("application/pdf"))
	assert.False(t, tool.AcceptsMIME("image/png"))

	img := mustTool(t, ToolShrinkImage)
	assert.Equal(t, "image/*", img.AcceptFilter())
	assert.True(t, img.AcceptsMIME("image/webp"))

	_, err = LookupTool("ocr")
	assert.ErrorIs(t, err, ErrUnknownTool)
}

func TestWorkspaceLanes(t *testing.T) {
	ws := NewWorkspace(fakeProvider(&fakeRenderer{pages: letterPages(1)}), t.TempDir(), config.Limits{})
	defer ws.Close()

	require.Len(t, ws.Lanes(), 5)
	merge, err := ws.Lane("merge-pdf")
	require.NoError(t, err)
	merge.Select([]queue.Payload{sizedPDF("a.pdf", 100)})
	merge.Select([]queue.Payload{sizedPDF("b.pdf", 200)})
	assert.Equal(t, 2, merge.Queue.Len(), "merge appends")

	shrink, err := ws.Lane("shrink-pdf")
	require.NoError(t, err)
	shrink.Select([]queue.Payload{pdfPayload("a.pdf")})
	shrink.Select([]queue.Payload{pdfPayload("b.pdf")})
	require.Equal(t, 1, shrink.Queue.Len(), "shrink replaces")
	assert.Equal(t, "b.pdf", shrink.Queue.Items()[0].Payload.Name)

	var sink delivery.Buffer
	require.NoError(t, shrink.Execute(context.Background(), &sink))
	assert.Equal(t, []string{"shrunk_b.pdf"}, sink.Filenames())

	_, err = ws.Lane("nope")
	assert.ErrorIs(t, err, ErrUnknownTool)
}
