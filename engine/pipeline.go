package engine

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/drummonds/piconverter/engine/delivery"
	"github.com/drummonds/piconverter/queue"
)

// State is a snapshot of a pipeline
type State struct {
	Processing bool   `json:"processing"`
	LastError  string `json:"lastError,omitempty"`
}

// Pipeline runs one tool's conversion over a queue. At most one run is in flight per pipeline.
type Pipeline struct {
	tool      ToolDescriptor
	converter *Converter

	running atomic.Bool

	mu    sync.Mutex
	state State
}

// NewPipeline returns an idle pipeline for tool
func NewPipeline(tool ToolDescriptor, converter *Converter) *Pipeline {
	return &Pipeline{tool: tool, converter: converter}
}

// Tool returns the descriptor the pipeline runs
func (p *Pipeline) Tool() ToolDescriptor {
	return p.tool
}

// State returns a snapshot of the pipeline state
func (p *Pipeline) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

func (p *Pipeline) setState(s State) {
	p.mu.Lock()
	p.state = s
	p.mu.Unlock()
}

// Dispatch converts the queued files and hands every output to sink.
// It returns ErrBusy while another run is in flight and ErrEmptyQueue when nothing is queued;
// neither changes any state. A failed run is logged in full and reported as ErrProcessingFailed.
// Outputs delivered before a failure are kept.
func (p *Pipeline) Dispatch(ctx context.Context, q *queue.Queue, sink delivery.Sink) error {
	if !p.running.CompareAndSwap(false, true) {
		return ErrBusy
	}
	defer p.running.Store(false)

	items := q.Items()
	if len(items) == 0 {
		return ErrEmptyQueue
	}
	if !p.tool.AllowsMultipleInputs {
		items = items[:1]
	}
	ids := make([]string, len(items))
	payloads := make([]queue.Payload, len(items))
	for i, item := range items {
		ids[i] = item.ID
		payloads[i] = item.Payload
	}

	p.setState(State{Processing: true})
	q.SetStatus(queue.StatusProcessing, ids...)
	start := time.Now()
	Logger.Info("Conversion started", "tool", p.tool.Kind, "files", len(payloads))

	// runs are never cancelled by the caller
	err := p.run(context.WithoutCancel(ctx), payloads, sink)
	if err != nil {
		Logger.Error("Conversion failed", "tool", p.tool.Kind, "duration", time.Since(start), "error", err)
		q.SetStatus(queue.StatusError, ids...)
		p.setState(State{LastError: GenericFailureMessage})
		return ErrProcessingFailed
	}

	q.SetStatus(queue.StatusCompleted, ids...)
	p.setState(State{})
	Logger.Info("Conversion finished", "tool", p.tool.Kind, "duration", time.Since(start))
	return nil
}

func (p *Pipeline) run(ctx context.Context, payloads []queue.Payload, sink delivery.Sink) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic during %s: %v", p.tool.Kind, r)
		}
	}()

	switch p.tool.Kind {
	case ToolPDFToImage:
		return p.converter.PDFToImages(ctx, payloads[0], sink)
	case ToolImageToPDF:
		return p.converter.ImagesToPDF(ctx, payloads, sink)
	case ToolMergePDF:
		return p.converter.MergePDFs(ctx, payloads, sink)
	case ToolShrinkPDF:
		return p.converter.ShrinkPDF(ctx, payloads[0], sink)
	case ToolShrinkImage:
		return p.converter.ShrinkImage(ctx, payloads[0], sink)
	}
	return fmt.Errorf("%w: %s", ErrUnknownTool, p.tool.Kind)
}
