// Package engine runs the conversion tools: a pipeline per tool over its own file queue,
// plus the HTTP and watch surfaces built on top of them.
package engine

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/drummonds/piconverter/config"
	"github.com/drummonds/piconverter/engine/delivery"
	"github.com/drummonds/piconverter/engine/pdfrenderer"
	"github.com/drummonds/piconverter/queue"
)

// Logger is global since we will need it everywhere
var Logger = slog.Default()

// Lane pairs one tool's queue with its pipeline
type Lane struct {
	Tool     ToolDescriptor
	Queue    *queue.Queue
	Pipeline *Pipeline
}

// Select queues payloads using the tool's append or replace rule
func (l *Lane) Select(payloads []queue.Payload) []queue.FileItem {
	return l.Queue.Select(payloads, l.Tool.AllowsMultipleInputs)
}

// Execute dispatches the lane's pipeline over its queue
func (l *Lane) Execute(ctx context.Context, sink delivery.Sink) error {
	return l.Pipeline.Dispatch(ctx, l.Queue, sink)
}

// Workspace holds one lane per tool, all sharing a converter
type Workspace struct {
	Converter *Converter
	Limits    config.Limits

	lanes map[ToolKind]*Lane
	order []ToolKind
}

// NewWorkspace creates a lane for every tool
func NewWorkspace(renderers *pdfrenderer.Provider, previewDir string, limits config.Limits) *Workspace {
	converter := NewConverter(renderers)
	ws := &Workspace{
		Converter: converter,
		Limits:    limits,
		lanes:     map[ToolKind]*Lane{},
	}
	for _, tool := range Tools() {
		ws.lanes[tool.Kind] = &Lane{
			Tool:     tool,
			Queue:    queue.New(previewDir),
			Pipeline: NewPipeline(tool, converter),
		}
		ws.order = append(ws.order, tool.Kind)
	}
	return ws
}

// Lane returns the lane of the named tool
func (ws *Workspace) Lane(kind string) (*Lane, error) {
	tool, err := LookupTool(kind)
	if err != nil {
		return nil, err
	}
	lane, ok := ws.lanes[tool.Kind]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownTool, kind)
	}
	return lane, nil
}

// Lanes returns every lane in tool order
func (ws *Workspace) Lanes() []*Lane {
	lanes := make([]*Lane, 0, len(ws.order))
	for _, kind := range ws.order {
		lanes = append(lanes, ws.lanes[kind])
	}
	return lanes
}

// Close releases every queued preview and the PDF renderer
func (ws *Workspace) Close() error {
	for _, lane := range ws.lanes {
		lane.Queue.Close()
	}
	if ws.Converter.Renderers != nil {
		return ws.Converter.Renderers.Close()
	}
	return nil
}
