package engine

import (
	"fmt"
	"strings"

	"github.com/drummonds/piconverter/engine/imagecodec"
	"github.com/drummonds/piconverter/queue"
)

// ToolKind identifies one of the conversion tools
type ToolKind string

const (
	ToolPDFToImage  ToolKind = "pdf-to-image"
	ToolImageToPDF  ToolKind = "image-to-pdf"
	ToolMergePDF    ToolKind = "merge-pdf"
	ToolShrinkPDF   ToolKind = "shrink-pdf"
	ToolShrinkImage ToolKind = "shrink-image"
)

// InputKind is the kind of file a tool accepts
type InputKind string

const (
	InputPDF   InputKind = "pdf"
	InputImage InputKind = "image"
)

// ToolDescriptor describes a tool. Descriptors are static.
type ToolDescriptor struct {
	Kind                 ToolKind  `json:"kind"`
	Title                string    `json:"title"`
	Description          string    `json:"description"`
	Accepts              InputKind `json:"accepts"`
	AllowsMultipleInputs bool      `json:"allowsMultipleInputs"`
}

var toolRegistry = []ToolDescriptor{
	{
		Kind:        ToolPDFToImage,
		Title:       "PDF to Image",
		Description: "Convert PDF pages into high-quality JPEG images.",
		Accepts:     InputPDF,
	},
	{
		Kind:                 ToolImageToPDF,
		Title:                "Image to PDF",
		Description:          "Bundle multiple images into a single PDF.",
		Accepts:              InputImage,
		AllowsMultipleInputs: true,
	},
	{
		Kind:                 ToolMergePDF,
		Title:                "Merge PDFs",
		Description:          "Combine multiple PDF documents into one.",
		Accepts:              InputPDF,
		AllowsMultipleInputs: true,
	},
	{
		Kind:        ToolShrinkPDF,
		Title:       "Shrink PDF",
		Description: "Optimize PDF file size without losing readability.",
		Accepts:     InputPDF,
	},
	{
		Kind:        ToolShrinkImage,
		Title:       "Shrink Image",
		Description: "Compress images for web while maintaining clarity.",
		Accepts:     InputImage,
	},
}

// Tools returns every tool in display order
func Tools() []ToolDescriptor {
	return append([]ToolDescriptor(nil), toolRegistry...)
}

// LookupTool finds a tool by kind
func LookupTool(kind string) (ToolDescriptor, error) {
	for _, tool := range toolRegistry {
		if string(tool.Kind) == strings.ToLower(strings.TrimSpace(kind)) {
			return tool, nil
		}
	}
	return ToolDescriptor{}, fmt.Errorf("%w: %q", ErrUnknownTool, kind)
}

// AcceptFilter returns the MIME filter shown to file pickers
func (t ToolDescriptor) AcceptFilter() string {
	if t.Accepts == InputImage {
		return "image/*"
	}
	return "application/pdf"
}

// AcceptsMIME reports whether a file of the given MIME type may be queued for the tool
func (t ToolDescriptor) AcceptsMIME(mimeType string) bool {
	if t.Accepts == InputImage {
		return imagecodec.IsImageMIME(mimeType)
	}
	return queue.IsPDFMIME(mimeType)
}
