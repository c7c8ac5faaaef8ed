package engine

// Per-tool rendering constants. They are deliberately independent of each other.
const (
	ExtractScale   = 2.0
	ExtractQuality = 95

	ShrinkPDFScale   = 1.2
	ShrinkPDFQuality = 60

	ShrinkImageQuality = 70
	ShrinkImageMaxDim  = 1920
)

// Output filenames of the multi-input tools
const (
	CombinedImagesFilename = "combined_images.pdf"
	MergedDocumentFilename = "merged_document.pdf"
)

const (
	mimeJPEG = "image/jpeg"
	mimePDF  = "application/pdf"
)
