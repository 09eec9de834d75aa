package ocr

import "context"

// Backend turns a single page image into plain text.
//
// Implementations must be safe for concurrent use; the pipeline calls them
// from multiple pool workers. A failed page is the caller's problem to
// placeholder, not the backend's.
type Backend interface {
	ExtractText(ctx context.Context, imagePath string) (string, error)
	Name() string
}
