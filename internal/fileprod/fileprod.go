// Package fileprod resolves URL paths to byte blobs through an ordered chain
// of producers (filesystem, embedded resources, synthetic strings), with an
// alias rewriter in front and a TTL cache behind a single-flight gate.
package fileprod

import (
	"time"
)

// Blob is a resolved static asset.
type Blob struct {
	Path        string
	Data        []byte
	ContentType string
	Generated   time.Time
}

// Producer is a source of bytes for a URL path. A nil Blob with a nil error
// means "not mine"; the pipeline asks the next producer in order.
type Producer interface {
	Produce(path string) (*Blob, error)
}
