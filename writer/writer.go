package writer

import (
	"formlib/ir/raw"
)

type Config struct {
	// Version overrides the document's recorded header version.
	Version string
}

// Writer serializes a complete raw.Document into a standalone byte stream:
// a full rewrite with a fresh cross-reference table, never an incremental
// update.
type Writer interface {
	Write(doc *raw.Document) ([]byte, error)
	SerializeObject(ref raw.ObjectRef, obj raw.Object) ([]byte, error)
}

func New(cfg Config) Writer { return &impl{cfg: cfg} }

// Trailer keys that describe the byte stream being replaced; they must not
// leak into regenerated output.
var staleTrailerKeys = []string{"Prev", "XRefStm", "Encrypt"}
