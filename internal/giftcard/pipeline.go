package giftcard

import (
	"bytes"
	"context"
	"fmt"

	"github.com/zombor/giftcard-ocr/internal/scanning"
)

// Outcome is the resolution of the file at Index in a batch
type Outcome struct {
	Index int
	Card  *scanning.CardData
	Err   error
}

// Pipeline drives a batch of files through a scanner one at a time, in order
type Pipeline struct {
	scanner scanning.Scanner
}

// NewPipeline creates a new Pipeline
func NewPipeline(scanner scanning.Scanner) *Pipeline {
	return &Pipeline{scanner: scanner}
}

// Run scans files sequentially and calls emit once per file, in order.
// A failed file does not stop the batch; a canceled ctx stops it before the next file.
func (p *Pipeline) Run(ctx context.Context, files []*File, cred scanning.Credential, emit func(Outcome)) {
	for i, f := range files {
		if ctx.Err() != nil {
			return
		}

		card, err := p.scan(ctx, f, cred)
		if ctx.Err() != nil {
			return
		}
		emit(Outcome{Index: i, Card: card, Err: err})
	}
}

func (p *Pipeline) scan(ctx context.Context, f *File, cred scanning.Credential) (*scanning.CardData, error) {
	payload, err := scanning.EncodeImage(bytes.NewReader(f.data), f.ContentType)
	if err != nil {
		return nil, fmt.Errorf("encoding %s: %w", f.Name, err)
	}
	return p.scanner.ScanCard(ctx, payload, cred)
}
