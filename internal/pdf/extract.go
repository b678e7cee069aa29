// Package pdf trims uploaded documents down to a requested page range.
package pdf

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"

	"recognition-orchestrator/internal/pagerange"
)

// Extractor copies selected pages of a PDF into a new document.
type Extractor struct{}

func NewExtractor() *Extractor { return &Extractor{} }

func newConfig() *model.Configuration {
	conf := model.NewDefaultConfiguration()
	conf.ValidationMode = model.ValidationRelaxed
	return conf
}

// Extract returns a PDF holding only the pages named by expr, in document
// order. An empty expression keeps every page. Malformed or out-of-range
// expressions are reported as *pagerange.RangeFormatError.
func (e *Extractor) Extract(ctx context.Context, doc []byte, expr string) ([]byte, error) {
	if len(doc) == 0 {
		return nil, errors.New("empty document")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	total, err := api.PageCount(bytes.NewReader(doc), newConfig())
	if err != nil {
		return nil, fmt.Errorf("read page count: %w", err)
	}
	indices, err := pagerange.Parse(expr, total)
	if err != nil {
		return nil, err
	}
	if len(indices) == 0 {
		return nil, errors.New("document has no pages")
	}
	pages := make([]int, len(indices))
	for i, idx := range indices {
		pages[i] = idx + 1
	}
	selection := strings.Split(pagerange.Encode(pages), ",")

	var out bytes.Buffer
	if err := api.Trim(bytes.NewReader(doc), &out, selection, newConfig()); err != nil {
		return nil, fmt.Errorf("trim pages %v: %w", selection, err)
	}
	return out.Bytes(), nil
}
