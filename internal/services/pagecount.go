package services

import (
	"os"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
	"gitlab.com/tozd/go/errors"
)

// PageCounter computes the number of pages of a document on disk.
type PageCounter interface {
	PageCount(path string) (int, error)
}

// PDFPageCounter counts pages with pdfcpu using relaxed validation, so that
// slightly non-conforming PDFs from scanners are still accepted.
type PDFPageCounter struct {
	conf *model.Configuration
}

func NewPDFPageCounter() *PDFPageCounter {
	conf := model.NewDefaultConfiguration()
	conf.ValidationMode = model.ValidationRelaxed
	return &PDFPageCounter{conf: conf}
}

func (c *PDFPageCounter) PageCount(path string) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, errors.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()

	pages, err := api.PageCount(f, c.conf)
	if err != nil {
		return 0, errors.Errorf("failed to get page count: %w", err)
	}
	return pages, nil
}
