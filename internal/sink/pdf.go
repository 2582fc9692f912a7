package sink

import (
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
)

// PDFFolder writes each image as a one-page PDF next to where the PNG
// would go, for sharing tall captures with tools that page them.
type PDFFolder struct {
	dir  string
	conf *model.Configuration
}

// NewPDFFolder creates a PDFFolder sink. An empty dir selects DefaultFolder.
func NewPDFFolder(dir string) *PDFFolder {
	if dir == "" {
		dir = DefaultFolder()
	}
	return &PDFFolder{dir: dir, conf: model.NewDefaultConfiguration()}
}

func (p *PDFFolder) WriteImage(_ context.Context, buf []byte, name string) error {
	name = strings.TrimSuffix(sanitize(name), filepath.Ext(name)) + ".pdf"

	var out bytes.Buffer
	imp := pdfcpu.DefaultImportConfig()
	if err := api.ImportImages(nil, &out, []io.Reader{bytes.NewReader(buf)}, imp, p.conf); err != nil {
		return &PersistError{Sink: "pdf", Name: name, Err: err}
	}

	if err := os.MkdirAll(p.dir, 0o755); err != nil {
		return &PersistError{Sink: "pdf", Name: name, Err: err}
	}
	if err := os.WriteFile(filepath.Join(p.dir, name), out.Bytes(), 0o644); err != nil {
		return &PersistError{Sink: "pdf", Name: name, Err: err}
	}
	return nil
}

func (p *PDFFolder) Close() error { return nil }
