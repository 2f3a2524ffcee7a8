package export

import (
	"bytes"
	"fmt"
	"io"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu"
)

// WrapPDF places a raster image on a single page of a new PDF document.
func WrapPDF(img []byte) ([]byte, error) {
	if len(img) == 0 {
		return nil, fmt.Errorf("%w: empty image for pdf", ErrBadPayload)
	}
	imp := pdfcpu.DefaultImportConfig()
	var out bytes.Buffer
	if err := api.ImportImages(nil, &out, []io.Reader{bytes.NewReader(img)}, imp, nil); err != nil {
		return nil, fmt.Errorf("export: pdf wrap: %w", err)
	}
	return out.Bytes(), nil
}
