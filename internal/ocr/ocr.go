// Package ocr extracts text from document images and scores how
// trustworthy the extraction is. The confidence score feeds the
// pipeline's quality gate.
package ocr

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/sells-group/docpipe/internal/config"
	"github.com/sells-group/docpipe/internal/model"
)

// Engine recognizes text in a document image or PDF.
type Engine interface {
	Recognize(ctx context.Context, path string) (model.OCRResult, error)
}

// NewEngine creates an Engine based on config.
func NewEngine(cfg config.OCRConfig) (Engine, error) {
	switch cfg.Engine {
	case "tesseract", "":
		return NewTesseract(cfg.TesseractPath), nil
	case "mistral":
		if cfg.MistralKey == "" {
			return nil, eris.New("ocr: mistral engine requires mistral_api_key")
		}
		return NewMistralOCR(cfg.MistralKey, cfg.MistralModel), nil
	default:
		return nil, eris.Errorf("ocr: unknown engine %q", cfg.Engine)
	}
}
