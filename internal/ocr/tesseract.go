package ocr

import (
	"bytes"
	"context"
	"os"
	"os/exec"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/docpipe/internal/model"
	"github.com/sells-group/docpipe/internal/resilience"
)

// Tesseract runs the tesseract CLI in TSV mode and scores the output.
type Tesseract struct {
	binPath string
}

// NewTesseract creates a Tesseract engine. If binPath is empty,
// "tesseract" is resolved from PATH.
func NewTesseract(binPath string) *Tesseract {
	if binPath == "" {
		binPath = "tesseract"
	}
	return &Tesseract{binPath: binPath}
}

// Recognize runs tesseract with --psm 6 (uniform text block) and parses
// the TSV word table.
func (t *Tesseract) Recognize(ctx context.Context, path string) (model.OCRResult, error) {
	if _, err := os.Stat(path); err != nil {
		return model.OCRResult{}, eris.Wrapf(err, "ocr: input %s", path)
	}

	cmd := exec.CommandContext(ctx, t.binPath, path, "stdout", "--psm", "6", "tsv")

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		wrapped := eris.Wrapf(err, "ocr: tesseract failed for %s: %s", path, stderr.String())
		return model.OCRResult{}, resilience.NewProviderError(wrapped, "tesseract", "")
	}

	words := parseTSV(stdout.String())
	text := joinWords(words)
	result := model.OCRResult{
		Text:       text,
		Confidence: score(words, text),
		Words:      words,
		Engine:     "tesseract",
	}
	zap.L().Debug("tesseract recognized",
		zap.String("path", path),
		zap.Int("words", len(words)),
		zap.Float64("confidence", result.Confidence),
	)
	return result, nil
}

// parseTSV reads tesseract's 12-column TSV output and keeps word rows
// with positive confidence. Confidence is reported 0-100.
func parseTSV(out string) []model.OCRWord {
	var words []model.OCRWord
	lines := strings.Split(out, "\n")
	for i, line := range lines {
		if i == 0 || line == "" { // header row
			continue
		}
		cols := strings.Split(line, "\t")
		if len(cols) < 12 {
			continue
		}
		conf, err := strconv.ParseFloat(cols[10], 64)
		if err != nil || conf <= 0 {
			continue
		}
		text := strings.TrimSpace(cols[11])
		if text == "" {
			continue
		}
		left, _ := strconv.Atoi(cols[6])
		top, _ := strconv.Atoi(cols[7])
		width, _ := strconv.Atoi(cols[8])
		height, _ := strconv.Atoi(cols[9])
		words = append(words, model.OCRWord{
			Text:       text,
			Confidence: conf / 100.0,
			Left:       left,
			Top:        top,
			Width:      width,
			Height:     height,
		})
	}
	return words
}

func joinWords(words []model.OCRWord) string {
	parts := make([]string, len(words))
	for i, w := range words {
		parts[i] = w.Text
	}
	return strings.Join(parts, " ")
}
