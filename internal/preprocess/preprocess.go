// Package preprocess prepares uploaded files for OCR. PDF inputs are
// trimmed to their first page and losslessly optimized with pdfcpu, then
// rasterized; every artifact is cleaned up for text recognition before it
// reaches an engine.
package preprocess

import (
	"bytes"
	"image"
	"image/color"
	"image/png"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	_ "image/jpeg" // register decoders for uploaded photos

	"github.com/pdfcpu/pdfcpu/pkg/api"
	pdfmodel "github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// Preprocessor writes derived artifacts under WorkDir. Output paths are
// deterministic per input so re-running a stage overwrites rather than
// accumulates.
type Preprocessor struct {
	WorkDir string

	// PdftoppmPath is the pdftoppm binary used to rasterize PDF pages.
	// Empty means "pdftoppm" on PATH.
	PdftoppmPath string
}

func New(workDir string) *Preprocessor {
	return &Preprocessor{WorkDir: workDir}
}

// Normalize reduces a multi-page PDF to a single first-page PDF.
// Timetables are one-page documents; later pages are answer keys or
// duplicates that only slow OCR down. Non-PDF inputs are returned as is.
func (p *Preprocessor) Normalize(path string) (string, error) {
	if !isPDF(path) {
		return path, nil
	}
	out := p.derivedPath(path, "normalized", ".pdf")
	if err := os.MkdirAll(filepath.Dir(out), 0o755); err != nil {
		return "", eris.Wrap(err, "preprocess: create work dir")
	}

	cfg := pdfmodel.NewDefaultConfiguration()
	cfg.ValidationMode = pdfmodel.ValidationRelaxed
	if err := api.TrimFile(path, out, []string{"1"}, cfg); err != nil {
		return "", eris.Wrap(err, "preprocess: trim to first page")
	}
	zap.L().Debug("normalized pdf", zap.String("in", path), zap.String("out", out))
	return out, nil
}

// Compress runs pdfcpu's lossless optimizer over a PDF. Non-PDF inputs
// pass through.
func (p *Preprocessor) Compress(path string) (string, error) {
	if !isPDF(path) {
		return path, nil
	}
	out := p.derivedPath(path, "compressed", ".pdf")
	if err := os.MkdirAll(filepath.Dir(out), 0o755); err != nil {
		return "", eris.Wrap(err, "preprocess: create work dir")
	}

	cfg := pdfmodel.NewDefaultConfiguration()
	cfg.ValidationMode = pdfmodel.ValidationRelaxed
	if err := api.OptimizeFile(path, out, cfg); err != nil {
		return "", eris.Wrap(err, "preprocess: optimize")
	}
	zap.L().Debug("compressed pdf", zap.String("in", path), zap.String("out", out))
	return out, nil
}

// Enhance produces the image the OCR engines actually read. PDFs are
// rasterized to a first-page PNG first; tesseract cannot read PDF input.
// Every image then gets a grayscale conversion and a contrast stretch
// over its observed luminance range.
func (p *Preprocessor) Enhance(path string) (string, error) {
	if err := os.MkdirAll(p.WorkDir, 0o755); err != nil {
		return "", eris.Wrap(err, "preprocess: create work dir")
	}

	src := path
	if isPDF(path) {
		raster, err := p.rasterize(path)
		if err != nil {
			return "", err
		}
		src = raster
	}

	out := p.derivedPath(src, "enhanced", ".png")
	if err := enhanceImage(src, out); err != nil {
		if src != path {
			// The raw raster is still usable without cleanup.
			zap.L().Warn("image cleanup failed, using raw raster",
				zap.String("file", src),
				zap.Error(err),
			)
			return src, nil
		}
		return "", err
	}
	zap.L().Debug("enhanced image", zap.String("in", path), zap.String("out", out))
	return out, nil
}

// rasterize renders the first PDF page to a 200 DPI PNG with pdftoppm.
func (p *Preprocessor) rasterize(path string) (string, error) {
	out := p.derivedPath(path, "raster", ".png")
	bin := p.PdftoppmPath
	if bin == "" {
		bin = "pdftoppm"
	}

	// -singlefile makes pdftoppm write exactly <prefix>.png.
	prefix := strings.TrimSuffix(out, ".png")
	cmd := exec.Command(bin, "-png", "-r", "200", "-f", "1", "-l", "1", "-singlefile", path, prefix)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return "", eris.Wrapf(err, "preprocess: pdftoppm failed for %s: %s", path, stderr.String())
	}
	return out, nil
}

// enhanceImage writes a grayscale, contrast-stretched PNG of src to dst.
func enhanceImage(src, dst string) error {
	f, err := os.Open(src)
	if err != nil {
		return eris.Wrap(err, "preprocess: open image")
	}
	defer f.Close()

	img, _, err := image.Decode(f)
	if err != nil {
		return eris.Wrap(err, "preprocess: decode image")
	}

	bounds := img.Bounds()
	gray := image.NewGray(bounds)
	minL, maxL := uint8(255), uint8(0)
	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		for x := bounds.Min.X; x < bounds.Max.X; x++ {
			c := color.GrayModel.Convert(img.At(x, y)).(color.Gray)
			gray.SetGray(x, y, c)
			if c.Y < minL {
				minL = c.Y
			}
			if c.Y > maxL {
				maxL = c.Y
			}
		}
	}
	if maxL > minL {
		span := float64(maxL - minL)
		for i, v := range gray.Pix {
			gray.Pix[i] = uint8(float64(v-minL) / span * 255)
		}
	}

	outF, err := os.Create(dst)
	if err != nil {
		return eris.Wrap(err, "preprocess: create enhanced image")
	}
	if err := png.Encode(outF, gray); err != nil {
		outF.Close()
		return eris.Wrap(err, "preprocess: encode enhanced image")
	}
	return eris.Wrap(outF.Close(), "preprocess: close enhanced image")
}

// PageCount reports the number of pages in a PDF, 1 for other file types.
func (p *Preprocessor) PageCount(path string) (int, error) {
	if !isPDF(path) {
		return 1, nil
	}
	n, err := api.PageCountFile(path)
	if err != nil {
		return 0, eris.Wrap(err, "preprocess: page count")
	}
	return n, nil
}

func (p *Preprocessor) derivedPath(path, stage, ext string) string {
	base := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	return filepath.Join(p.WorkDir, base+"_"+stage+ext)
}

func isPDF(path string) bool {
	return strings.EqualFold(filepath.Ext(path), ".pdf")
}
