package ocr

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"io"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/docpipe/internal/model"
	"github.com/sells-group/docpipe/internal/resilience"
)

const (
	mistralOCREndpoint  = "https://api.mistral.ai/v1/ocr"
	defaultMistralModel = "pixtral-large-latest"
)

// MistralOCR extracts text using the Mistral OCR API.
type MistralOCR struct {
	apiKey   string
	model    string
	endpoint string
	client   *http.Client
}

// NewMistralOCR creates a MistralOCR engine. If model is empty, the default is used.
func NewMistralOCR(apiKey, model string) *MistralOCR {
	if model == "" {
		model = defaultMistralModel
	}
	return &MistralOCR{
		apiKey:   apiKey,
		model:    model,
		endpoint: mistralOCREndpoint,
		client:   &http.Client{},
	}
}

type mistralOCRRequest struct {
	Model    string             `json:"model"`
	Document mistralOCRDocument `json:"document"`
}

type mistralOCRDocument struct {
	Type        string `json:"type"`
	DocumentURL string `json:"document_url"`
}

type mistralOCRResponse struct {
	Pages []mistralOCRPage `json:"pages"`
}

type mistralOCRPage struct {
	Index    int    `json:"index"`
	Markdown string `json:"markdown"`
}

// Recognize uploads the file as a base64 data URL and concatenates the
// returned page markdown. Mistral reports no per-word confidences, so
// the score leans on the text heuristics with a fixed word confidence.
func (m *MistralOCR) Recognize(ctx context.Context, path string) (model.OCRResult, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return model.OCRResult{}, eris.Wrapf(err, "ocr: read %s", path)
	}

	mimeType := mime.TypeByExtension(filepath.Ext(path))
	if mimeType == "" {
		mimeType = "application/pdf"
	}
	dataURL := "data:" + mimeType + ";base64," + base64.StdEncoding.EncodeToString(data)

	reqBody := mistralOCRRequest{
		Model: m.model,
		Document: mistralOCRDocument{
			Type:        "document_url",
			DocumentURL: dataURL,
		},
	}
	bodyBytes, err := json.Marshal(reqBody)
	if err != nil {
		return model.OCRResult{}, eris.Wrap(err, "ocr: marshal mistral request")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.endpoint, bytes.NewReader(bodyBytes))
	if err != nil {
		return model.OCRResult{}, eris.Wrap(err, "ocr: create mistral request")
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+m.apiKey)

	resp, err := m.client.Do(req)
	if err != nil {
		return model.OCRResult{}, resilience.NewProviderError(
			eris.Wrap(err, "ocr: mistral API call"), "mistral", m.model)
	}
	defer resp.Body.Close() //nolint:errcheck

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return model.OCRResult{}, eris.Wrap(err, "ocr: read mistral response")
	}

	if resp.StatusCode != http.StatusOK {
		apiErr := eris.Errorf("ocr: mistral API returned %d: %s", resp.StatusCode, string(respBody))
		if resilience.IsTransientHTTPStatus(resp.StatusCode) {
			return model.OCRResult{}, resilience.NewTransientError(apiErr, resp.StatusCode)
		}
		return model.OCRResult{}, resilience.NewProviderError(apiErr, "mistral", m.model)
	}

	var ocrResp mistralOCRResponse
	if err := json.Unmarshal(respBody, &ocrResp); err != nil {
		return model.OCRResult{}, eris.Wrap(err, "ocr: unmarshal mistral response")
	}

	var sb strings.Builder
	for i, page := range ocrResp.Pages {
		if i > 0 {
			sb.WriteString("\n\n")
		}
		sb.WriteString(page.Markdown)
	}
	text := sb.String()
	words := syntheticWords(text)

	return model.OCRResult{
		Text:       text,
		Confidence: score(words, text),
		Words:      words,
		Engine:     "mistral",
	}, nil
}

// syntheticWords assigns a flat confidence to each whitespace-delimited
// token so the weighted score remains comparable across engines.
func syntheticWords(text string) []model.OCRWord {
	fields := strings.Fields(text)
	words := make([]model.OCRWord, len(fields))
	for i, f := range fields {
		words[i] = model.OCRWord{Text: f, Confidence: 0.9}
	}
	return words
}
