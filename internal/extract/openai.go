package extract

import (
	"context"
	"encoding/base64"
	"mime"
	"os"
	"path/filepath"

	"github.com/rotisserie/eris"

	"github.com/sells-group/docpipe/internal/model"
	"github.com/sells-group/docpipe/pkg/openai"
)

// OpenAIProvider extracts timetables with a GPT vision model.
type OpenAIProvider struct {
	client openai.Client
	model  string
}

func (p *OpenAIProvider) Name() string  { return "openai" }
func (p *OpenAIProvider) Model() string { return p.model }

func (p *OpenAIProvider) Extract(ctx context.Context, imagePath string) (*model.Timetable, error) {
	data, err := os.ReadFile(imagePath)
	if err != nil {
		return nil, eris.Wrapf(err, "extract: read image %s", imagePath)
	}

	dataURL := "data:" + mediaType(imagePath) + ";base64," +
		base64.StdEncoding.EncodeToString(data)

	temp := 0.0
	resp, err := p.client.CreateChatCompletion(ctx, openai.ChatRequest{
		Model:       p.model,
		MaxTokens:   4096,
		Temperature: &temp,
		Messages: []openai.Message{
			{Role: "system", Content: []openai.ContentPart{openai.TextPart(systemPrompt)}},
			{Role: "user", Content: []openai.ContentPart{openai.ImagePart(dataURL)}},
		},
	})
	if err != nil {
		// pkg/openai already classifies transport and status errors.
		return nil, err
	}
	if len(resp.Choices) == 0 {
		return nil, eris.New("extract: empty openai response")
	}
	return decodeTimetable(resp.Choices[0].Message.Content)
}

// mediaType guesses a MIME type from the file extension, defaulting to
// PNG which is what the preprocessor emits.
func mediaType(path string) string {
	if mt := mime.TypeByExtension(filepath.Ext(path)); mt != "" {
		return mt
	}
	return "image/png"
}
