package extract

import (
	"context"
	"encoding/base64"
	"os"

	"github.com/rotisserie/eris"

	"github.com/sells-group/docpipe/internal/model"
	"github.com/sells-group/docpipe/internal/resilience"
	"github.com/sells-group/docpipe/pkg/anthropic"
)

// AnthropicProvider extracts timetables with Claude vision.
type AnthropicProvider struct {
	client anthropic.Client
	model  string
}

func (p *AnthropicProvider) Name() string  { return "anthropic" }
func (p *AnthropicProvider) Model() string { return p.model }

func (p *AnthropicProvider) Extract(ctx context.Context, imagePath string) (*model.Timetable, error) {
	data, err := os.ReadFile(imagePath)
	if err != nil {
		return nil, eris.Wrapf(err, "extract: read image %s", imagePath)
	}

	temp := 0.0
	resp, err := p.client.CreateMessage(ctx, anthropic.MessageRequest{
		Model:       p.model,
		MaxTokens:   4096,
		System:      systemPrompt,
		Temperature: &temp,
		Messages: []anthropic.Message{
			{
				Role: "user",
				Image: &anthropic.ImageSource{
					MediaType: mediaType(imagePath),
					Data:      base64.StdEncoding.EncodeToString(data),
				},
			},
		},
	})
	if err != nil {
		return nil, resilience.NewProviderError(err, "anthropic", p.model)
	}
	resp.Usage.LogCost(p.model, "timetable_extraction")

	var text string
	for _, block := range resp.Content {
		if block.Type == "text" {
			text += block.Text
		}
	}
	return decodeTimetable(text)
}
