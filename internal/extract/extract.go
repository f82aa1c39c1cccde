// Package extract turns a timetable image into structured data using a
// vision-capable AI provider. The provider and model are chosen per
// session, falling back to server config.
package extract

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/sells-group/docpipe/internal/model"
	"github.com/sells-group/docpipe/pkg/anthropic"
	"github.com/sells-group/docpipe/pkg/openai"
)

// Provider extracts a structured timetable from a document image.
type Provider interface {
	Extract(ctx context.Context, imagePath string) (*model.Timetable, error)
	Name() string
	Model() string
}

const (
	defaultAnthropicModel = "claude-sonnet-4-5-20250929"
	defaultOpenAIModel    = "gpt-4o"
)

// New creates a Provider for the given provider name. An empty model
// selects the provider's default.
func New(provider, modelName, credential string) (Provider, error) {
	if credential == "" {
		return nil, eris.Errorf("extract: provider %q requires a credential", provider)
	}
	switch provider {
	case "anthropic", "":
		if modelName == "" {
			modelName = defaultAnthropicModel
		}
		return &AnthropicProvider{
			client: anthropic.NewClient(credential),
			model:  modelName,
		}, nil
	case "openai":
		if modelName == "" {
			modelName = defaultOpenAIModel
		}
		return &OpenAIProvider{
			client: openai.NewClient(credential),
			model:  modelName,
		}, nil
	default:
		return nil, eris.Errorf("extract: unknown provider %q", provider)
	}
}
