package adapters

import (
	"context"
	"encoding/json"
	"errors"
	"strings"

	"github.com/ZanzyTHEbar/lexcare/lexcare/ports"
	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

const anthropicDefaultMaxTokens = 1024

// AnthropicInference calls the Anthropic Messages API.
type AnthropicInference struct {
	client anthropic.Client
}

// NewAnthropicInference creates a client; baseURL may be empty.
func NewAnthropicInference(apiKey, baseURL string) *AnthropicInference {
	opts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	return &AnthropicInference{client: anthropic.NewClient(opts...)}
}

// Complete sends one request. Structured requests carry the schema in the
// system prompt since the Messages API has no response-format switch.
func (p *AnthropicInference) Complete(ctx context.Context, prompt ports.Prompt, opts ports.InferenceOptions) (string, error) {
	maxTokens := opts.MaxTokens
	if maxTokens <= 0 {
		maxTokens = anthropicDefaultMaxTokens
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(opts.Model),
		MaxTokens: int64(maxTokens),
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt.User)),
		},
	}
	if opts.Temperature > 0 {
		params.Temperature = anthropic.Float(float64(opts.Temperature))
	}

	system := prompt.System
	if opts.Schema != nil {
		schema, err := json.Marshal(opts.Schema)
		if err != nil {
			return "", err
		}
		system = strings.TrimSpace(system + "\n\nRespond with a single JSON object and nothing else. It must validate against this JSON schema:\n" + string(schema))
	}
	if system != "" {
		params.System = []anthropic.TextBlockParam{{Text: system}}
	}

	msg, err := p.client.Messages.New(ctx, params)
	if err != nil {
		return "", err
	}

	var b strings.Builder
	for _, block := range msg.Content {
		if block.Type == "text" {
			b.WriteString(block.Text)
		}
	}
	if strings.TrimSpace(b.String()) == "" {
		return "", errors.New("anthropic: empty output")
	}
	return b.String(), nil
}

var _ ports.Inference = (*AnthropicInference)(nil)
