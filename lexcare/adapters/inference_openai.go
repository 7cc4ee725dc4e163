package adapters

import (
	"context"
	"errors"
	"strings"

	"github.com/ZanzyTHEbar/lexcare/lexcare/ports"
	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/responses"
)

// OpenAIInference calls the OpenAI Responses API.
type OpenAIInference struct {
	client openai.Client
}

// NewOpenAIInference creates a client; baseURL may be empty.
func NewOpenAIInference(apiKey, baseURL string) *OpenAIInference {
	opts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	return &OpenAIInference{client: openai.NewClient(opts...)}
}

// Complete sends one request. When opts carries a schema the reply is
// constrained to strict JSON.
func (p *OpenAIInference) Complete(ctx context.Context, prompt ports.Prompt, opts ports.InferenceOptions) (string, error) {
	params := responses.ResponseNewParams{
		Model: opts.Model,
		Input: responses.ResponseNewParamsInputUnion{
			OfInputItemList: []responses.ResponseInputItemUnionParam{
				responses.ResponseInputItemParamOfMessage(prompt.User, responses.EasyInputMessageRoleUser),
			},
		},
	}
	if prompt.System != "" {
		params.Instructions = openai.String(prompt.System)
	}
	if opts.MaxTokens > 0 {
		params.MaxOutputTokens = openai.Int(int64(opts.MaxTokens))
	}
	if opts.Temperature > 0 {
		params.Temperature = openai.Float(float64(opts.Temperature))
	}
	if opts.Schema != nil {
		params.Text = responses.ResponseTextConfigParam{
			Format: responses.ResponseFormatTextConfigUnionParam{
				OfJSONSchema: &responses.ResponseFormatTextJSONSchemaConfigParam{
					Name:   opts.SchemaName,
					Schema: opts.Schema,
					Strict: openai.Bool(true),
					Type:   "json_schema",
				},
			},
		}
	}

	resp, err := p.client.Responses.New(ctx, params)
	if err != nil {
		return "", err
	}
	text := resp.OutputText()
	if strings.TrimSpace(text) == "" {
		return "", errors.New("openai: empty output")
	}
	return text, nil
}

var _ ports.Inference = (*OpenAIInference)(nil)
