package ports

import (
	"context"
	"time"
)

// Prompt is a single inference request body.
type Prompt struct {
	System string
	User   string
}

// InferenceOptions configures one call.
type InferenceOptions struct {
	Model       string
	Temperature float32
	MaxTokens   int
	Timeout     time.Duration

	// SchemaName and Schema request structured JSON output when set.
	SchemaName string
	Schema     map[string]any
}

// Inference is the stateless text and classification service. Implementations
// either return the full reply or an error; partial replies are never returned.
type Inference interface {
	Complete(ctx context.Context, prompt Prompt, opts InferenceOptions) (string, error)
}
