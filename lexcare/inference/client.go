// Package inference wraps the inference service with deadlines, rate limiting
// and structured-output parsing.
package inference

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ZanzyTHEbar/lexcare/lexcare/config"
	"github.com/ZanzyTHEbar/lexcare/lexcare/ports"
	"github.com/rs/zerolog"
)

// DefaultTimeout applies when neither the call nor the config sets one.
const DefaultTimeout = 8 * time.Second

// Option adjusts a single call.
type Option func(*ports.InferenceOptions)

// WithMaxTokens caps the reply length.
func WithMaxTokens(n int) Option {
	return func(o *ports.InferenceOptions) { o.MaxTokens = n }
}

// WithTemperature sets the sampling temperature.
func WithTemperature(t float32) Option {
	return func(o *ports.InferenceOptions) { o.Temperature = t }
}

// WithTimeout overrides the call deadline.
func WithTimeout(d time.Duration) Option {
	return func(o *ports.InferenceOptions) { o.Timeout = d }
}

// Client is the inference entry point used by analysis units. A nil backend
// makes every call fail with ErrUnavailable so callers take their fallbacks.
type Client struct {
	backend  ports.Inference
	limiter  ports.RateLimiter
	defaults ports.InferenceOptions
	logger   zerolog.Logger
}

// NewClient creates a client. limiter may be nil.
func NewClient(backend ports.Inference, limiter ports.RateLimiter, cfg config.InferenceConfig, logger zerolog.Logger) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Client{
		backend: backend,
		limiter: limiter,
		defaults: ports.InferenceOptions{
			Model:       cfg.Model,
			Temperature: cfg.Temperature,
			MaxTokens:   cfg.MaxTokens,
			Timeout:     timeout,
		},
		logger: logger.With().Str("component", "inference").Logger(),
	}
}

// Available reports whether a backend is configured.
func (c *Client) Available() bool {
	return c != nil && c.backend != nil
}

// Text runs a free-text completion.
func (c *Client) Text(ctx context.Context, op string, prompt ports.Prompt, opts ...Option) (string, error) {
	o := c.options(opts)
	text, err := c.call(ctx, op, prompt, o)
	if err != nil {
		return "", err
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return "", &MalformedResponseError{Op: op, Err: errors.New("empty reply")}
	}
	return text, nil
}

// Structured runs a completion constrained to T's schema and decodes it.
func Structured[T any](ctx context.Context, c *Client, op string, prompt ports.Prompt, opts ...Option) (T, error) {
	var out T

	schema := SchemaFor[T]()
	o := c.options(opts)
	o.SchemaName = op
	o.Schema = schema

	text, err := c.call(ctx, op, prompt, o)
	if err != nil {
		return out, err
	}

	raw, err := ExtractJSON(text)
	if err != nil {
		return out, &MalformedResponseError{Op: op, Raw: text, Err: err}
	}
	if err := ValidateJSON(raw, schema); err != nil {
		return out, &MalformedResponseError{Op: op, Raw: text, Err: err}
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return out, &MalformedResponseError{Op: op, Raw: text, Err: err}
	}
	return out, nil
}

func (c *Client) options(opts []Option) ports.InferenceOptions {
	o := c.defaults
	for _, opt := range opts {
		opt(&o)
	}
	if o.Timeout <= 0 {
		o.Timeout = DefaultTimeout
	}
	return o
}

func (c *Client) call(ctx context.Context, op string, prompt ports.Prompt, o ports.InferenceOptions) (string, error) {
	if !c.Available() {
		return "", &Error{Op: op, Model: o.Model, Err: ErrUnavailable}
	}

	if c.limiter != nil {
		release, err := c.limiter.Acquire(ctx, o.Model)
		if err != nil {
			return "", &Error{Op: op, Model: o.Model, Err: fmt.Errorf("rate limited: %w", err)}
		}
		defer release()
	}

	callCtx, cancel := context.WithTimeout(ctx, o.Timeout)
	defer cancel()

	start := time.Now()
	text, err := c.backend.Complete(callCtx, prompt, o)
	elapsed := time.Since(start)

	if err != nil {
		timedOut := errors.Is(err, context.DeadlineExceeded) || errors.Is(callCtx.Err(), context.DeadlineExceeded)
		c.logger.Warn().
			Err(err).
			Str("op", op).
			Str("model", o.Model).
			Bool("timeout", timedOut).
			Dur("elapsed", elapsed).
			Msg("Inference call failed")
		return "", &Error{Op: op, Model: o.Model, Timeout: timedOut, Err: err}
	}

	c.logger.Debug().
		Str("op", op).
		Str("model", o.Model).
		Dur("elapsed", elapsed).
		Int("chars", len(text)).
		Msg("Inference call completed")
	return text, nil
}
