package inference

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/ZanzyTHEbar/lexcare/lexcare/config"
	"github.com/ZanzyTHEbar/lexcare/lexcare/ports"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// StubBackend is a test double for ports.Inference.
type StubBackend struct {
	Reply   string
	Err     error
	Delay   time.Duration
	Calls   int
	LastOpt ports.InferenceOptions
}

func (s *StubBackend) Complete(ctx context.Context, prompt ports.Prompt, opts ports.InferenceOptions) (string, error) {
	s.Calls++
	s.LastOpt = opts
	if s.Delay > 0 {
		select {
		case <-time.After(s.Delay):
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	return s.Reply, s.Err
}

type denyLimiter struct{}

func (denyLimiter) Acquire(ctx context.Context, key string) (func(), error) {
	return nil, errors.New("bucket empty")
}

type classification struct {
	Label string  `json:"label"`
	Score float64 `json:"score"`
}

func newClient(backend ports.Inference) *Client {
	return NewClient(backend, nil, config.InferenceConfig{Model: "test-model", Timeout: time.Second}, zerolog.Nop())
}

func TestExtractJSON(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"plain object", `{"a":1}`, `{"a":1}`},
		{"fenced with prose", "Sure!\n```json\n{\"a\": \"it's\"}\n```", `{"a": "it's"}`},
		{"trailing comma", `{"a":1,}`, `{"a":1}`},
		{"unquoted key", `{a: 1}`, `{"a": 1}`},
		{"single quotes", `{'a': 'b'}`, `{"a": "b"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ExtractJSON(tt.in)
			require.NoError(t, err)
			assert.JSONEq(t, tt.want, string(got))
		})
	}

	_, err := ExtractJSON("no json here")
	assert.Error(t, err)
}

func TestStructured_DecodesValidReply(t *testing.T) {
	backend := &StubBackend{Reply: `Here you go: {"label": "crisis", "score": 9.5}`}
	c := newClient(backend)

	got, err := Structured[classification](context.Background(), c, "classify", ports.Prompt{User: "x"})
	require.NoError(t, err)
	assert.Equal(t, "crisis", got.Label)
	assert.Equal(t, 9.5, got.Score)
	assert.Equal(t, "classify", backend.LastOpt.SchemaName)
	assert.NotEmpty(t, backend.LastOpt.Schema)
}

func TestStructured_SchemaViolationIsMalformed(t *testing.T) {
	c := newClient(&StubBackend{Reply: `{"label": "crisis"}`})

	_, err := Structured[classification](context.Background(), c, "classify", ports.Prompt{User: "x"})
	require.Error(t, err)
	assert.True(t, IsMalformed(err))
}

func TestStructured_NoJSONIsMalformed(t *testing.T) {
	c := newClient(&StubBackend{Reply: "I cannot answer that."})

	_, err := Structured[classification](context.Background(), c, "classify", ports.Prompt{User: "x"})
	assert.True(t, IsMalformed(err))
}

func TestText_TimeoutIsReported(t *testing.T) {
	c := newClient(&StubBackend{Reply: "late", Delay: time.Second})

	_, err := c.Text(context.Background(), "draft", ports.Prompt{User: "x"}, WithTimeout(10*time.Millisecond))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrTimeout)

	var ie *Error
	require.True(t, errors.As(err, &ie))
	assert.Equal(t, "draft", ie.Op)
}

func TestText_UpstreamErrorIsWrapped(t *testing.T) {
	c := newClient(&StubBackend{Err: errors.New("502 bad gateway")})

	_, err := c.Text(context.Background(), "draft", ports.Prompt{User: "x"})
	var ie *Error
	require.True(t, errors.As(err, &ie))
	assert.False(t, ie.Timeout)
	assert.NotErrorIs(t, err, ErrTimeout)
}

func TestText_EmptyReplyIsMalformed(t *testing.T) {
	c := newClient(&StubBackend{Reply: "   "})

	_, err := c.Text(context.Background(), "draft", ports.Prompt{User: "x"})
	assert.True(t, IsMalformed(err))
}

func TestClient_NilBackendIsUnavailable(t *testing.T) {
	c := newClient(nil)

	assert.False(t, c.Available())
	_, err := c.Text(context.Background(), "draft", ports.Prompt{User: "x"})
	assert.ErrorIs(t, err, ErrUnavailable)
}

func TestClient_RateLimitedCallFails(t *testing.T) {
	backend := &StubBackend{Reply: "ok"}
	c := NewClient(backend, denyLimiter{}, config.InferenceConfig{Model: "m"}, zerolog.Nop())

	_, err := c.Text(context.Background(), "draft", ports.Prompt{User: "x"})
	require.Error(t, err)
	assert.Equal(t, 0, backend.Calls)
}

func TestGenerateSchema_ClosesObjects(t *testing.T) {
	schema := GenerateSchema[classification]()

	assert.Equal(t, false, schema[additionalPropertiesKey])
	assert.ElementsMatch(t, []string{"label", "score"}, schema[requiredKey])
	assert.NotContains(t, schema, "$schema")
}
