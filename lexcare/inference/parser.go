package inference

import (
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/xeipuuv/gojsonschema"
)

var (
	jsonPattern    = regexp.MustCompile(`(?s)(\{.*\}|\[.*\])`)
	trailingComma  = regexp.MustCompile(`,\s*([}\]])`)
	unquotedKey    = regexp.MustCompile(`([{,]\s*)([a-zA-Z_][a-zA-Z0-9_]*)\s*:`)
	errNoJSON      = errors.New("no JSON found in response")
	errInvalidJSON = errors.New("invalid JSON in response")
)

// ExtractJSON pulls the outermost JSON object or array out of a model reply,
// repairing common formatting slips.
func ExtractJSON(text string) (json.RawMessage, error) {
	match := jsonPattern.FindString(text)
	if match == "" {
		return nil, errNoJSON
	}
	if json.Valid([]byte(match)) {
		return json.RawMessage(match), nil
	}

	cleaned := trailingComma.ReplaceAllString(match, "$1")
	cleaned = unquotedKey.ReplaceAllString(cleaned, `$1"$2":`)
	if json.Valid([]byte(cleaned)) {
		return json.RawMessage(cleaned), nil
	}

	// Single-quoted output; only attempted last since it breaks apostrophes.
	cleaned = strings.ReplaceAll(cleaned, "'", "\"")
	if !json.Valid([]byte(cleaned)) {
		return nil, errInvalidJSON
	}
	return json.RawMessage(cleaned), nil
}

// ValidateJSON checks data against a JSON schema.
func ValidateJSON(data json.RawMessage, schema map[string]any) error {
	if len(schema) == 0 {
		return nil
	}
	result, err := gojsonschema.Validate(gojsonschema.NewGoLoader(schema), gojsonschema.NewBytesLoader(data))
	if err != nil {
		return fmt.Errorf("schema validation failed: %w", err)
	}
	if !result.Valid() {
		msgs := make([]string, 0, len(result.Errors()))
		for _, e := range result.Errors() {
			msgs = append(msgs, e.String())
		}
		return fmt.Errorf("schema validation errors: %s", strings.Join(msgs, "; "))
	}
	return nil
}
