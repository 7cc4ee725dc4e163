package inference

import (
	"encoding/json"
	"reflect"
	"sync"

	"github.com/invopop/jsonschema"
)

const (
	propertiesKey           = "properties"
	additionalPropertiesKey = "additionalProperties"
	typeKey                 = "type"
	requiredKey             = "required"
	itemsKey                = "items"
)

var schemaCache sync.Map // reflect.Type -> map[string]any

// SchemaFor returns a strict JSON schema for T, suitable for structured output.
func SchemaFor[T any]() map[string]any {
	var zero T
	key := reflect.TypeOf(zero)
	if cached, ok := schemaCache.Load(key); ok {
		return cached.(map[string]any)
	}
	schema := GenerateSchema[T]()
	schemaCache.Store(key, schema)
	return schema
}

// GenerateSchema reflects T into a schema where every object is closed and
// every property is required.
func GenerateSchema[T any]() map[string]any {
	reflector := jsonschema.Reflector{
		AllowAdditionalProperties:  false,
		DoNotReference:             true,
		RequiredFromJSONSchemaTags: true,
	}
	var v T
	schema := reflector.Reflect(v)
	m, err := schemaToMap(schema)
	if err != nil {
		panic(err)
	}
	delete(m, "$schema")
	delete(m, "$id")
	closeObjects(m)
	return m
}

func schemaToMap(schema *jsonschema.Schema) (map[string]any, error) {
	b, err := schema.MarshalJSON()
	if err != nil {
		return nil, err
	}
	var m map[string]any
	if err := json.Unmarshal(b, &m); err != nil {
		return nil, err
	}
	return m, nil
}

func closeObjects(schema map[string]any) {
	if schemaType, ok := schema[typeKey].(string); ok && schemaType == "object" {
		schema[additionalPropertiesKey] = false

		if properties, ok := schema[propertiesKey].(map[string]any); ok {
			required := make([]string, 0, len(properties))
			for name := range properties {
				required = append(required, name)
			}
			if len(required) > 0 {
				schema[requiredKey] = required
			}
		}
	}

	if properties, ok := schema[propertiesKey].(map[string]any); ok {
		for _, prop := range properties {
			if propMap, ok := prop.(map[string]any); ok {
				closeObjects(propMap)
			}
		}
	}

	if items, ok := schema[itemsKey].(map[string]any); ok {
		closeObjects(items)
	}
}
