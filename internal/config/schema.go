package config

import (
	"encoding/json"
	"fmt"

	"github.com/invopop/jsonschema"
)

// JSONSchema describes the configuration file layout as a JSON Schema document.
func JSONSchema() ([]byte, error) {
	reflector := &jsonschema.Reflector{
		FieldNameTag:              "toml",
		AllowAdditionalProperties: false,
		DoNotReference:            true,
	}
	schema := reflector.Reflect(&Config{})
	schema.Title = "castline configuration"
	data, err := json.MarshalIndent(schema, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode config schema: %w", err)
	}
	return data, nil
}
