package capstore

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

// validateParametersSchema rejects a capability's declared parametersSchema
// at save time if it isn't a compilable JSON Schema, per SPEC_FULL.md's
// domain-stack wiring of jsonschema/v6 into the Capability Store.
func validateParametersSchema(schema map[string]any) error {
	if len(schema) == 0 {
		return nil
	}
	raw, err := json.Marshal(schema)
	if err != nil {
		return fmt.Errorf("capstore: marshal parameters schema: %w", err)
	}
	doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(raw))
	if err != nil {
		return fmt.Errorf("capstore: invalid parameters schema: %w", err)
	}
	const resourceURL = "capability-parameters.json"
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource(resourceURL, doc); err != nil {
		return fmt.Errorf("capstore: invalid parameters schema: %w", err)
	}
	if _, err := compiler.Compile(resourceURL); err != nil {
		return fmt.Errorf("capstore: invalid parameters schema: %w", err)
	}
	return nil
}
