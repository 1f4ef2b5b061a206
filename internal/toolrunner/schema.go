package toolrunner

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// schemaCache memoizes compiled schemas by their raw JSON text, adapted
// from the teacher's pkg/pluginsdk.compileSchema, since a tool's schema is
// static for the registry's lifetime and compiling is not free.
var schemaCache sync.Map

func compileToolSchema(name string, schema json.RawMessage) (*jsonschema.Schema, error) {
	key := string(schema)
	if cached, ok := schemaCache.Load(key); ok {
		if compiled, ok := cached.(*jsonschema.Schema); ok {
			return compiled, nil
		}
	}

	compiled, err := jsonschema.CompileString(name+".schema.json", key)
	if err != nil {
		return nil, err
	}
	schemaCache.Store(key, compiled)
	return compiled, nil
}

// validateToolInput checks input against the tool's declared JSON schema.
// A tool with no schema is considered unconstrained and always passes.
func validateToolInput(name string, schema json.RawMessage, input json.RawMessage) error {
	if len(schema) == 0 {
		return nil
	}

	compiled, err := compileToolSchema(name, schema)
	if err != nil {
		return fmt.Errorf("compile schema for %s: %w", name, err)
	}

	var decoded any
	if len(input) == 0 {
		decoded = map[string]any{}
	} else if err := json.Unmarshal(input, &decoded); err != nil {
		return fmt.Errorf("decode input for %s: %w", name, err)
	}

	if err := compiled.Validate(decoded); err != nil {
		return fmt.Errorf("input for %s does not match schema: %w", name, err)
	}
	return nil
}
