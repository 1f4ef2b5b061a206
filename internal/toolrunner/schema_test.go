package toolrunner

import (
	"encoding/json"
	"testing"
)

func TestValidateToolInputNoSchemaAlwaysPasses(t *testing.T) {
	if err := validateToolInput("noop", nil, json.RawMessage(`{"anything":true}`)); err != nil {
		t.Fatalf("expected no schema to impose no constraint: %v", err)
	}
}

func TestValidateToolInputRejectsMissingRequiredField(t *testing.T) {
	schema := json.RawMessage(`{"type":"object","properties":{"path":{"type":"string"}},"required":["path"]}`)
	if err := validateToolInput("file.read", schema, json.RawMessage(`{}`)); err == nil {
		t.Fatalf("expected missing required field to fail validation")
	}
}

func TestValidateToolInputAcceptsMatchingInput(t *testing.T) {
	schema := json.RawMessage(`{"type":"object","properties":{"path":{"type":"string"}},"required":["path"]}`)
	if err := validateToolInput("file.read", schema, json.RawMessage(`{"path":"a.txt"}`)); err != nil {
		t.Fatalf("expected matching input to pass validation: %v", err)
	}
}
