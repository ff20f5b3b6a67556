package validation

import (
	"encoding/json"
	"fmt"
	"strings"
)

// MaxOperations bounds the size of a single tunables patch
const MaxOperations = 20

// PatchValidator validates JSON Patch operations against the tunables document.
// Only add/replace/remove are accepted and every path must sit under an allowed prefix.
type PatchValidator struct {
	allowed []string
}

// NewPatchValidator creates a new patch validator for the given path prefixes
func NewPatchValidator(allowedPrefixes []string) *PatchValidator {
	return &PatchValidator{allowed: allowedPrefixes}
}

// ParseOperations decodes an RFC 6902 document into generic operations
func ParseOperations(raw json.RawMessage) ([]map[string]interface{}, error) {
	var ops []map[string]interface{}
	if err := json.Unmarshal(raw, &ops); err != nil {
		return nil, fmt.Errorf("patch is not a JSON array of operations: %w", err)
	}
	return ops, nil
}

// ValidateOperations validates all patch operations
func (v *PatchValidator) ValidateOperations(operations []map[string]interface{}) error {
	if len(operations) == 0 {
		return fmt.Errorf("patch validation failed: no operations")
	}
	if len(operations) > MaxOperations {
		return fmt.Errorf("patch validation failed: at most %d operations per patch (got %d)", MaxOperations, len(operations))
	}

	for i, op := range operations {
		if err := v.validateOperation(op, i); err != nil {
			return err
		}
	}

	return nil
}

// validateOperation validates a single operation
func (v *PatchValidator) validateOperation(op map[string]interface{}, index int) error {
	opType, ok := op["op"].(string)
	if !ok {
		return fmt.Errorf("operation %d: missing or invalid 'op' field", index)
	}

	path, ok := op["path"].(string)
	if !ok || !strings.HasPrefix(path, "/") {
		return fmt.Errorf("operation %d: missing or invalid 'path' field", index)
	}

	if !v.pathAllowed(path) {
		return fmt.Errorf("operation %d: path %s is outside the tunable sections %v", index, path, v.allowed)
	}

	switch opType {
	case "add", "replace":
		if _, ok := op["value"]; !ok {
			return fmt.Errorf("operation %d: 'value' required for %s operation", index, opType)
		}
		if err := validateValue(op["value"], index); err != nil {
			return err
		}

	case "remove":
		return nil

	default:
		return fmt.Errorf("operation %d: unsupported operation type: %s", index, opType)
	}

	return nil
}

func (v *PatchValidator) pathAllowed(path string) bool {
	for _, prefix := range v.allowed {
		prefix = strings.TrimSuffix(prefix, "/")
		if path == prefix || strings.HasPrefix(path, prefix+"/") {
			return true
		}
	}
	return false
}

// validateValue rejects values the tunables document never holds
func validateValue(value interface{}, opIndex int) error {
	switch value.(type) {
	case nil:
		return fmt.Errorf("operation %d: null values are not allowed, use remove", opIndex)
	case []interface{}:
		return fmt.Errorf("operation %d: array values are not allowed (hint: patch individual keys)", opIndex)
	}
	return nil
}
