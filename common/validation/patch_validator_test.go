package validation

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateOperations(t *testing.T) {
	v := NewPatchValidator([]string{"/telemetry", "/risk/"})

	tests := []struct {
		name    string
		patch   string
		wantErr string
	}{
		{"replace allowed", `[{"op":"replace","path":"/risk/stop_loss_pct","value":0.02}]`, ""},
		{"add nested", `[{"op":"add","path":"/telemetry/log_regime","value":true}]`, ""},
		{"remove", `[{"op":"remove","path":"/telemetry/legacy"}]`, ""},
		{"section root", `[{"op":"replace","path":"/risk","value":{"max":1}}]`, ""},
		{"empty", `[]`, "no operations"},
		{"outside prefix", `[{"op":"replace","path":"/strategies/x","value":1}]`, "outside the tunable sections"},
		{"prefix lookalike", `[{"op":"replace","path":"/riskier","value":1}]`, "outside the tunable sections"},
		{"move rejected", `[{"op":"move","from":"/risk/a","path":"/risk/b"}]`, "unsupported operation type"},
		{"missing value", `[{"op":"add","path":"/risk/a"}]`, "'value' required"},
		{"null value", `[{"op":"add","path":"/risk/a","value":null}]`, "null values"},
		{"array value", `[{"op":"add","path":"/risk/a","value":[1]}]`, "array values"},
		{"missing path", `[{"op":"add","value":1}]`, "invalid 'path'"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ops, err := ParseOperations(json.RawMessage(tt.patch))
			require.NoError(t, err)

			err = v.ValidateOperations(ops)
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestParseOperationsRejectsObject(t *testing.T) {
	_, err := ParseOperations(json.RawMessage(`{"op":"add"}`))
	assert.Error(t, err)
}
