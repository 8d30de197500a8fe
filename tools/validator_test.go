package tools

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSchemaValidator_ValidateArgs(t *testing.T) {
	sv := NewSchemaValidator()
	decl := &Declaration{Name: "plan_trajectory", Parameters: trajectorySchema}

	tests := []struct {
		name    string
		args    string
		wantErr bool
	}{
		{name: "valid", args: `{"object":"red cup","destination":"tray"}`},
		{name: "missing destination", args: `{"object":"red cup"}`, wantErr: true},
		{name: "wrong type", args: `{"object":3,"destination":"tray"}`, wantErr: true},
		{name: "no args", args: ``, wantErr: true},
		{name: "not json", args: `{"object":`, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := sv.ValidateArgs(decl, json.RawMessage(tt.args))
			if !tt.wantErr {
				assert.NoError(t, err)
				return
			}
			var verr *ValidationError
			require.ErrorAs(t, err, &verr)
			assert.Equal(t, "plan_trajectory", verr.Tool)
		})
	}
}

func TestSchemaValidator_NoSchemaAcceptsAnything(t *testing.T) {
	sv := NewSchemaValidator()
	assert.NoError(t, sv.ValidateArgs(&Declaration{Name: "free"}, json.RawMessage(`{"x":[1,2]}`)))
}

func TestSchemaValidator_PropertyNamesUntouched(t *testing.T) {
	sv := NewSchemaValidator()
	decl := &Declaration{Name: "t", Parameters: json.RawMessage(
		`{"type":"OBJECT","properties":{"type":{"type":"STRING"}},"required":["type"]}`)}

	assert.NoError(t, sv.ValidateArgs(decl, json.RawMessage(`{"type":"gripper"}`)))
	assert.Error(t, sv.ValidateArgs(decl, json.RawMessage(`{"type":1}`)))
}

func TestSchemaValidator_CachesSchemas(t *testing.T) {
	sv := NewSchemaValidator()
	require.NoError(t, sv.CheckSchema(trajectorySchema))
	require.NoError(t, sv.CheckSchema(trajectorySchema))
	assert.Len(t, sv.cache, 1)

	assert.Error(t, sv.CheckSchema(json.RawMessage(`not json`)))
}

func TestNormalizeSchema(t *testing.T) {
	var doc any
	require.NoError(t, json.Unmarshal([]byte(
		`{"type":"OBJECT","properties":{"STRING":{"type":["STRING","NULL"]}},"items":[{"type":"NUMBER"}]}`), &doc))

	out, err := json.Marshal(normalizeSchema(doc))
	require.NoError(t, err)
	assert.JSONEq(t,
		`{"type":"object","properties":{"STRING":{"type":["string","null"]}},"items":[{"type":"number"}]}`,
		string(out))
}
