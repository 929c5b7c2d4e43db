package validation

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSchema = `{
	"type": "object",
	"properties": {
		"cycle": {"type": "string", "pattern": "^[0-9]{4}-W[0-9]{2}$"},
		"force": {"type": "boolean"}
	},
	"additionalProperties": true
}`

func TestSchema_ValidateJSON(t *testing.T) {
	s := MustCompile(testSchema)

	tests := []struct {
		name      string
		doc       string
		valid     bool
		errorOn   string
		errorCode string
	}{
		{"empty variables", "", true, "", ""},
		{"cycle only", `{"cycle":"2024-W03"}`, true, "", ""},
		{"extra process variables", `{"cycle":"2024-W03","force":true,"processId":"p-1"}`, true, "", ""},
		{"bad cycle", `{"cycle":"2024-3"}`, false, "cycle", "PATTERN"},
		{"force not bool", `{"force":"yes"}`, false, "force", "INVALID_TYPE"},
		{"malformed", `{"cycle":`, false, "(root)", "INVALID_JSON"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := s.ValidateJSON(tt.doc)
			assert.Equal(t, tt.valid, res.Valid)
			if tt.errorOn != "" {
				assert.True(t, res.HasErrors(tt.errorOn), res.Error())
				assert.Equal(t, tt.errorCode, res.Errors[0].Code)
			}
		})
	}
}

func TestSchema_ValidateInput(t *testing.T) {
	s := MustCompile(testSchema)

	assert.True(t, s.ValidateInput(nil).Valid)

	res := s.ValidateInput(map[string]interface{}{"cycle": 12})
	require.False(t, res.Valid)
	assert.Equal(t, []string{"cycle: Invalid type. Expected: string, given: integer"}, res.GetErrorMessages())
}

func TestCompile_InvalidSchema(t *testing.T) {
	_, err := Compile(`{"type": 12}`)
	assert.Error(t, err)

	assert.Panics(t, func() { MustCompile(`not json`) })
}
