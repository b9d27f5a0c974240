package schema

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWorkflowAccepted(t *testing.T) {
	body := json.RawMessage(`{
		"id": "wf-1",
		"name": "price alert",
		"active": true,
		"nodes": [
			{"id": "t", "type": "trigger", "position": {"x": 0, "y": 10}},
			{"id": "w", "type": "web3", "data": {"network": "sepolia"}, "outputs": ["out"]}
		],
		"connections": [{"from": "t", "to": "w"}]
	}`)
	require.NoError(t, Validate(Workflow, body))
	require.NoError(t, Validate(Workflow, map[string]any{"name": "empty", "nodes": nil}))
}

func TestWorkflowViolationsAreListed(t *testing.T) {
	err := Validate(Workflow, []byte(`{"nodes":[{"type":"ai"}],"connections":[{"from":"a"}]}`))
	var invalid *Invalid
	require.True(t, errors.As(err, &invalid), "got %v", err)
	assert.Equal(t, Workflow, invalid.Schema)
	require.Len(t, invalid.Violations, 2)
	assert.Contains(t, invalid.Violations[0], "/connections/0")
	assert.Contains(t, invalid.Violations[1], "/nodes/0")
	assert.Contains(t, err.Error(), "invalid workflow: ")
}

func TestWorkflowWrongTypes(t *testing.T) {
	require.Error(t, Validate(Workflow, []byte(`{"nodes":"nope"}`)))
	require.Error(t, Validate(Workflow, []byte(`{"active":"yes"}`)))
	require.Error(t, Validate(Workflow, []byte(`[]`)))
}

func TestProfile(t *testing.T) {
	require.NoError(t, Validate(Profile, []byte(`{"id":"u1","name":"Ada","role":"admin"}`)))

	err := Validate(Profile, []byte(`{"role":"owner"}`))
	var invalid *Invalid
	require.ErrorAs(t, err, &invalid)
	assert.Contains(t, invalid.Violations[0], "/role")
}

func TestValidateBadInput(t *testing.T) {
	err := Validate(Workflow, []byte("{"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "decode payload")

	err = Validate("invoice", map[string]any{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), `unknown schema "invoice"`)
}
