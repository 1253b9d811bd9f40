// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Finch Contributors

package plugin_test

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/finchbot/finch/internal/plugin"
)

func TestGenerateSchema(t *testing.T) {
	data, err := plugin.GenerateSchema()
	require.NoError(t, err)

	var schema map[string]any
	require.NoError(t, json.Unmarshal(data, &schema))

	assert.Equal(t, plugin.GetSchemaID(), schema["$id"])
	assert.Equal(t, "Finch Plugin Manifest", schema["title"])

	props, ok := schema["properties"].(map[string]any)
	require.True(t, ok, "schema must declare properties")
	assert.Contains(t, props, "name")
	assert.Contains(t, props, "version")
	assert.Contains(t, props, "dependencies")
	assert.Contains(t, props, "commands")
}

func TestValidateSchema_Valid(t *testing.T) {
	plugin.ResetSchemaCache()
	data := []byte(`
name: ping
version: 1.0.0
commands:
  - name: ping
    description: Latency check
`)
	assert.NoError(t, plugin.ValidateSchema(data))
}

func TestValidateSchema_MissingRequired(t *testing.T) {
	plugin.ResetSchemaCache()
	err := plugin.ValidateSchema([]byte("version: 1.0.0\n"))
	require.Error(t, err)
	assert.NotEmpty(t, plugin.FormatSchemaError(err))
}

func TestValidateSchema_Empty(t *testing.T) {
	assert.Error(t, plugin.ValidateSchema(nil))
}

func TestFormatSchemaError_Nil(t *testing.T) {
	assert.Empty(t, plugin.FormatSchemaError(nil))
}
