package agentreg

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agor/agord/internal/model"
)

func TestDefaultRegistryHasAllThreeKinds(t *testing.T) {
	r := Default()
	for _, kind := range []model.AgenticTool{model.ToolClaudeCode, model.ToolCodex, model.ToolGemini} {
		cfg, err := r.Lookup(kind)
		require.NoError(t, err)
		assert.Equal(t, kind, cfg.ID)
		assert.NotEmpty(t, cfg.CLI.Binary)
	}
}

func TestLookupUnknownKindErrors(t *testing.T) {
	r := Default()
	_, err := r.Lookup(model.AgenticTool("unknown"))
	assert.Error(t, err)
}

func TestLookupDisabledKindErrors(t *testing.T) {
	r := NewRegistry(TypeConfig{ID: model.ToolCodex, Enabled: false})
	_, err := r.Lookup(model.ToolCodex)
	assert.Error(t, err)
}
