package contingent_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/medscreen/screening-registry/internal/domain/contingent"
)

func TestDescriptor(t *testing.T) {
	desc := contingent.Descriptor()

	assert.Equal(t, "registry.contingents", desc.Table)
	assert.Equal(t, "code", desc.KeyColumn)

	// Code doubles as the natural key, so deletes carry the hard-delete
	// valve like every entity whose caller-chosen key is the primary key.
	assert.True(t, desc.HardDeleteOnConflict)

	c := &contingent.Contingent{Code: "108", Name: "Blood donors"}
	assert.Equal(t, map[string]any{"code": "108"}, desc.NaturalKey(c))

	content := desc.Content(c)
	require.Contains(t, content, "name")
	assert.NotContains(t, content, "code", "the key is never part of replaceable content")
}
