package record

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSortedColsAreDeterministic(t *testing.T) {
	cols := sortedCols(map[string]any{
		"results":          JSON(map[string]any{"elisa": "positive"}),
		"facility_code":    "77001",
		"contingent_codes": JSON([]string{"108"}),
	})

	require.Len(t, cols, 3)
	assert.Equal(t, "contingent_codes", cols[0].name)
	assert.Equal(t, "facility_code", cols[1].name)
	assert.Equal(t, "results", cols[2].name)

	assert.True(t, cols[0].isJSON)
	assert.False(t, cols[1].isJSON)
	assert.Equal(t, `["108"]`, cols[0].value)
	assert.Equal(t, `{"elisa":"positive"}`, cols[2].value)
}

func TestJSONNilBindsNull(t *testing.T) {
	cols := sortedCols(map[string]any{"results": JSON(nil)})
	require.Len(t, cols, 1)
	assert.True(t, cols[0].isJSON)
	assert.Nil(t, cols[0].value)
	assert.Equal(t, "?::jsonb", cols[0].placeholder())
}

func TestBuildReviveOrInsert(t *testing.T) {
	now := time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC)
	natural := sortedCols(map[string]any{
		"assay_type":    "hiv",
		"exam_date":     now,
		"serial_number": 42,
	})
	content := sortedCols(map[string]any{
		"facility_code": "77001",
		"results":       JSON(map[string]any{"elisa": "positive"}),
	})

	modifiedBy := `{"firstName":"Boris","lastName":"Petrov"}`
	query, args := buildReviveOrInsert(
		"registry.examinations", "id", "abc-123",
		natural, content, now,
		`{"firstName":"Anna","lastName":"Ivanova"}`, modifiedBy,
	)

	// One statement: revive the newest deleted holder of the natural key or
	// insert, never both, never a separate read.
	assert.Contains(t, query, "WITH revived AS (")
	assert.Contains(t, query, "UPDATE registry.examinations SET")
	assert.Contains(t, query, "ORDER BY deleted_at DESC")
	assert.Contains(t, query, "WHERE NOT EXISTS (SELECT 1 FROM revived)")
	assert.Contains(t, query, "UNION ALL")

	// Only the outer WHERE is re-evaluated after waiting out a concurrent
	// writer's row lock, so the deleted-state check must live there, not just
	// in the subquery: otherwise the loser of a revive race re-updates the
	// row the winner just made active.
	assert.Contains(t, query, "WHERE deleted_at IS NOT NULL AND id = (")

	// The revive path must not touch creation provenance.
	assert.NotContains(t, query, "created_at = ")
	assert.NotContains(t, query, "created_by = ")
	assert.Contains(t, query, "modified_at = ?")
	assert.Contains(t, query, "modified_by = ?::jsonb")
	assert.Contains(t, query, "deleted_at = NULL")

	// Insert path carries the full column set.
	assert.Contains(t, query,
		"INSERT INTO registry.examinations (id, assay_type, exam_date, serial_number, facility_code, results, created_at, modified_at, created_by, modified_by, deleted_at)")

	assert.Equal(t, strings.Count(query, "?"), len(args))

	// Argument order: SET values, natural-key conditions, insert values.
	assert.Equal(t, "77001", args[0])
	assert.Equal(t, `{"elisa":"positive"}`, args[1])
	assert.Equal(t, now, args[2])
	assert.Equal(t, modifiedBy, args[3])
	assert.Equal(t, "hiv", args[4])
	assert.Equal(t, "abc-123", args[7], "insert starts with the primary key")
}

func TestBuildReviveOrInsertAnonymousCallerKeepsProvenance(t *testing.T) {
	now := time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC)
	natural := sortedCols(map[string]any{"assay_type": "hiv"})
	content := sortedCols(map[string]any{"facility_code": "77001"})

	query, args := buildReviveOrInsert(
		"registry.examinations", "id", "abc-123",
		natural, content, now, nil, nil,
	)

	// A caller with no display name must not overwrite a populated
	// modified_by with NULL; the column stays out of the SET list entirely.
	assert.NotContains(t, query, "modified_by = ")
	assert.Contains(t, query, "modified_at = ?")
	assert.Equal(t, strings.Count(query, "?"), len(args))

	// SET values (content, modified_at), condition, insert values.
	assert.Equal(t, "77001", args[0])
	assert.Equal(t, now, args[1])
	assert.Equal(t, "hiv", args[2])
	assert.Equal(t, "abc-123", args[3])
}

func TestIdentitySnapshot(t *testing.T) {
	id := Identity{FirstName: "Anna", LastName: "Ivanova"}
	actor := id.Snapshot()
	require.NotNil(t, actor)
	assert.Equal(t, "Anna", actor.FirstName)
	assert.Equal(t, "Ivanova", actor.LastName)

	// Anonymous/internal callers produce no provenance sub-document at all.
	assert.Nil(t, Identity{}.Snapshot())

	// A single known name is still worth recording.
	half := Identity{LastName: "Ivanova"}.Snapshot()
	require.NotNil(t, half)
	assert.Empty(t, half.FirstName)
}

func TestMetaDeleted(t *testing.T) {
	var m Meta
	assert.False(t, m.Deleted())

	now := time.Now()
	m.DeletedAt = &now
	assert.True(t, m.Deleted())
}
