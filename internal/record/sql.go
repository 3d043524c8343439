package record

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"
)

// jsonValue marks a column value that must be bound as jsonb.
type jsonValue struct{ v any }

// JSON wraps a value so the store binds it to a jsonb column (with an
// explicit cast, since the driver sends Go strings as text). A nil value
// binds as NULL.
func JSON(v any) any {
	return jsonValue{v: v}
}

type col struct {
	name   string
	value  any
	isJSON bool
}

// sortedCols flattens a column map into name order, so generated SQL and its
// argument list stay deterministic.
func sortedCols(m map[string]any) []col {
	names := make([]string, 0, len(m))
	for name := range m {
		names = append(names, name)
	}
	sort.Strings(names)

	cols := make([]col, 0, len(names))
	for _, name := range names {
		v := m[name]
		if jv, ok := v.(jsonValue); ok {
			cols = append(cols, col{name: name, value: marshalJSON(jv.v), isJSON: true})
		} else {
			cols = append(cols, col{name: name, value: v})
		}
	}
	return cols
}

func (c col) placeholder() string {
	if c.isJSON {
		return "?::jsonb"
	}
	return "?"
}

func marshalJSON(v any) any {
	if v == nil {
		return nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		// Column values come from entity descriptors, never callers; a
		// marshal failure here is a programming error.
		panic(fmt.Sprintf("record: marshaling jsonb column value: %v", err))
	}
	return string(b)
}

func actorJSON(a *Actor) any {
	if a == nil {
		return nil
	}
	return marshalJSON(a)
}

// buildReviveOrInsert renders the atomic create for resurrecting entities as
// one writable-CTE statement: revive the most recently deleted row holding
// the natural key (overwriting content and modification provenance, keeping
// creation provenance, clearing deleted_at), or insert a fresh row if no
// deleted one exists. An active row holding the natural key is untouched and
// surfaces as a unique violation on the partial index.
//
// Two sequential read-then-write calls here would race against concurrent
// deletes and creates on the same key; the single statement is what makes
// the loser of such a race observe a clean conflict instead of corrupting
// state.
func buildReviveOrInsert(table, keyCol string, key any, natural, content []col, now time.Time, createdBy, modifiedBy any) (string, []any) {
	var sets, conds, insertCols, insertPH []string
	var setArgs, condArgs, insertArgs []any

	for _, c := range content {
		sets = append(sets, c.name+" = "+c.placeholder())
		setArgs = append(setArgs, c.value)
	}
	sets = append(sets, "modified_at = ?")
	setArgs = append(setArgs, now)
	if modifiedBy != nil {
		// An anonymous revival leaves previously recorded modification
		// provenance in place instead of erasing it with NULL.
		sets = append(sets, "modified_by = ?::jsonb")
		setArgs = append(setArgs, modifiedBy)
	}
	sets = append(sets, "deleted_at = NULL")

	for _, c := range natural {
		conds = append(conds, c.name+" = "+c.placeholder())
		condArgs = append(condArgs, c.value)
	}

	insertCols = append(insertCols, keyCol)
	insertPH = append(insertPH, "?")
	insertArgs = append(insertArgs, key)
	for _, c := range append(append([]col{}, natural...), content...) {
		if c.name == keyCol {
			// Entities whose primary key is the natural key carry it once.
			continue
		}
		insertCols = append(insertCols, c.name)
		insertPH = append(insertPH, c.placeholder())
		insertArgs = append(insertArgs, c.value)
	}
	insertCols = append(insertCols, "created_at", "modified_at", "created_by", "modified_by", "deleted_at")
	insertPH = append(insertPH, "?", "?", "?::jsonb", "?::jsonb", "NULL")
	insertArgs = append(insertArgs, now, now, createdBy, modifiedBy)

	// The outer deleted_at predicate is load-bearing. A concurrent revive of
	// the same tombstone waits on the winner's row lock, and after the winner
	// commits only the outer WHERE is re-evaluated against the new row
	// version; the subquery is not re-run. The predicate makes the loser's
	// re-check fail on the now-active row, pushing it to the INSERT branch
	// where the partial unique index rejects it as a duplicate.
	query := fmt.Sprintf(`WITH revived AS (
	UPDATE %[1]s SET %[2]s
	WHERE deleted_at IS NOT NULL AND %[3]s = (
		SELECT %[3]s FROM %[1]s
		WHERE %[4]s AND deleted_at IS NOT NULL
		ORDER BY deleted_at DESC
		LIMIT 1
	)
	RETURNING *
), inserted AS (
	INSERT INTO %[1]s (%[5]s)
	SELECT %[6]s
	WHERE NOT EXISTS (SELECT 1 FROM revived)
	RETURNING *
)
SELECT * FROM revived
UNION ALL
SELECT * FROM inserted`,
		table,
		strings.Join(sets, ", "),
		keyCol,
		strings.Join(conds, " AND "),
		strings.Join(insertCols, ", "),
		strings.Join(insertPH, ", "),
	)

	args := make([]any, 0, len(setArgs)+len(condArgs)+len(insertArgs))
	args = append(args, setArgs...)
	args = append(args, condArgs...)
	args = append(args, insertArgs...)
	return query, args
}
