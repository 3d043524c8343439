// Package record implements the shared store layer for registry entities:
// soft delete with in-place resurrection, natural-key uniqueness scoped to
// active rows, and created/modified provenance stamping. Entity packages
// describe their table shape with a Descriptor and get the full operation
// set from one generic Store.
package record

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrNotFound means no record in the eligible state matched the key.
	// Callers surface it as a 404; it is an expected outcome of losing a
	// race, not a failure.
	ErrNotFound = errors.New("record not found")

	// ErrDuplicate means an active record already holds the natural key.
	ErrDuplicate = errors.New("record already exists")
)

// Actor is a denormalized snapshot of the acting identity's display name at
// the moment of a write. Snapshots are never updated when the identity later
// renames, so historical provenance stays what it was.
type Actor struct {
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
}

// Identity is the acting caller, as resolved by the (external) request layer.
type Identity struct {
	ID        uuid.UUID
	FirstName string
	LastName  string
}

// Snapshot returns the provenance sub-document for this identity, or nil for
// anonymous/internal callers with no display name. The store writes NULL in
// that case rather than a partial sub-document.
func (i Identity) Snapshot() *Actor {
	if i.FirstName == "" && i.LastName == "" {
		return nil
	}
	return &Actor{FirstName: i.FirstName, LastName: i.LastName}
}

// Meta carries the lifecycle timestamps and provenance common to every
// registry record. Embed it in entity models.
//
// CreatedAt and CreatedBy are set once on first insert and survive a
// delete→resurrect cycle. DeletedAt present means soft-deleted; active rows
// have it NULL, and natural-key uniqueness is enforced only across them.
type Meta struct {
	CreatedAt  time.Time  `gorm:"column:created_at;not null" json:"createdAt"`
	ModifiedAt time.Time  `gorm:"column:modified_at;not null" json:"modifiedAt"`
	DeletedAt  *time.Time `gorm:"column:deleted_at;index" json:"deletedAt,omitempty"`

	CreatedBy  *Actor `gorm:"column:created_by;type:jsonb;serializer:json" json:"createdBy,omitempty"`
	ModifiedBy *Actor `gorm:"column:modified_by;type:jsonb;serializer:json" json:"modifiedBy,omitempty"`
}

func (m *Meta) Deleted() bool {
	return m.DeletedAt != nil
}
