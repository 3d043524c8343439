package contingent

import (
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/medscreen/screening-registry/internal/record"
	"github.com/medscreen/screening-registry/pkg/metrics"
)

// Contingent tags a population group subject to screening (e.g. blood
// donors, medical staff). Code is both primary and natural key.
type Contingent struct {
	Code        string `gorm:"column:code;type:varchar(20);primaryKey"`
	record.Meta `gorm:"embedded"`

	Name        string `gorm:"column:name;type:varchar(255);not null"`
	Description string `gorm:"column:description;type:text"`
}

func (Contingent) TableName() string {
	return "registry.contingents"
}

func Descriptor() record.Descriptor[Contingent] {
	return record.Descriptor[Contingent]{
		Table:       "registry.contingents",
		KeyColumn:   "code",
		OrderBy:     "code",
		ListColumns: []string{"code", "name", "created_at", "modified_at", "deleted_at"},
		Key:         func(c *Contingent) any { return c.Code },
		NaturalKey: func(c *Contingent) map[string]any {
			return map[string]any{"code": c.Code}
		},
		Content: func(c *Contingent) map[string]any {
			return map[string]any{
				"name":        c.Name,
				"description": c.Description,
			}
		},
		Meta: func(c *Contingent) *record.Meta { return &c.Meta },

		// Same valve as facility: the caller-chosen code is the primary key,
		// so a uniqueness violation during a soft delete removes the row
		// outright instead of leaving it half deleted, and the store alerts.
		HardDeleteOnConflict: true,
	}
}

func NewStore(db *gorm.DB, log *zap.Logger, met *metrics.Collector) *record.Store[Contingent] {
	return record.NewStore(db, Descriptor(), log, met)
}
