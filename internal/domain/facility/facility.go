package facility

import (
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/medscreen/screening-registry/internal/record"
	"github.com/medscreen/screening-registry/pkg/metrics"
)

// Facility is a health facility (LPU) record. The caller-chosen code is both
// the primary and the natural key, so a create colliding with any existing
// row (active or deleted) surfaces as a duplicate for conflict reporting.
type Facility struct {
	Code        string `gorm:"column:code;type:varchar(20);primaryKey"`
	record.Meta `gorm:"embedded"`

	Name    string `gorm:"column:name;type:varchar(255);not null"`
	Address string `gorm:"column:address;type:text"`
	Region  string `gorm:"column:region;type:varchar(100);index"`
}

func (Facility) TableName() string {
	return "registry.facilities"
}

func Descriptor() record.Descriptor[Facility] {
	return record.Descriptor[Facility]{
		Table:       "registry.facilities",
		KeyColumn:   "code",
		OrderBy:     "code",
		ListColumns: []string{"code", "name", "region", "created_at", "modified_at", "deleted_at"},
		Key:         func(f *Facility) any { return f.Code },
		NaturalKey: func(f *Facility) map[string]any {
			return map[string]any{"code": f.Code}
		},
		Content: func(f *Facility) map[string]any {
			return map[string]any{
				"name":    f.Name,
				"address": f.Address,
				"region":  f.Region,
			}
		},
		Meta: func(f *Facility) *record.Meta { return &f.Meta },

		// Deleting a facility should never trip a uniqueness constraint; if
		// it does the row is removed outright instead of being left half
		// deleted, and the store alerts.
		HardDeleteOnConflict: true,
	}
}

func NewStore(db *gorm.DB, log *zap.Logger, met *metrics.Collector) *record.Store[Facility] {
	return record.NewStore(db, Descriptor(), log, met)
}
