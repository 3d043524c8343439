package operator

import (
	"strings"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/medscreen/screening-registry/internal/keygen"
	"github.com/medscreen/screening-registry/internal/record"
	"github.com/medscreen/screening-registry/pkg/metrics"
)

// PrimaryKeyConstraint is what Postgres names the operators primary key. A
// uniqueness violation on it is a random-key collision and gets retried with
// a fresh key; anything else propagates.
const PrimaryKeyConstraint = "operators_pkey"

// Operator is a registry employee. The primary key is a short random number
// assigned at creation (operators quote it when phoning in corrections), so
// inserts go through the collision-retry path rather than a sequence.
type Operator struct {
	ID          int64 `gorm:"column:id;primaryKey;autoIncrement:false"`
	record.Meta `gorm:"embedded"`

	FirstName  string `gorm:"column:first_name;type:varchar(100);not null"`
	LastName   string `gorm:"column:last_name;type:varchar(100);not null"`
	MiddleName string `gorm:"column:middle_name;type:varchar(100)"`

	FacilityCode string `gorm:"column:facility_code;type:varchar(20);index"`
}

func (Operator) TableName() string {
	return "registry.operators"
}

func (o *Operator) FullName() string {
	return strings.TrimSpace(strings.Join([]string{o.LastName, o.FirstName, o.MiddleName}, " "))
}

func Descriptor(gen *keygen.Generator, attempts int) record.Descriptor[Operator] {
	return record.Descriptor[Operator]{
		Table:                "registry.operators",
		KeyColumn:            "id",
		PrimaryKeyConstraint: PrimaryKeyConstraint,
		OrderBy:              "id",
		ListColumns: []string{
			"id", "first_name", "last_name", "middle_name",
			"facility_code", "created_at", "modified_at", "deleted_at",
		},
		Key:    func(o *Operator) any { return o.ID },
		SetKey: func(o *Operator, key int64) { o.ID = key },
		NaturalKey: func(o *Operator) map[string]any {
			return map[string]any{"id": o.ID}
		},
		Content: func(o *Operator) map[string]any {
			return map[string]any{
				"first_name":    o.FirstName,
				"last_name":     o.LastName,
				"middle_name":   o.MiddleName,
				"facility_code": o.FacilityCode,
			}
		},
		Meta: func(o *Operator) *record.Meta { return &o.Meta },
		Keys: &record.RandomKeys{Generator: gen, Attempts: attempts},
	}
}

func NewStore(db *gorm.DB, gen *keygen.Generator, attempts int, log *zap.Logger, met *metrics.Collector) *record.Store[Operator] {
	return record.NewStore(db, Descriptor(gen, attempts), log, met)
}
