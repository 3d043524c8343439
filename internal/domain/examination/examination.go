package examination

import (
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/medscreen/screening-registry/internal/record"
	"github.com/medscreen/screening-registry/pkg/metrics"
)

// ActiveUniqueIndex is the partial unique index scoping the natural key
// (assay type, exam date, serial number) to non-deleted rows. The store
// matches this name when classifying uniqueness violations.
const ActiveUniqueIndex = "idx_examinations_natural_active"

// Examination is one recorded test result. The natural key is the
// (assay_type, exam_date, serial_number) triple: registries number the day's
// examinations per assay, so the triple is what must stay unique among
// active records. The result payload is schemaless at this layer; the
// resulttype registry validates and formats it per assay.
type Examination struct {
	ID          uuid.UUID `gorm:"column:id;type:uuid;primaryKey"`
	record.Meta `gorm:"embedded"`

	AssayType    string    `gorm:"column:assay_type;type:varchar(10);not null"`
	ExamDate     time.Time `gorm:"column:exam_date;type:date;not null"`
	SerialNumber int       `gorm:"column:serial_number;not null"`

	FacilityCode    string         `gorm:"column:facility_code;type:varchar(20);not null"`
	ContingentCodes []string       `gorm:"column:contingent_codes;type:jsonb;serializer:json"`
	Results         map[string]any `gorm:"column:results;type:jsonb;serializer:json"`
}

func (Examination) TableName() string {
	return "registry.examinations"
}

// NaturalKey returns the triple as store filter columns.
func (e *Examination) NaturalKey() map[string]any {
	return map[string]any{
		"assay_type":    e.AssayType,
		"exam_date":     e.ExamDate,
		"serial_number": e.SerialNumber,
	}
}

// Day normalizes a timestamp to the UTC date the examination was taken,
// matching what the date column stores and what key comparisons use.
func Day(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func Descriptor() record.Descriptor[Examination] {
	return record.Descriptor[Examination]{
		Table:        "registry.examinations",
		KeyColumn:    "id",
		ActiveUnique: ActiveUniqueIndex,
		OrderBy:      "assay_type, exam_date, serial_number",
		ListColumns: []string{
			"id", "assay_type", "exam_date", "serial_number",
			"facility_code", "results", "created_at", "modified_at", "deleted_at",
		},
		Key: func(e *Examination) any { return e.ID },
		NaturalKey: func(e *Examination) map[string]any {
			return e.NaturalKey()
		},
		Content: func(e *Examination) map[string]any {
			return map[string]any{
				"facility_code":    e.FacilityCode,
				"contingent_codes": record.JSON(e.ContingentCodes),
				"results":          record.JSON(e.Results),
			}
		},
		Meta: func(e *Examination) *record.Meta { return &e.Meta },
	}
}

func NewStore(db *gorm.DB, log *zap.Logger, met *metrics.Collector) *record.Store[Examination] {
	return record.NewStore(db, Descriptor(), log, met)
}
