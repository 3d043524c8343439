package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/medscreen/screening-registry/config"
	"github.com/medscreen/screening-registry/internal/audit"
	"github.com/medscreen/screening-registry/internal/domain/examination"
	"github.com/medscreen/screening-registry/internal/record"
	"github.com/medscreen/screening-registry/internal/resulttype"
)

// ExaminationService is what the (external) request layer calls: it selects
// the result variant for the record's type tag, validates the payload,
// drives the resurrecting store, and shapes responses.
type ExaminationService struct {
	store  *record.Store[examination.Examination]
	types  *resulttype.Registry
	limits config.ResultLimits
	audit  *audit.Recorder
	log    *zap.Logger
}

func NewExaminationService(
	store *record.Store[examination.Examination],
	types *resulttype.Registry,
	limits config.ResultLimits,
	auditRec *audit.Recorder,
	log *zap.Logger,
) *ExaminationService {
	if log == nil {
		log = zap.NewNop()
	}
	return &ExaminationService{
		store:  store,
		types:  types,
		limits: limits,
		audit:  auditRec,
		log:    log,
	}
}

type CreateExaminationCommand struct {
	AssayType       string
	ExamDate        time.Time
	SerialNumber    int
	FacilityCode    string
	ContingentCodes []string
	Results         map[string]any
}

// ConflictError reports a create that lost to an active record holding the
// same natural key. Existing is the colliding record, read back (deleted
// records included) so the caller can show it.
type ConflictError struct {
	Existing *examination.Examination
}

func (e *ConflictError) Error() string {
	return "examination already exists for this assay, date and serial number"
}

func (e *ConflictError) Unwrap() error {
	return record.ErrDuplicate
}

// Create records an examination. If a soft-deleted examination holds the
// same (assay, date, serial) triple it is revived in place, keeping its
// original creation provenance. Returns the stored record and whether a
// deleted one was revived.
func (s *ExaminationService) Create(ctx context.Context, cmd *CreateExaminationCommand, caller record.Identity) (*examination.Examination, bool, error) {
	variant, ok := s.types.Lookup(cmd.AssayType)
	if !ok {
		return nil, false, fmt.Errorf("%w: %q", examination.ErrUnknownAssay, cmd.AssayType)
	}
	if err := validateCreateCommand(cmd); err != nil {
		return nil, false, err
	}
	if err := variant.Validate(s.limits, cmd.Results); err != nil {
		return nil, false, err
	}

	exam := &examination.Examination{
		ID:              uuid.New(),
		AssayType:       cmd.AssayType,
		ExamDate:        examination.Day(cmd.ExamDate),
		SerialNumber:    cmd.SerialNumber,
		FacilityCode:    strings.TrimSpace(cmd.FacilityCode),
		ContingentCodes: cmd.ContingentCodes,
		Results:         cmd.Results,
	}

	revived, err := s.store.Upsert(ctx, exam, caller)
	if errors.Is(err, record.ErrDuplicate) {
		existing, readErr := s.store.GetAny(ctx, exam.NaturalKey())
		if readErr != nil {
			s.log.Warn("reading back conflicting examination", zap.Error(readErr))
			return nil, false, err
		}
		return nil, false, &ConflictError{Existing: existing}
	}
	if err != nil {
		return nil, false, fmt.Errorf("creating examination: %w", err)
	}

	if s.audit != nil {
		s.audit.Record(caller, "create", "examination", exam.ID.String())
	}
	return exam, revived, nil
}

// Get returns the formatted full-document view of an active examination.
func (s *ExaminationService) Get(ctx context.Context, id uuid.UUID) (map[string]any, error) {
	exam, err := s.store.Get(ctx, map[string]any{"id": id})
	if err != nil {
		return nil, err
	}
	return s.document(exam, true), nil
}

// List returns summary views of the active examinations, natural-key
// ascending, optionally narrowed to one assay type.
func (s *ExaminationService) List(ctx context.Context, assayType string) ([]map[string]any, error) {
	var filter map[string]any
	if assayType != "" {
		if _, ok := s.types.Lookup(assayType); !ok {
			return nil, fmt.Errorf("%w: %q", examination.ErrUnknownAssay, assayType)
		}
		filter = map[string]any{"assay_type": assayType}
	}

	exams, err := s.store.List(ctx, filter)
	if err != nil {
		return nil, err
	}

	out := make([]map[string]any, 0, len(exams))
	for i := range exams {
		out = append(out, s.document(&exams[i], false))
	}
	return out, nil
}

// History returns the deletion history for one natural key, oldest deletion
// first.
func (s *ExaminationService) History(ctx context.Context, assayType string, examDate time.Time, serialNumber int) ([]map[string]any, error) {
	exams, err := s.store.ListDeleted(ctx, map[string]any{
		"assay_type":    assayType,
		"exam_date":     examination.Day(examDate),
		"serial_number": serialNumber,
	})
	if err != nil {
		return nil, err
	}

	out := make([]map[string]any, 0, len(exams))
	for i := range exams {
		out = append(out, s.document(&exams[i], false))
	}
	return out, nil
}

// Delete soft-deletes an active examination. Deleting an already-deleted or
// unknown record reports false without error.
func (s *ExaminationService) Delete(ctx context.Context, id uuid.UUID, caller record.Identity) (bool, error) {
	removed, err := s.store.Remove(ctx, map[string]any{"id": id}, caller)
	if err != nil {
		return false, err
	}
	if removed && s.audit != nil {
		s.audit.Record(caller, "delete", "examination", id.String())
	}
	return removed, nil
}

// Replace overwrites the content of the active examination holding the
// command's natural key. Deleted or missing records report false: reviving
// goes through Create, not Replace.
func (s *ExaminationService) Replace(ctx context.Context, cmd *CreateExaminationCommand, caller record.Identity) (bool, error) {
	variant, ok := s.types.Lookup(cmd.AssayType)
	if !ok {
		return false, fmt.Errorf("%w: %q", examination.ErrUnknownAssay, cmd.AssayType)
	}
	if err := validateCreateCommand(cmd); err != nil {
		return false, err
	}
	if err := variant.Validate(s.limits, cmd.Results); err != nil {
		return false, err
	}

	exam := &examination.Examination{
		AssayType:       cmd.AssayType,
		ExamDate:        examination.Day(cmd.ExamDate),
		SerialNumber:    cmd.SerialNumber,
		FacilityCode:    strings.TrimSpace(cmd.FacilityCode),
		ContingentCodes: cmd.ContingentCodes,
		Results:         cmd.Results,
	}

	replaced, err := s.store.Replace(ctx, exam, caller)
	if err != nil {
		return false, err
	}
	if replaced && s.audit != nil {
		resource := fmt.Sprintf("%s/%s/%d", exam.AssayType, exam.ExamDate.Format("2006-01-02"), exam.SerialNumber)
		s.audit.Record(caller, "update", "examination", resource)
	}
	return replaced, nil
}

// Restore clears the deletion mark on an examination without touching its
// content.
func (s *ExaminationService) Restore(ctx context.Context, id uuid.UUID) (bool, error) {
	return s.store.Restore(ctx, map[string]any{"id": id})
}

// document shapes a response. full selects the document formatter (raw
// marker sub-results included); otherwise the summary formatter runs and
// markers collapse to a count.
func (s *ExaminationService) document(e *examination.Examination, full bool) map[string]any {
	out := map[string]any{
		"id":           e.ID,
		"assayType":    e.AssayType,
		"examDate":     e.ExamDate.Format("2006-01-02"),
		"serialNumber": e.SerialNumber,
		"facilityCode": e.FacilityCode,
		"createdAt":    e.CreatedAt,
		"modifiedAt":   e.ModifiedAt,
	}
	if full {
		out["contingentCodes"] = e.ContingentCodes
	}
	if e.DeletedAt != nil {
		out["deletedAt"] = *e.DeletedAt
	}
	if e.CreatedBy != nil {
		out["createdBy"] = *e.CreatedBy
	}
	if e.ModifiedBy != nil {
		out["modifiedBy"] = *e.ModifiedBy
	}

	if variant, ok := s.types.Lookup(e.AssayType); ok {
		if full {
			out["results"] = variant.FormatDocument(e.Results)
		} else {
			out["results"] = variant.FormatSummary(e.Results)
		}
	}
	return out
}

func validateCreateCommand(cmd *CreateExaminationCommand) error {
	var errs []string

	if cmd.ExamDate.IsZero() {
		errs = append(errs, "exam_date is required")
	}
	if cmd.SerialNumber <= 0 {
		errs = append(errs, "serial_number must be positive")
	}
	if strings.TrimSpace(cmd.FacilityCode) == "" {
		errs = append(errs, "facility_code is required")
	}

	if len(errs) > 0 {
		return &resulttype.ValidationError{Fields: errs}
	}
	return nil
}
