package service

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/medscreen/screening-registry/config"
	"github.com/medscreen/screening-registry/internal/domain/examination"
	"github.com/medscreen/screening-registry/internal/record"
	"github.com/medscreen/screening-registry/internal/resulttype"
)

// The rejection paths run before any store call, so they are unit-testable
// with no database behind the service.
func newTestService(t *testing.T) *ExaminationService {
	t.Helper()
	limits := config.ResultLimits{MaxFieldLength: 64, MaxMarkers: 5, MaxContingents: 10}
	return NewExaminationService(nil, resulttype.Default(), limits, nil, zap.NewNop())
}

func validCommand() *CreateExaminationCommand {
	return &CreateExaminationCommand{
		AssayType:    "hiv",
		ExamDate:     time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC),
		SerialNumber: 7,
		FacilityCode: "77001",
		Results:      map[string]any{"elisa": "positive"},
	}
}

func TestCreateRejectsUnknownAssay(t *testing.T) {
	svc := newTestService(t)

	cmd := validCommand()
	cmd.AssayType = "hbv"
	_, _, err := svc.Create(context.Background(), cmd, record.Identity{})
	assert.ErrorIs(t, err, examination.ErrUnknownAssay)

	_, err = svc.List(context.Background(), "hbv")
	assert.ErrorIs(t, err, examination.ErrUnknownAssay)
}

func TestCreateRejectsBadCommand(t *testing.T) {
	svc := newTestService(t)

	cases := []struct {
		name    string
		mutate  func(*CreateExaminationCommand)
		wantSub string
	}{
		{"zero date", func(c *CreateExaminationCommand) { c.ExamDate = time.Time{} }, "exam_date is required"},
		{"zero serial", func(c *CreateExaminationCommand) { c.SerialNumber = 0 }, "serial_number must be positive"},
		{"blank facility", func(c *CreateExaminationCommand) { c.FacilityCode = "  " }, "facility_code is required"},
		{"empty results", func(c *CreateExaminationCommand) { c.Results = map[string]any{} }, "at least one of"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cmd := validCommand()
			tc.mutate(cmd)

			_, _, err := svc.Create(context.Background(), cmd, record.Identity{})
			var verr *resulttype.ValidationError
			require.ErrorAs(t, err, &verr)
			assert.Contains(t, strings.Join(verr.Fields, "; "), tc.wantSub)
		})
	}
}

func TestConflictErrorUnwrapsToDuplicate(t *testing.T) {
	err := &ConflictError{Existing: &examination.Examination{}}
	assert.ErrorIs(t, err, record.ErrDuplicate)
}

func TestDocumentViews(t *testing.T) {
	svc := newTestService(t)

	deletedAt := time.Date(2026, 4, 1, 9, 0, 0, 0, time.UTC)
	exam := &examination.Examination{
		ID:              uuid.New(),
		AssayType:       "hiv",
		ExamDate:        examination.Day(time.Date(2026, 3, 14, 23, 50, 0, 0, time.UTC)),
		SerialNumber:    7,
		FacilityCode:    "77001",
		ContingentCodes: []string{"108", "120"},
		Results: map[string]any{
			"elisa": "positive",
			"markers": []any{
				map[string]any{"name": "gp120"},
				map[string]any{"name": "gp41"},
			},
		},
	}
	exam.CreatedBy = &record.Actor{FirstName: "Anna", LastName: "Ivanova"}
	exam.DeletedAt = &deletedAt

	doc := svc.document(exam, true)
	assert.Equal(t, "2026-03-14", doc["examDate"])
	assert.Equal(t, []string{"108", "120"}, doc["contingentCodes"])
	assert.Equal(t, record.Actor{FirstName: "Anna", LastName: "Ivanova"}, doc["createdBy"])
	assert.Equal(t, deletedAt, doc["deletedAt"])
	results, ok := doc["results"].(map[string]any)
	require.True(t, ok)
	assert.Len(t, results["markers"], 2)

	summary := svc.document(exam, false)
	assert.NotContains(t, summary, "contingentCodes")
	results, ok = summary["results"].(map[string]any)
	require.True(t, ok)
	assert.NotContains(t, results, "markers")
	assert.Equal(t, 2, results["markerCount"])
}
