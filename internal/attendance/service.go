package attendance

import (
	"context"
	"fmt"

	"face-attendance/internal/core/models"
	"face-attendance/internal/util/timezone"
)

// Store is the ledger's query and administration surface.
type Store interface {
	ListAttendance(ctx context.Context, filter models.AttendanceFilter) ([]models.AttendanceRecord, int64, error)
	AttendanceStats(ctx context.Context, filter models.AttendanceFilter) (models.AttendanceStats, error)
	UpdateAttendance(ctx context.Context, id uint, update models.AttendanceUpdate) (*models.AttendanceRecord, error)
	DeleteAttendance(ctx context.Context, id uint) error
}

// Service validates queries and administrative edits before they reach the ledger.
type Service struct {
	store Store
}

// NewService creates a Service.
func NewService(store Store) *Service {
	return &Service{store: store}
}

// List returns matching records and the total count.
func (s *Service) List(ctx context.Context, filter models.AttendanceFilter) ([]models.AttendanceRecord, int64, error) {
	if err := validateFilter(filter); err != nil {
		return nil, 0, err
	}
	if filter.Limit <= 0 || filter.Limit > 500 {
		filter.Limit = 100
	}
	return s.store.ListAttendance(ctx, filter)
}

// Stats counts matching records per status.
func (s *Service) Stats(ctx context.Context, filter models.AttendanceFilter) (models.AttendanceStats, error) {
	if err := validateFilter(filter); err != nil {
		return models.AttendanceStats{}, err
	}
	filter.Limit, filter.Offset = 0, 0
	return s.store.AttendanceStats(ctx, filter)
}

// Update edits a record's status or remarks.
func (s *Service) Update(ctx context.Context, id uint, update models.AttendanceUpdate) (*models.AttendanceRecord, error) {
	if update.Status == nil && update.Remarks == nil {
		return nil, fmt.Errorf("%w: nothing to update", models.ErrInvalidInput)
	}
	if update.Status != nil && !models.ValidStatus(*update.Status) {
		return nil, fmt.Errorf("%w: unknown status %q", models.ErrInvalidInput, *update.Status)
	}
	return s.store.UpdateAttendance(ctx, id, update)
}

// Delete removes a record.
func (s *Service) Delete(ctx context.Context, id uint) error {
	return s.store.DeleteAttendance(ctx, id)
}

func validateFilter(f models.AttendanceFilter) error {
	if f.Status != "" && !models.ValidStatus(f.Status) {
		return fmt.Errorf("%w: unknown status %q", models.ErrInvalidInput, f.Status)
	}
	for _, d := range []string{f.From, f.To} {
		if d == "" {
			continue
		}
		if _, err := timezone.ParseDay(d); err != nil {
			return fmt.Errorf("%w: date %q must be YYYY-MM-DD", models.ErrInvalidInput, d)
		}
	}
	if f.From != "" && f.To != "" && f.From > f.To {
		return fmt.Errorf("%w: from is after to", models.ErrInvalidInput)
	}
	return nil
}
