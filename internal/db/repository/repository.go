package repository

import (
	"context"
	"errors"
	"time"

	"face-attendance/internal/core/models"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Repository definiert die Schnittstelle für die Datenbank-Operationen
type Repository interface {
	// Student-Methoden
	GetStudentByKey(ctx context.Context, identityKey string) (*models.Student, error)
	GetStudentByStudentID(ctx context.Context, studentID string) (*models.Student, error)
	ListStudents(ctx context.Context) ([]models.Student, error)
	UpsertStudent(ctx context.Context, student *models.Student) error
	DeleteStudent(ctx context.Context, studentID string) (bool, error)

	// Attendance-Methoden
	RecordIfAbsent(ctx context.Context, rec *models.AttendanceRecord) (*models.AttendanceRecord, bool, error)
	RecordAllIfAbsent(ctx context.Context, recs []*models.AttendanceRecord) ([]*models.AttendanceRecord, []bool, error)
	GetAttendance(ctx context.Context, id uint) (*models.AttendanceRecord, error)
	ListAttendance(ctx context.Context, filter models.AttendanceFilter) ([]models.AttendanceRecord, int64, error)
	AttendanceStats(ctx context.Context, filter models.AttendanceFilter) (models.AttendanceStats, error)
	UpdateAttendance(ctx context.Context, id uint, update models.AttendanceUpdate) (*models.AttendanceRecord, error)
	DeleteAttendance(ctx context.Context, id uint) error

	// PendingOperation-Methoden
	CreatePendingOperation(ctx context.Context, op *models.PendingOperation) error
	DuePendingOperations(ctx context.Context, now time.Time, limit int) ([]models.PendingOperation, error)
	SavePendingOperation(ctx context.Context, op *models.PendingOperation) error
	CountPendingOperations(ctx context.Context) (int64, error)
	PurgeCompletedOperations(ctx context.Context, before time.Time) (int64, error)
	CancelPendingOperations(ctx context.Context, opType, collectionID, resourceName string, at time.Time) (int64, error)
}

// SQLiteRepository implementiert die Repository-Schnittstelle für SQLite
type SQLiteRepository struct {
	db *gorm.DB
}

// NewSQLiteRepository erstellt eine neue SQLite-Repository-Instanz
func NewSQLiteRepository(db *gorm.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

// Student-Methoden

// GetStudentByKey looks a student up by collection identity key. A missing student is (nil, nil).
func (r *SQLiteRepository) GetStudentByKey(ctx context.Context, identityKey string) (*models.Student, error) {
	var student models.Student
	result := r.db.WithContext(ctx).Where("identity_key = ?", identityKey).First(&student)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, result.Error
	}
	return &student, nil
}

// GetStudentByStudentID looks a student up by student id. A missing student is (nil, nil).
func (r *SQLiteRepository) GetStudentByStudentID(ctx context.Context, studentID string) (*models.Student, error) {
	var student models.Student
	result := r.db.WithContext(ctx).Where("student_id = ?", studentID).First(&student)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, result.Error
	}
	return &student, nil
}

// ListStudents returns the roster ordered by name.
func (r *SQLiteRepository) ListStudents(ctx context.Context) ([]models.Student, error) {
	var students []models.Student
	if err := r.db.WithContext(ctx).Order("name ASC, student_id ASC").Find(&students).Error; err != nil {
		return nil, err
	}
	return students, nil
}

// UpsertStudent inserts a student or replaces name, key and face id of an existing student id.
func (r *SQLiteRepository) UpsertStudent(ctx context.Context, student *models.Student) error {
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "student_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"name", "identity_key", "face_id", "updated_at"}),
	}).Create(student).Error
}

// DeleteStudent removes a roster entry and reports whether one existed.
func (r *SQLiteRepository) DeleteStudent(ctx context.Context, studentID string) (bool, error) {
	result := r.db.WithContext(ctx).Where("student_id = ?", studentID).Delete(&models.Student{})
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

// Attendance-Methoden

// RecordIfAbsent inserts rec unless a record for the same student, subject and day exists.
// It returns the stored row and whether this call created it. The check and the insert are one
// statement guarded by the unique index, so concurrent callers cannot both create.
func (r *SQLiteRepository) RecordIfAbsent(ctx context.Context, rec *models.AttendanceRecord) (*models.AttendanceRecord, bool, error) {
	var (
		stored  *models.AttendanceRecord
		created bool
	)
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		stored, created, err = recordIfAbsent(tx, rec)
		return err
	})
	if err != nil {
		return nil, false, err
	}
	return stored, created, nil
}

// RecordAllIfAbsent applies RecordIfAbsent to every record inside one transaction.
// ctx is checked before each insert; once it is done the whole batch is rolled back.
func (r *SQLiteRepository) RecordAllIfAbsent(ctx context.Context, recs []*models.AttendanceRecord) ([]*models.AttendanceRecord, []bool, error) {
	stored := make([]*models.AttendanceRecord, len(recs))
	created := make([]bool, len(recs))

	// Die Transaktion läuft ohne Abbruch, damit der Rollback synchron passiert
	err := r.db.WithContext(context.WithoutCancel(ctx)).Transaction(func(tx *gorm.DB) error {
		for i, rec := range recs {
			if err := ctx.Err(); err != nil {
				return err
			}
			s, c, err := recordIfAbsent(tx, rec)
			if err != nil {
				return err
			}
			stored[i], created[i] = s, c
		}
		return ctx.Err()
	})
	if err != nil {
		return nil, nil, err
	}
	return stored, created, nil
}

func recordIfAbsent(tx *gorm.DB, rec *models.AttendanceRecord) (*models.AttendanceRecord, bool, error) {
	result := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(rec)
	if result.Error != nil {
		return nil, false, result.Error
	}
	if result.RowsAffected == 1 {
		return rec, true, nil
	}

	var existing models.AttendanceRecord
	if err := tx.Where("student_id = ? AND subject_id = ? AND day = ?", rec.StudentID, rec.SubjectID, rec.Day).
		First(&existing).Error; err != nil {
		return nil, false, err
	}
	return &existing, false, nil
}

// GetAttendance holt einen Eintrag anhand seiner ID
func (r *SQLiteRepository) GetAttendance(ctx context.Context, id uint) (*models.AttendanceRecord, error) {
	var rec models.AttendanceRecord
	result := r.db.WithContext(ctx).First(&rec, id)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, result.Error
	}
	return &rec, nil
}

// ListAttendance returns one page of matching records, newest day first, and the total match count.
func (r *SQLiteRepository) ListAttendance(ctx context.Context, filter models.AttendanceFilter) ([]models.AttendanceRecord, int64, error) {
	var (
		records []models.AttendanceRecord
		total   int64
	)

	if err := r.filtered(ctx, filter).Count(&total).Error; err != nil {
		return nil, 0, err
	}

	q := r.filtered(ctx, filter).Order("day DESC, recorded_at DESC, id DESC")
	if filter.Limit > 0 {
		q = q.Limit(filter.Limit)
	}
	if filter.Offset > 0 {
		q = q.Offset(filter.Offset)
	}
	if err := q.Find(&records).Error; err != nil {
		return nil, 0, err
	}
	return records, total, nil
}

// AttendanceStats counts matching records per status.
func (r *SQLiteRepository) AttendanceStats(ctx context.Context, filter models.AttendanceFilter) (models.AttendanceStats, error) {
	var rows []struct {
		Status string
		Count  int64
	}
	if err := r.filtered(ctx, filter).Select("status, count(*) AS count").Group("status").Scan(&rows).Error; err != nil {
		return models.AttendanceStats{}, err
	}

	var stats models.AttendanceStats
	for _, row := range rows {
		stats.Total += row.Count
		switch row.Status {
		case models.StatusPresent:
			stats.Present = row.Count
		case models.StatusAbsent:
			stats.Absent = row.Count
		case models.StatusLate:
			stats.Late = row.Count
		case models.StatusExcused:
			stats.Excused = row.Count
		}
	}
	if stats.Total > 0 {
		stats.Rate = float64(stats.Present+stats.Late) / float64(stats.Total) * 100
	}
	return stats, nil
}

// UpdateAttendance applies an administrative edit and marks the record as manually verified.
func (r *SQLiteRepository) UpdateAttendance(ctx context.Context, id uint, update models.AttendanceUpdate) (*models.AttendanceRecord, error) {
	changes := map[string]interface{}{
		"verification_method": models.VerificationManual,
		"marked_by":           update.MarkedBy,
	}
	if update.Status != nil {
		changes["status"] = *update.Status
	}
	if update.Remarks != nil {
		changes["remarks"] = *update.Remarks
	}

	result := r.db.WithContext(ctx).Model(&models.AttendanceRecord{}).Where("id = ?", id).Updates(changes)
	if result.Error != nil {
		return nil, result.Error
	}
	if result.RowsAffected == 0 {
		return nil, models.ErrRecordNotFound
	}
	return r.GetAttendance(ctx, id)
}

// DeleteAttendance löscht einen Eintrag
func (r *SQLiteRepository) DeleteAttendance(ctx context.Context, id uint) error {
	result := r.db.WithContext(ctx).Delete(&models.AttendanceRecord{}, id)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return models.ErrRecordNotFound
	}
	return nil
}

func (r *SQLiteRepository) filtered(ctx context.Context, filter models.AttendanceFilter) *gorm.DB {
	q := r.db.WithContext(ctx).Model(&models.AttendanceRecord{})
	if filter.StudentID != "" {
		q = q.Where("student_id = ?", filter.StudentID)
	}
	if filter.SubjectID != "" {
		q = q.Where("subject_id = ?", filter.SubjectID)
	}
	if filter.Status != "" {
		q = q.Where("status = ?", filter.Status)
	}
	// Tage sind YYYY-MM-DD, der String-Vergleich ist also chronologisch
	if filter.From != "" {
		q = q.Where("day >= ?", filter.From)
	}
	if filter.To != "" {
		q = q.Where("day <= ?", filter.To)
	}
	return q
}

// PendingOperation-Methoden

// CreatePendingOperation speichert eine neue ausstehende Operation
func (r *SQLiteRepository) CreatePendingOperation(ctx context.Context, op *models.PendingOperation) error {
	return r.db.WithContext(ctx).Create(op).Error
}

// DuePendingOperations returns pending operations whose next attempt is at or before now, oldest first.
func (r *SQLiteRepository) DuePendingOperations(ctx context.Context, now time.Time, limit int) ([]models.PendingOperation, error) {
	var ops []models.PendingOperation
	q := r.db.WithContext(ctx).
		Where("status = ? AND next_attempt <= ?", models.POStatusPending, now).
		Order("created_at ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&ops).Error; err != nil {
		return nil, err
	}
	return ops, nil
}

// SavePendingOperation aktualisiert eine Operation
func (r *SQLiteRepository) SavePendingOperation(ctx context.Context, op *models.PendingOperation) error {
	return r.db.WithContext(ctx).Save(op).Error
}

// CountPendingOperations counts operations still waiting for a retry.
func (r *SQLiteRepository) CountPendingOperations(ctx context.Context) (int64, error) {
	var n int64
	err := r.db.WithContext(ctx).Model(&models.PendingOperation{}).Where("status = ?", models.POStatusPending).Count(&n).Error
	return n, err
}

// PurgeCompletedOperations deletes finished operations last attempted before the cutoff.
func (r *SQLiteRepository) PurgeCompletedOperations(ctx context.Context, before time.Time) (int64, error) {
	result := r.db.WithContext(ctx).
		Where("status IN ? AND last_attempt < ?", []string{models.POStatusCompleted, models.POStatusFailed, models.POStatusCancelled}, before).
		Delete(&models.PendingOperation{})
	return result.RowsAffected, result.Error
}

// CancelPendingOperations marks still pending operations of one type for one resource as cancelled.
// at is stored as last attempt so retention applies from the cancellation on.
func (r *SQLiteRepository) CancelPendingOperations(ctx context.Context, opType, collectionID, resourceName string, at time.Time) (int64, error) {
	result := r.db.WithContext(ctx).Model(&models.PendingOperation{}).
		Where("status = ? AND operation_type = ? AND collection_id = ? AND resource_name = ?",
			models.POStatusPending, opType, collectionID, resourceName).
		Updates(map[string]interface{}{"status": models.POStatusCancelled, "last_attempt": at})
	return result.RowsAffected, result.Error
}
