package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"wisefido-attendance/internal/domain"

	"github.com/lib/pq"
)

// pgUniqueViolation SQLSTATE 23505
const pgUniqueViolation = "23505"

// PostgresConfirmationsRepository 到岗确认Repository实现
// 唯一性依赖 uq_confirmations_assignment_date 约束
type PostgresConfirmationsRepository struct {
	db *sql.DB
}

// NewPostgresConfirmationsRepository 创建到岗确认Repository
func NewPostgresConfirmationsRepository(db *sql.DB) *PostgresConfirmationsRepository {
	return &PostgresConfirmationsRepository{db: db}
}

// 确保实现了接口
var _ ConfirmationsRepository = (*PostgresConfirmationsRepository)(nil)

const confirmationColumns = `
	confirmation_id::text,
	assignment_id::text,
	user_id::text,
	attendance_date::text,
	submitted_at,
	latitude,
	longitude,
	accuracy_m,
	distance_m,
	within_geofence,
	observations
`

func scanConfirmation(s rowScanner) (*domain.ConfirmationRecord, error) {
	var (
		rec          domain.ConfirmationRecord
		accuracy     sql.NullFloat64
		observations sql.NullString
	)
	if err := s.Scan(
		&rec.ConfirmationID,
		&rec.AssignmentID,
		&rec.UserID,
		&rec.Date,
		&rec.SubmittedAt,
		&rec.Latitude,
		&rec.Longitude,
		&accuracy,
		&rec.DistanceM,
		&rec.WithinGeofence,
		&observations,
	); err != nil {
		return nil, err
	}
	if accuracy.Valid {
		v := accuracy.Float64
		rec.AccuracyM = &v
	}
	rec.Observations = observations.String
	return &rec, nil
}

// Insert 插入确认记录，唯一约束冲突时返回 ErrConfirmationExists
func (r *PostgresConfirmationsRepository) Insert(ctx context.Context, rec *domain.ConfirmationRecord) error {
	var accuracy sql.NullFloat64
	if rec.AccuracyM != nil {
		accuracy = sql.NullFloat64{Float64: *rec.AccuracyM, Valid: true}
	}
	var observations sql.NullString
	if rec.Observations != "" {
		observations = sql.NullString{String: rec.Observations, Valid: true}
	}

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO confirmations (
			confirmation_id, assignment_id, user_id, attendance_date, submitted_at,
			latitude, longitude, accuracy_m, distance_m, within_geofence, observations
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`,
		rec.ConfirmationID,
		rec.AssignmentID,
		rec.UserID,
		rec.Date,
		rec.SubmittedAt,
		rec.Latitude,
		rec.Longitude,
		accuracy,
		rec.DistanceM,
		rec.WithinGeofence,
		observations,
	)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && string(pqErr.Code) == pgUniqueViolation {
			return ErrConfirmationExists
		}
		return fmt.Errorf("failed to insert confirmation: %w", err)
	}
	return nil
}

// FindForDate 查询排班某天的确认记录
func (r *PostgresConfirmationsRepository) FindForDate(ctx context.Context, assignmentID, date string) (*domain.ConfirmationRecord, error) {
	query := `SELECT ` + confirmationColumns + `
		FROM confirmations
		WHERE assignment_id = $1 AND attendance_date = $2
	`
	rec, err := scanConfirmation(r.db.QueryRowContext(ctx, query, assignmentID, date))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get confirmation: %w", err)
	}
	return rec, nil
}

// ListForUserDate 用户某天的全部确认记录
func (r *PostgresConfirmationsRepository) ListForUserDate(ctx context.Context, userID, date string) ([]*domain.ConfirmationRecord, error) {
	query := `SELECT ` + confirmationColumns + `
		FROM confirmations
		WHERE user_id = $1 AND attendance_date = $2
		ORDER BY submitted_at
	`
	return r.list(ctx, query, userID, date)
}

// ListHistory 历史记录，支持日期范围和条数限制
func (r *PostgresConfirmationsRepository) ListHistory(ctx context.Context, userID string, filter HistoryFilter) ([]*domain.ConfirmationRecord, error) {
	if userID == "" {
		return nil, fmt.Errorf("user_id is required")
	}

	where := []string{"user_id = $1"}
	args := []any{userID}
	argIdx := 2

	if filter.From != "" {
		where = append(where, fmt.Sprintf("attendance_date >= $%d", argIdx))
		args = append(args, filter.From)
		argIdx++
	}
	if filter.To != "" {
		where = append(where, fmt.Sprintf("attendance_date <= $%d", argIdx))
		args = append(args, filter.To)
		argIdx++
	}

	query := `SELECT ` + confirmationColumns + `
		FROM confirmations
		WHERE ` + strings.Join(where, " AND ") + `
		ORDER BY attendance_date DESC, submitted_at DESC`
	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argIdx)
		args = append(args, filter.Limit)
	}
	return r.list(ctx, query, args...)
}

func (r *PostgresConfirmationsRepository) list(ctx context.Context, query string, args ...any) ([]*domain.ConfirmationRecord, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list confirmations: %w", err)
	}
	defer rows.Close()

	var out []*domain.ConfirmationRecord
	for rows.Next() {
		rec, err := scanConfirmation(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan confirmation: %w", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate confirmations: %w", err)
	}
	return out, nil
}
