package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"wisefido-attendance/internal/domain"

	"github.com/lib/pq"
)

// PostgresAssignmentsRepository 排班Repository实现（assignments JOIN locations）
type PostgresAssignmentsRepository struct {
	db *sql.DB
}

// NewPostgresAssignmentsRepository 创建排班Repository
func NewPostgresAssignmentsRepository(db *sql.DB) *PostgresAssignmentsRepository {
	return &PostgresAssignmentsRepository{db: db}
}

// 确保实现了接口
var _ AssignmentsRepository = (*PostgresAssignmentsRepository)(nil)

const assignmentSelect = `
	SELECT
		a.assignment_id::text,
		a.user_id::text,
		a.location_id::text,
		a.days_of_week,
		a.work_start::text,
		a.work_end::text,
		a.confirm_from::text,
		a.confirm_to::text,
		l.name,
		l.description,
		l.shape,
		l.center_lat,
		l.center_lng,
		l.radius_m,
		l.nw_lat,
		l.nw_lng,
		l.se_lat,
		l.se_lng
	FROM assignments a
	JOIN locations l ON l.location_id = a.location_id
`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAssignment(s rowScanner) (*domain.Assignment, error) {
	var (
		a           domain.Assignment
		loc         domain.Location
		days        pq.Int64Array
		description sql.NullString
		shape       string

		workStart, workEnd, confFrom, confTo          string
		cLat, cLng, radius, nwLat, nwLng, seLat, seLng sql.NullFloat64
	)
	if err := s.Scan(
		&a.AssignmentID,
		&a.UserID,
		&a.LocationID,
		&days,
		&workStart,
		&workEnd,
		&confFrom,
		&confTo,
		&loc.Name,
		&description,
		&shape,
		&cLat, &cLng, &radius,
		&nwLat, &nwLng, &seLat, &seLng,
	); err != nil {
		return nil, err
	}

	a.DaysOfWeek = make([]int, 0, len(days))
	for _, d := range days {
		a.DaysOfWeek = append(a.DaysOfWeek, int(d))
	}

	var err error
	if a.WorkWindow, err = parseWindow(workStart, workEnd); err != nil {
		return nil, fmt.Errorf("assignment %s work window: %w", a.AssignmentID, err)
	}
	if a.ConfirmationWindow, err = parseWindow(confFrom, confTo); err != nil {
		return nil, fmt.Errorf("assignment %s confirmation window: %w", a.AssignmentID, err)
	}

	loc.LocationID = a.LocationID
	loc.Description = description.String
	switch domain.AreaShape(shape) {
	case domain.ShapeRectangle:
		loc.Area = domain.NewRectangle(
			domain.Coordinate{Latitude: nwLat.Float64, Longitude: nwLng.Float64},
			domain.Coordinate{Latitude: seLat.Float64, Longitude: seLng.Float64},
		)
	default:
		loc.Area = domain.NewCircle(
			domain.Coordinate{Latitude: cLat.Float64, Longitude: cLng.Float64},
			radius.Float64,
		)
	}
	a.Location = &loc
	return &a, nil
}

func parseWindow(from, to string) (domain.Window, error) {
	start, err := domain.ParseTimeOfDay(from)
	if err != nil {
		return domain.Window{}, err
	}
	end, err := domain.ParseTimeOfDay(to)
	if err != nil {
		return domain.Window{}, err
	}
	return domain.Window{Start: start, End: end}, nil
}

// ListByUser 用户所有有效排班
func (r *PostgresAssignmentsRepository) ListByUser(ctx context.Context, userID string) ([]*domain.Assignment, error) {
	if userID == "" {
		return nil, fmt.Errorf("user_id is required")
	}

	query := assignmentSelect + `
		WHERE a.user_id = $1 AND a.active
		ORDER BY a.confirm_from, a.assignment_id
	`
	rows, err := r.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list assignments: %w", err)
	}
	defer rows.Close()

	var out []*domain.Assignment
	for rows.Next() {
		a, err := scanAssignment(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan assignment: %w", err)
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate assignments: %w", err)
	}
	return out, nil
}

// Get 根据 assignment_id 获取排班
func (r *PostgresAssignmentsRepository) Get(ctx context.Context, assignmentID string) (*domain.Assignment, error) {
	if assignmentID == "" {
		return nil, domain.ErrNotFound
	}

	query := assignmentSelect + `
		WHERE a.assignment_id = $1 AND a.active
	`
	a, err := scanAssignment(r.db.QueryRowContext(ctx, query, assignmentID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get assignment: %w", err)
	}
	return a, nil
}

// ListUserIDs 有有效排班的用户
func (r *PostgresAssignmentsRepository) ListUserIDs(ctx context.Context) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT DISTINCT user_id::text
		FROM assignments
		WHERE active
		ORDER BY 1
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to list assignment users: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan user_id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
