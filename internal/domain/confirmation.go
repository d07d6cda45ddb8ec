package domain

import "time"

// DateLayout attendance_date 的文本格式
const DateLayout = "2006-01-02"

// ConfirmationRecord 到岗确认记录（对应 confirmations 表）
// UNIQUE (assignment_id, attendance_date)：每个排班每天最多一条
type ConfirmationRecord struct {
	ConfirmationID string    `db:"confirmation_id" json:"confirmation_id"` // UUID, PRIMARY KEY
	AssignmentID   string    `db:"assignment_id" json:"assignment_id"`     // UUID, NOT NULL
	UserID         string    `db:"user_id" json:"user_id"`                 // UUID, NOT NULL
	Date           string    `db:"attendance_date" json:"attendance_date"` // DATE, NOT NULL (YYYY-MM-DD, 本地时区)
	SubmittedAt    time.Time `db:"submitted_at" json:"submitted_at"`       // TIMESTAMPTZ, NOT NULL

	Latitude  float64  `db:"latitude" json:"latitude"`
	Longitude float64  `db:"longitude" json:"longitude"`
	AccuracyM *float64 `db:"accuracy_m" json:"accuracy_m,omitempty"` // nullable

	DistanceM      float64 `db:"distance_m" json:"distance_m"`
	WithinGeofence bool    `db:"within_geofence" json:"within_geofence"`
	Observations   string  `db:"observations" json:"observations,omitempty"` // TEXT, nullable
}

// Position returns the submitted point.
func (r *ConfirmationRecord) Position() Coordinate {
	return Coordinate{Latitude: r.Latitude, Longitude: r.Longitude}
}
