package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"wisefido-attendance/internal/app"
	"wisefido-attendance/internal/config"
	"wisefido-attendance/internal/database"
	"wisefido-attendance/internal/domain"
	"wisefido-attendance/internal/geo"
	"wisefido-attendance/internal/locator"
	"wisefido-attendance/internal/logger"
	"wisefido-attendance/internal/schedule"
	"wisefido-attendance/internal/service"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply pending database migrations",
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, log, err := setup()
		if err != nil {
			return err
		}
		defer log.Sync()

		ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
		defer cancel()

		db, err := database.NewPostgresDB(ctx, &cfg.Database)
		if err != nil {
			return err
		}
		defer db.Close()

		n, err := database.Migrate(ctx, db, log)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "applied %d migration(s)\n", n)
		return nil
	},
}

var (
	highAccuracy bool
	attempts     int
	clientIP     string
)

var locateCmd = &cobra.Command{
	Use:   "locate",
	Short: "Run the location pipeline once and print the result or diagnostics",
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withApp(cmd, func(ctx context.Context, a *app.App, sess *domain.Session) error {
			pos, err := a.Attendance.AcquirePosition(ctx, sess, service.PositionRequest{
				HighAccuracy: &highAccuracy,
				MaxAttempts:  attempts,
				ClientIP:     clientIP,
			})
			var lerr *locator.Error
			if errors.As(err, &lerr) {
				_ = printJSON(cmd.ErrOrStderr(), map[string]any{
					"kind":        lerr.Kind,
					"guidance":    lerr.Guidance,
					"diagnostics": lerr.Diagnostics,
				})
			}
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), pos)
		})
	},
}

var todayCmd = &cobra.Command{
	Use:   "today",
	Short: "List today's assignments and their status for a user",
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withApp(cmd, func(ctx context.Context, a *app.App, sess *domain.Session) error {
			items, err := a.Attendance.TodayAssignments(ctx, sess)
			if err != nil {
				return err
			}
			type row struct {
				AssignmentID string             `json:"assignment_id"`
				Location     string             `json:"location"`
				Window       string             `json:"window"`
				Status       domain.DailyStatus `json:"status"`
				CanConfirm   bool               `json:"can_confirm"`
			}
			rows := make([]row, 0, len(items))
			for _, it := range items {
				r := row{
					AssignmentID: it.Assignment.AssignmentID,
					Window:       it.Assignment.ConfirmationWindow.Start.String() + "-" + it.Assignment.ConfirmationWindow.End.String(),
					Status:       it.Status,
					CanConfirm:   it.CanConfirm,
				}
				if it.Assignment.Location != nil {
					r.Location = it.Assignment.Location.Name
				}
				rows = append(rows, r)
			}
			return printJSON(cmd.OutOrStdout(), rows)
		})
	},
}

var (
	confirmAssignment string
	confirmLat        float64
	confirmLng        float64
	confirmNotes      string
)

var confirmCmd = &cobra.Command{
	Use:   "confirm",
	Short: "Submit a confirmation for one of today's assignments",
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withApp(cmd, func(ctx context.Context, a *app.App, sess *domain.Session) error {
			res, err := a.Attendance.Confirm(ctx, sess, service.ConfirmRequest{
				AssignmentID: confirmAssignment,
				Position:     domain.Coordinate{Latitude: confirmLat, Longitude: confirmLng},
				Observations: confirmNotes,
			})
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), res.Record)
		})
	},
}

var (
	statusDate    string
	statusRefresh bool
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show cached daily statuses for all users",
	Long: `status prints the snapshots written by the status monitor. With --refresh
it runs one monitor pass first and also prints the transitions it found.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withAppAs(cmd, nil, func(ctx context.Context, a *app.App, _ *domain.Session) error {
			out := map[string]any{}
			if statusRefresh {
				transitions, err := a.Monitor.Tick(ctx)
				if err != nil {
					return err
				}
				out["transitions"] = transitions
			}
			date := statusDate
			if date == "" {
				date = schedule.Today(a.Clock())
			}
			day, err := a.Monitor.DaySnapshots(ctx, date)
			if err != nil {
				return err
			}
			out["date"] = date
			out["users"] = day
			return printJSON(cmd.OutOrStdout(), out)
		})
	},
}

var (
	fenceCenterLat, fenceCenterLng, fenceRadius float64
	pointLat, pointLng                          float64
)

var geofenceCmd = &cobra.Command{
	Use:   "geofence",
	Short: "Classify a point against a circular geofence",
	RunE: func(cmd *cobra.Command, _ []string) error {
		area := domain.NewCircle(domain.Coordinate{Latitude: fenceCenterLat, Longitude: fenceCenterLng}, fenceRadius)
		if err := area.Validate(); err != nil {
			return err
		}
		p := domain.Coordinate{Latitude: pointLat, Longitude: pointLng}
		if !p.Valid() {
			return domain.ErrInvalidCoordinates
		}
		cls, err := geo.Classify(area, p)
		if err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), cls)
	},
}

func init() {
	locateCmd.Flags().BoolVar(&highAccuracy, "high-accuracy", true, "Request a high accuracy first attempt")
	locateCmd.Flags().IntVar(&attempts, "attempts", 0, "Precise attempts (0 = configured default)")
	locateCmd.Flags().StringVar(&clientIP, "ip", "", "Client IP passed to network providers")

	confirmCmd.Flags().StringVar(&confirmAssignment, "assignment", "", "Assignment ID")
	confirmCmd.Flags().Float64Var(&confirmLat, "lat", 0, "Latitude")
	confirmCmd.Flags().Float64Var(&confirmLng, "lng", 0, "Longitude")
	confirmCmd.Flags().StringVar(&confirmNotes, "notes", "", "Observations")
	_ = confirmCmd.MarkFlagRequired("assignment")
	_ = confirmCmd.MarkFlagRequired("lat")
	_ = confirmCmd.MarkFlagRequired("lng")

	statusCmd.Flags().StringVar(&statusDate, "date", "", "Day to show as YYYY-MM-DD (default today)")
	statusCmd.Flags().BoolVar(&statusRefresh, "refresh", false, "Run one monitor pass first")

	geofenceCmd.Flags().Float64Var(&fenceCenterLat, "center-lat", 0, "Fence center latitude")
	geofenceCmd.Flags().Float64Var(&fenceCenterLng, "center-lng", 0, "Fence center longitude")
	geofenceCmd.Flags().Float64Var(&fenceRadius, "radius", 0, "Fence radius in meters")
	geofenceCmd.Flags().Float64Var(&pointLat, "lat", 0, "Point latitude")
	geofenceCmd.Flags().Float64Var(&pointLng, "lng", 0, "Point longitude")
	_ = geofenceCmd.MarkFlagRequired("radius")
}

func setup() (*config.Config, *zap.Logger, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, err
	}
	log, err := logger.NewLogger(cfg.Log.Level, "console", "attendancectl")
	if err != nil {
		return nil, nil, err
	}
	return cfg, log, nil
}

// withApp 装配完整服务后以 --user 身份执行 fn
func withApp(cmd *cobra.Command, fn func(context.Context, *app.App, *domain.Session) error) error {
	if userID == "" {
		return errors.New("--user is required")
	}
	return withAppAs(cmd, &domain.Session{UserID: userID, Role: "cli"}, fn)
}

func withAppAs(cmd *cobra.Command, sess *domain.Session, fn func(context.Context, *app.App, *domain.Session) error) error {
	cfg, log, err := setup()
	if err != nil {
		return err
	}
	defer log.Sync()

	ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
	defer cancel()

	a, err := app.New(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(ctx, a, sess)
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("failed to write output: %w", err)
	}
	return nil
}
