package repository

import (
	"context"
	"fmt"
	"io"
	"sort"
	"sync"

	"wisefido-attendance/internal/domain"

	"gopkg.in/yaml.v3"
)

// MemoryAssignmentsRepo DB 未就绪时使用的排班存储（按 assignment_id 索引）
// 数据来自 Put 或 YAML 种子文件
type MemoryAssignmentsRepo struct {
	mu          sync.RWMutex
	assignments map[string]*domain.Assignment
}

func NewMemoryAssignmentsRepo() *MemoryAssignmentsRepo {
	return &MemoryAssignmentsRepo{assignments: map[string]*domain.Assignment{}}
}

var _ AssignmentsRepository = (*MemoryAssignmentsRepo)(nil)

// Put 校验后写入（覆盖同 id）
func (r *MemoryAssignmentsRepo) Put(a *domain.Assignment) error {
	if a == nil || a.AssignmentID == "" {
		return fmt.Errorf("assignment_id is required")
	}
	if err := a.Validate(); err != nil {
		return err
	}
	if a.Location == nil {
		return fmt.Errorf("assignment %s: location is required", a.AssignmentID)
	}
	if err := a.Location.Area.Validate(); err != nil {
		return fmt.Errorf("assignment %s: %w", a.AssignmentID, err)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.assignments[a.AssignmentID] = a
	return nil
}

func (r *MemoryAssignmentsRepo) ListByUser(_ context.Context, userID string) ([]*domain.Assignment, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []*domain.Assignment
	for _, a := range r.assignments {
		if a.UserID == userID {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].ConfirmationWindow.Start != out[j].ConfirmationWindow.Start {
			return out[i].ConfirmationWindow.Start < out[j].ConfirmationWindow.Start
		}
		return out[i].AssignmentID < out[j].AssignmentID
	})
	return out, nil
}

func (r *MemoryAssignmentsRepo) Get(_ context.Context, assignmentID string) (*domain.Assignment, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.assignments[assignmentID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return a, nil
}

func (r *MemoryAssignmentsRepo) ListUserIDs(_ context.Context) ([]string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	seen := map[string]struct{}{}
	var ids []string
	for _, a := range r.assignments {
		if _, ok := seen[a.UserID]; ok {
			continue
		}
		seen[a.UserID] = struct{}{}
		ids = append(ids, a.UserID)
	}
	sort.Strings(ids)
	return ids, nil
}

// ---- YAML seed ----

type seedPoint struct {
	Lat float64 `yaml:"lat"`
	Lng float64 `yaml:"lng"`
}

func (p seedPoint) coordinate() domain.Coordinate {
	return domain.Coordinate{Latitude: p.Lat, Longitude: p.Lng}
}

type seedLocation struct {
	ID          string    `yaml:"id"`
	Name        string    `yaml:"name"`
	Description string    `yaml:"description"`
	Shape       string    `yaml:"shape"`
	Center      seedPoint `yaml:"center"`
	RadiusM     float64   `yaml:"radius_m"`
	Northwest   seedPoint `yaml:"northwest"`
	Southeast   seedPoint `yaml:"southeast"`
}

type seedAssignment struct {
	ID         string `yaml:"id"`
	UserID     string `yaml:"user_id"`
	LocationID string `yaml:"location_id"`
	Days       []int  `yaml:"days"`
	Work       struct {
		Start string `yaml:"start"`
		End   string `yaml:"end"`
	} `yaml:"work"`
	Confirm struct {
		From string `yaml:"from"`
		To   string `yaml:"to"`
	} `yaml:"confirm"`
}

type seedFile struct {
	Locations   []seedLocation   `yaml:"locations"`
	Assignments []seedAssignment `yaml:"assignments"`
}

// LoadSeed 从 YAML 读取地点和排班，返回写入的排班数
func (r *MemoryAssignmentsRepo) LoadSeed(src io.Reader) (int, error) {
	var f seedFile
	if err := yaml.NewDecoder(src).Decode(&f); err != nil {
		return 0, fmt.Errorf("failed to decode seed: %w", err)
	}

	locations := make(map[string]*domain.Location, len(f.Locations))
	for _, l := range f.Locations {
		loc := &domain.Location{LocationID: l.ID, Name: l.Name, Description: l.Description}
		if domain.AreaShape(l.Shape) == domain.ShapeRectangle {
			loc.Area = domain.NewRectangle(l.Northwest.coordinate(), l.Southeast.coordinate())
		} else {
			loc.Area = domain.NewCircle(l.Center.coordinate(), l.RadiusM)
		}
		locations[l.ID] = loc
	}

	n := 0
	for _, s := range f.Assignments {
		loc, ok := locations[s.LocationID]
		if !ok {
			return n, fmt.Errorf("assignment %s: unknown location %q", s.ID, s.LocationID)
		}
		work, err := parseWindow(s.Work.Start, s.Work.End)
		if err != nil {
			return n, fmt.Errorf("assignment %s work window: %w", s.ID, err)
		}
		confirm, err := parseWindow(s.Confirm.From, s.Confirm.To)
		if err != nil {
			return n, fmt.Errorf("assignment %s confirmation window: %w", s.ID, err)
		}
		if err := r.Put(&domain.Assignment{
			AssignmentID:       s.ID,
			UserID:             s.UserID,
			LocationID:         s.LocationID,
			DaysOfWeek:         s.Days,
			WorkWindow:         work,
			ConfirmationWindow: confirm,
			Location:           loc,
		}); err != nil {
			return n, err
		}
		n++
	}
	return n, nil
}
