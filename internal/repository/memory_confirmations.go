package repository

import (
	"context"
	"sort"
	"sync"

	"wisefido-attendance/internal/domain"
)

// MemoryConfirmationsRepo 进程内确认记录，唯一性由互斥锁保证
type MemoryConfirmationsRepo struct {
	mu      sync.RWMutex
	records map[string]*domain.ConfirmationRecord // assignmentID|date -> record
}

func NewMemoryConfirmationsRepo() *MemoryConfirmationsRepo {
	return &MemoryConfirmationsRepo{records: map[string]*domain.ConfirmationRecord{}}
}

var _ ConfirmationsRepository = (*MemoryConfirmationsRepo)(nil)

func memoryKey(assignmentID, date string) string {
	return assignmentID + "|" + date
}

func (r *MemoryConfirmationsRepo) Insert(_ context.Context, rec *domain.ConfirmationRecord) error {
	key := memoryKey(rec.AssignmentID, rec.Date)
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.records[key]; exists {
		return ErrConfirmationExists
	}
	cp := *rec
	r.records[key] = &cp
	return nil
}

func (r *MemoryConfirmationsRepo) FindForDate(_ context.Context, assignmentID, date string) (*domain.ConfirmationRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rec, ok := r.records[memoryKey(assignmentID, date)]
	if !ok {
		return nil, nil
	}
	cp := *rec
	return &cp, nil
}

func (r *MemoryConfirmationsRepo) ListForUserDate(_ context.Context, userID, date string) ([]*domain.ConfirmationRecord, error) {
	return r.collect(userID, HistoryFilter{From: date, To: date}), nil
}

func (r *MemoryConfirmationsRepo) ListHistory(_ context.Context, userID string, filter HistoryFilter) ([]*domain.ConfirmationRecord, error) {
	out := r.collect(userID, filter)
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

func (r *MemoryConfirmationsRepo) collect(userID string, filter HistoryFilter) []*domain.ConfirmationRecord {
	r.mu.RLock()
	var out []*domain.ConfirmationRecord
	for _, rec := range r.records {
		if rec.UserID == userID && inRange(rec.Date, filter) {
			cp := *rec
			out = append(out, &cp)
		}
	}
	r.mu.RUnlock()
	sortNewestFirst(out)
	return out
}

func sortNewestFirst(recs []*domain.ConfirmationRecord) {
	sort.Slice(recs, func(i, j int) bool {
		if recs[i].Date != recs[j].Date {
			return recs[i].Date > recs[j].Date
		}
		return recs[i].SubmittedAt.After(recs[j].SubmittedAt)
	})
}
