package store

import (
	"context"
	"fmt"
	"sync"

	"github.com/cjeanneret/GuideGo/internal/guideerr"
	"github.com/cjeanneret/GuideGo/internal/logic/backlash"
	"github.com/cjeanneret/GuideGo/internal/logic/calibration"
)

// MemoryStore keeps everything in memory. It is the default store and
// the one used by tests.
type MemoryStore struct {
	mu           sync.Mutex
	calibrations map[string][]*calibration.Calibration
	tracking     map[string]map[string][]TrackingRecord
	backlash     map[string][]*backlash.Result
}

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		calibrations: make(map[string][]*calibration.Calibration),
		tracking:     make(map[string]map[string][]TrackingRecord),
		backlash:     make(map[string][]*backlash.Result),
	}
}

func (s *MemoryStore) SaveCalibration(_ context.Context, key string, c *calibration.Calibration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calibrations[key] = append(s.calibrations[key], c)
	return nil
}

func (s *MemoryStore) LoadCalibration(_ context.Context, key string) (*calibration.Calibration, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	list := s.calibrations[key]
	if len(list) == 0 {
		return nil, fmt.Errorf("no calibration for %s: %w", key, guideerr.ErrNoCalibration)
	}
	return list[len(list)-1], nil
}

func (s *MemoryStore) AppendTracking(_ context.Context, key, run string, records ...TrackingRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	runs := s.tracking[key]
	if runs == nil {
		runs = make(map[string][]TrackingRecord)
		s.tracking[key] = runs
	}
	runs[run] = append(runs[run], records...)
	return nil
}

func (s *MemoryStore) SaveBacklash(_ context.Context, key string, r *backlash.Result) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.backlash[key] = append(s.backlash[key], r)
	return nil
}

func (s *MemoryStore) Close() error {
	return nil
}

// Calibrations returns the calibrations saved under key, oldest first.
func (s *MemoryStore) Calibrations(key string) []*calibration.Calibration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*calibration.Calibration(nil), s.calibrations[key]...)
}

// Tracking returns the records of one run.
func (s *MemoryStore) Tracking(key, run string) []TrackingRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]TrackingRecord(nil), s.tracking[key][run]...)
}

// Runs returns the ids of the runs recorded under key.
func (s *MemoryStore) Runs(key string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var ids []string
	for id := range s.tracking[key] {
		ids = append(ids, id)
	}
	return ids
}

// Backlash returns the backlash results saved under key.
func (s *MemoryStore) Backlash(key string) []*backlash.Result {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*backlash.Result(nil), s.backlash[key]...)
}
