package store

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/cjeanneret/GuideGo/internal/debug"
	"github.com/cjeanneret/GuideGo/internal/guideerr"
	"github.com/cjeanneret/GuideGo/internal/logic/backlash"
	"github.com/cjeanneret/GuideGo/internal/logic/calibration"
)

// FileStore writes YAML files into a directory:
//
//	<key>.calibration.yaml      latest calibration
//	<key>.tracking.<run>.yaml   one sequence of records per guiding run
//	<key>.backlash.yaml         latest backlash result
type FileStore struct {
	dir string
	mu  sync.Mutex
}

// NewFileStore creates dir if needed.
func NewFileStore(dir string) (*FileStore, error) {
	if dir == "" {
		return nil, fmt.Errorf("file store needs a directory: %w", guideerr.ErrBadParameter)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create store directory: %w", err)
	}
	return &FileStore{dir: dir}, nil
}

func (s *FileStore) path(key, kind string) string {
	return filepath.Join(s.dir, fileKey(key)+"."+kind+".yaml")
}

func (s *FileStore) writeYAML(path string, v interface{}) error {
	data, err := yaml.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", filepath.Base(path), err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return os.Rename(tmp, path)
}

func (s *FileStore) SaveCalibration(_ context.Context, key string, c *calibration.Calibration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	path := s.path(key, "calibration")
	debug.Verbose("Store: calibration %s -> %s", c.ID, path)
	return s.writeYAML(path, c)
}

func (s *FileStore) LoadCalibration(_ context.Context, key string) (*calibration.Calibration, error) {
	return LoadCalibrationFile(s.path(key, "calibration"))
}

// LoadCalibrationFile reads a calibration written by FileStore.
func LoadCalibrationFile(path string) (*calibration.Calibration, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("no calibration in %s: %w", path, guideerr.ErrNoCalibration)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read calibration: %w", err)
	}
	var c calibration.Calibration
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("failed to parse calibration %s: %w", path, err)
	}
	if !c.Usable() {
		return nil, fmt.Errorf("calibration %s is singular: %w", path, guideerr.ErrNoCalibration)
	}
	return &c, nil
}

// AppendTracking appends the records to the run's file. Each call adds
// items to the same YAML sequence.
func (s *FileStore) AppendTracking(_ context.Context, key, run string, records ...TrackingRecord) error {
	if len(records) == 0 {
		return nil
	}
	data, err := yaml.Marshal(records)
	if err != nil {
		return fmt.Errorf("failed to encode tracking records: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	f, err := os.OpenFile(s.path(key, "tracking."+run), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("failed to open tracking file: %w", err)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		return fmt.Errorf("failed to append tracking records: %w", err)
	}
	return f.Close()
}

// LoadTracking reads back the records of one run.
func (s *FileStore) LoadTracking(key, run string) ([]TrackingRecord, error) {
	data, err := os.ReadFile(s.path(key, "tracking."+run))
	if err != nil {
		return nil, err
	}
	var records []TrackingRecord
	if err := yaml.Unmarshal(data, &records); err != nil {
		return nil, fmt.Errorf("failed to parse tracking records: %w", err)
	}
	return records, nil
}

func (s *FileStore) SaveBacklash(_ context.Context, key string, r *backlash.Result) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writeYAML(s.path(key, "backlash"), r)
}

func (s *FileStore) Close() error {
	return nil
}
