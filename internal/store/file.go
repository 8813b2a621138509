package store

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/rendis/autoflow/internal/xjson"
	"github.com/rendis/autoflow/pkg/schema"
)

// FileStore keeps one JSON document per run in a directory.
type FileStore struct {
	dir string
	mu  sync.RWMutex
}

// NewFileStore creates the directory if needed and returns a FileStore over it.
func NewFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create run directory: %w", err)
	}
	return &FileStore{dir: dir}, nil
}

// Dir returns the directory the runs are written to.
func (s *FileStore) Dir() string { return s.dir }

func (s *FileStore) Close() error { return nil }

func (s *FileStore) path(executionID string) (string, error) {
	if executionID == "" || strings.ContainsAny(executionID, `/\`) || executionID == "." || executionID == ".." {
		return "", schema.NewErrorf(schema.ErrCodeValidation, "invalid execution id %q", executionID)
	}
	return filepath.Join(s.dir, executionID+".json"), nil
}

func (s *FileStore) SaveRun(_ context.Context, rec *schema.RunRecord) error {
	if rec == nil {
		return schema.NewError(schema.ErrCodeValidation, "run record is nil")
	}
	p, err := s.path(rec.ExecutionID)
	if err != nil {
		return err
	}
	body, err := xjson.MarshalIndent(rec, "", "  ")
	if err != nil {
		return persistenceError("marshal run record", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tmp := p + ".tmp"
	if err := os.WriteFile(tmp, body, 0o644); err != nil {
		return persistenceError("write run record", err)
	}
	if err := os.Rename(tmp, p); err != nil {
		_ = os.Remove(tmp)
		return persistenceError("write run record", err)
	}
	return nil
}

func (s *FileStore) GetRun(_ context.Context, executionID string) (*schema.RunRecord, error) {
	p, err := s.path(executionID)
	if err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	body, err := os.ReadFile(p)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, storeNotFound(executionID)
	}
	if err != nil {
		return nil, persistenceError("read run record", err)
	}
	rec := &schema.RunRecord{}
	if err := xjson.Unmarshal(body, rec); err != nil {
		return nil, persistenceError("decode run record", err)
	}
	return rec, nil
}

func (s *FileStore) ListRuns(_ context.Context, filter RunFilter) ([]schema.RunSummary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, persistenceError("list runs", err)
	}

	var out []schema.RunSummary
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != ".json" {
			continue
		}
		body, err := os.ReadFile(filepath.Join(s.dir, e.Name()))
		if err != nil {
			return nil, persistenceError("read run record", err)
		}
		var rec schema.RunRecord
		if err := xjson.Unmarshal(body, &rec); err != nil {
			// Not a run record.
			continue
		}
		sum := rec.Summary()
		if filter.matches(sum) {
			out = append(out, sum)
		}
	}

	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].StartTime.Equal(out[j].StartTime) {
			return out[i].StartTime.After(out[j].StartTime)
		}
		return out[i].ExecutionID < out[j].ExecutionID
	})
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}
