package storage

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"

	logx "groupcast/pkg/logx"
)

// fileStore is a dependency-free persistence backend.
//
// Files:
//   - <prefix>.targets.json  (snapshot, replaced atomically on every change)
//   - <prefix>.batches.jsonl (append-only JSON Lines)
type fileStore struct {
	log logx.Logger

	mu sync.Mutex

	targetsPath string
	targets     []Target

	batchFile *os.File
}

func openFile(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("storage.path is required for file driver")
	}

	dir := filepath.Dir(path)
	base := filepath.Base(path)
	base = strings.TrimSuffix(base, filepath.Ext(base))
	prefix := filepath.Join(dir, base)

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}

	targetsPath := prefix + ".targets.json"
	targets, err := loadTargets(targetsPath)
	if err != nil {
		return nil, err
	}

	bf, err := os.OpenFile(prefix+".batches.jsonl", os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, err
	}

	log.Debug("file store opened", logx.String("prefix", prefix), logx.Int("targets", len(targets)))
	return &fileStore{
		log:         log,
		targetsPath: targetsPath,
		targets:     targets,
		batchFile:   bf,
	}, nil
}

func (s *fileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.batchFile == nil {
		return nil
	}
	err := s.batchFile.Close()
	s.batchFile = nil
	return err
}

func (s *fileStore) AddTarget(_ context.Context, t Target) error {
	t, err := t.normalize()
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, cur := range s.targets {
		if cur.ID == t.ID {
			return ErrTargetExists
		}
	}
	next := append(append([]Target(nil), s.targets...), t)
	if err := writeTargets(s.targetsPath, next); err != nil {
		return err
	}
	s.targets = next
	return nil
}

func (s *fileStore) RemoveTarget(_ context.Context, id string) error {
	id = strings.TrimSpace(id)

	s.mu.Lock()
	defer s.mu.Unlock()
	next := make([]Target, 0, len(s.targets))
	for _, cur := range s.targets {
		if cur.ID != id {
			next = append(next, cur)
		}
	}
	if len(next) == len(s.targets) {
		return ErrTargetNotFound
	}
	if err := writeTargets(s.targetsPath, next); err != nil {
		return err
	}
	s.targets = next
	return nil
}

func (s *fileStore) ListTargets(_ context.Context, category string) ([]Target, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Target, 0, len(s.targets))
	for _, t := range s.targets {
		if sameCategory(t.Category, category) {
			out = append(out, t)
		}
	}
	return out, nil
}

func (s *fileStore) AppendBatch(_ context.Context, b BatchRecord) error {
	for i := range b.Outcomes {
		b.Outcomes[i].Detail = clipDetail(b.Outcomes[i].Detail)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.batchFile == nil {
		return errors.New("batch history file closed")
	}
	return json.NewEncoder(s.batchFile).Encode(b)
}

func loadTargets(path string) ([]Target, error) {
	b, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var out []Target
	if len(strings.TrimSpace(string(b))) == 0 {
		return nil, nil
	}
	if err := json.Unmarshal(b, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func writeTargets(path string, targets []Target) error {
	if targets == nil {
		targets = []Target{}
	}
	tmp := path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	if err := enc.Encode(targets); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}
