package storage

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"

	logx "tickrun/pkg/logx"
)

// fileStore is a dependency-free persistence backend.
//
// Files:
//   - <prefix>.tasks.jsonl (append-only JSON Lines, one TaskResult per line)
//   - <prefix>.runs.jsonl  (append-only JSON Lines, one RunSummary per line)
type fileStore struct {
	log logx.Logger

	mu sync.Mutex

	tasksFile *os.File
	runsFile  *os.File
	runsPath  string
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

	tasksPath := prefix + ".tasks.jsonl"
	runsPath := prefix + ".runs.jsonl"

	tf, err := os.OpenFile(tasksPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, err
	}
	rf, err := os.OpenFile(runsPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		_ = tf.Close()
		return nil, err
	}
	log.Debug("storage.opened", logx.String("tasks", tasksPath), logx.String("runs", runsPath))

	return &fileStore{
		log:       log,
		tasksFile: tf,
		runsFile:  rf,
		runsPath:  runsPath,
	}, nil
}

func (s *fileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var err1, err2 error
	if s.tasksFile != nil {
		err1 = s.tasksFile.Close()
		s.tasksFile = nil
	}
	if s.runsFile != nil {
		err2 = s.runsFile.Close()
		s.runsFile = nil
	}
	if err1 != nil {
		return err1
	}
	return err2
}

func (s *fileStore) AppendTaskResult(ctx context.Context, r TaskResult) error {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.tasksFile == nil {
		return ErrClosed
	}
	return json.NewEncoder(s.tasksFile).Encode(r)
}

func (s *fileStore) AppendRunSummary(ctx context.Context, sum RunSummary) error {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.runsFile == nil {
		return ErrClosed
	}
	return json.NewEncoder(s.runsFile).Encode(sum)
}

func (s *fileStore) RecentRuns(ctx context.Context, limit int) ([]RunSummary, error) {
	s.mu.Lock()
	closed := s.runsFile == nil
	s.mu.Unlock()
	if closed {
		return nil, ErrClosed
	}
	if limit <= 0 {
		return nil, nil
	}

	f, err := os.Open(s.runsPath)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	// Keep a ring of the last limit entries.
	ring := make([]RunSummary, 0, limit)
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 64*1024), 1<<20)
	for sc.Scan() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		var r RunSummary
		if err := json.Unmarshal(sc.Bytes(), &r); err != nil {
			// A torn last line after a crash is skipped.
			continue
		}
		if len(ring) == limit {
			copy(ring, ring[1:])
			ring = ring[:limit-1]
		}
		ring = append(ring, r)
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}

	out := make([]RunSummary, len(ring))
	for i := range ring {
		out[i] = ring[len(ring)-1-i]
	}
	return out, nil
}
