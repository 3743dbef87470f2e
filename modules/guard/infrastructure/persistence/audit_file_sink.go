package persistence

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"github.com/jacksonlee411/Confidra/modules/guard/domain/types"
)

const maxAuditLineBytes = 1 << 20

// FileAuditSink appends one JSON object per line (logs/events.log).
type FileAuditSink struct {
	path string
	mu   sync.Mutex
}

func NewFileAuditSink(path string) *FileAuditSink {
	return &FileAuditSink{path: path}
}

func (s *FileAuditSink) Record(ctx context.Context, event types.AuditEvent) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	line, err := json.Marshal(event)
	if err != nil {
		return err
	}
	line = append(line, '\n')

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(s.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	if _, err := f.Write(line); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}

// Recent returns the last limit events in file order. Lines that do not
// decode are skipped.
func (s *FileAuditSink) Recent(ctx context.Context, limit int) ([]types.AuditEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := os.Open(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return []types.AuditEvent{}, nil
	}
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var out []types.AuditEvent
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 64*1024), maxAuditLineBytes)
	for sc.Scan() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		var e types.AuditEvent
		if err := json.Unmarshal(sc.Bytes(), &e); err != nil {
			continue
		}
		out = append(out, e)
		if limit > 0 && len(out) > 2*limit {
			out = append(out[:0:0], out[len(out)-limit:]...)
		}
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	return tail(out, limit), nil
}
