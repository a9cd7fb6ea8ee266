package sink

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/skudskud/polycool-copy-sub003/internal/model"
)

// JsonlSink appends trades to a JSONL file. Duplicate suppression is
// by trade id; ids already in the file are reloaded on the first
// write, so a restarted process does not append lines it wrote before.
// The file is meant for environments without Postgres and for
// debugging.
type JsonlSink struct {
	path   string
	mu     sync.Mutex
	seen   map[string]struct{}
	loaded bool
}

func NewJsonlSink(path string) *JsonlSink {
	return &JsonlSink{path: path, seen: make(map[string]struct{})}
}

// loadSeen populates the duplicate set from an existing output file.
// Caller holds the lock. Unparseable lines are ignored.
func (s *JsonlSink) loadSeen() error {
	if s.loaded {
		return nil
	}
	s.loaded = true

	file, err := os.Open(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("open existing output: %w", err)
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for scanner.Scan() {
		var row struct {
			ID string `json:"id"`
		}
		if err := json.Unmarshal(scanner.Bytes(), &row); err != nil || row.ID == "" {
			continue
		}
		s.seen[row.ID] = struct{}{}
	}
	return scanner.Err()
}

// UpsertTrades appends unseen trades as JSON lines.
func (s *JsonlSink) UpsertTrades(_ context.Context, trades []model.Trade) error {
	if len(trades) == 0 {
		return nil
	}

	dir := filepath.Dir(s.path)
	if dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create output dir: %w", err)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.loadSeen(); err != nil {
		return err
	}

	file, err := os.OpenFile(s.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open output file: %w", err)
	}
	defer file.Close()

	writer := bufio.NewWriter(file)
	for _, trade := range trades {
		if _, ok := s.seen[trade.ID]; ok {
			continue
		}
		line, err := json.Marshal(trade)
		if err != nil {
			return fmt.Errorf("marshal trade: %w", err)
		}
		if _, err := writer.Write(line); err != nil {
			return fmt.Errorf("write trade: %w", err)
		}
		if err := writer.WriteByte('\n'); err != nil {
			return fmt.Errorf("write newline: %w", err)
		}
		s.seen[trade.ID] = struct{}{}
	}

	if err := writer.Flush(); err != nil {
		return fmt.Errorf("flush output: %w", err)
	}

	return nil
}
