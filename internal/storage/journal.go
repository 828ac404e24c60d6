package storage

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"marketledger/internal/model"
)

// DroppedEvent is one journal line: an event the processor rejected
// rather than applied, with the reason it was dropped.
type DroppedEvent struct {
	Reason    string            `json:"reason"`
	Event     model.MarketEvent `json:"event"`
	DroppedAt string            `json:"dropped_at"`
}

// Journal appends dropped events to a JSONL file for operator inspection.
// A nil Journal is valid and discards everything.
type Journal struct {
	path string
	mu   sync.Mutex
}

// NewJournal creates a journal writing to path.
func NewJournal(path string) *Journal {
	return &Journal{path: path}
}

// Append writes one dropped-event line.
func (j *Journal) Append(event model.MarketEvent, reason string) error {
	if j == nil || j.path == "" {
		return nil
	}

	dir := filepath.Dir(j.path)
	if dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create journal dir: %w", err)
		}
	}

	j.mu.Lock()
	defer j.mu.Unlock()

	file, err := os.OpenFile(j.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open journal: %w", err)
	}
	defer file.Close()

	writer := bufio.NewWriter(file)
	line, err := json.Marshal(DroppedEvent{
		Reason:    reason,
		Event:     event,
		DroppedAt: time.Now().UTC().Format(time.RFC3339Nano),
	})
	if err != nil {
		return fmt.Errorf("marshal dropped event: %w", err)
	}
	if _, err := writer.Write(line); err != nil {
		return fmt.Errorf("write dropped event: %w", err)
	}
	if err := writer.WriteByte('\n'); err != nil {
		return fmt.Errorf("write newline: %w", err)
	}
	if err := writer.Flush(); err != nil {
		return fmt.Errorf("flush journal: %w", err)
	}
	return nil
}
