package autolog

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// FileLog is an append-only automation log, one JSON entry per line, in a
// daily file. Appends fsync so a decision record survives a crash of the
// process that made the decision.
type FileLog struct {
	mu   sync.Mutex
	file *os.File
	path string
}

// NewFileLog creates or opens today's automation log file in dirPath.
func NewFileLog(dirPath string) (*FileLog, error) {
	if err := os.MkdirAll(dirPath, 0755); err != nil {
		return nil, fmt.Errorf("failed to create automation log directory: %w", err)
	}

	path := filepath.Join(dirPath, fmt.Sprintf("automation-%s.log", time.Now().Format("20060102")))
	file, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open automation log file: %w", err)
	}

	return &FileLog{file: file, path: path}, nil
}

func (f *FileLog) Append(ctx context.Context, brandID string, e Entry) error {
	e.BrandID = brandID

	line, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("failed to marshal automation log entry: %w", err)
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if _, err := f.file.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("failed to write automation log entry: %w", err)
	}
	if err := f.file.Sync(); err != nil {
		return fmt.Errorf("failed to sync automation log: %w", err)
	}
	return nil
}

// Close flushes and closes the log file.
func (f *FileLog) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := f.file.Sync(); err != nil {
		return err
	}
	return f.file.Close()
}

// Replay reads all entries from a log file. Used by impact-measurement
// tooling and operational inspection.
func Replay(path string) ([]Entry, error) {
	file, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	defer file.Close()

	var entries []Entry
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		var e Entry
		if err := json.Unmarshal(scanner.Bytes(), &e); err != nil {
			return nil, fmt.Errorf("corrupt automation log line: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, scanner.Err()
}
