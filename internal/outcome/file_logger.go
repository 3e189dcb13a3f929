package outcome

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// Recorder persists attempt outcomes.
type Recorder interface {
	Record(o Outcome) error
}

// FileLogger appends successes and failures to two newline-delimited files.
type FileLogger struct {
	mu      sync.Mutex
	success *os.File
	failure *os.File
}

func NewFileLogger(successPath, failurePath string) (*FileLogger, error) {
	success, err := openAppend(successPath)
	if err != nil {
		return nil, fmt.Errorf("open success log: %w", err)
	}
	failure, err := openAppend(failurePath)
	if err != nil {
		success.Close()
		return nil, fmt.Errorf("open failure log: %w", err)
	}
	return &FileLogger{success: success, failure: failure}, nil
}

func openAppend(path string) (*os.File, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}
	return os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
}

func (l *FileLogger) Record(o Outcome) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	f := l.failure
	if o.Succeeded() {
		f = l.success
	}
	line := strings.ReplaceAll(o.Line(), "\n", " ") + "\n"
	if _, err := f.WriteString(line); err != nil {
		return fmt.Errorf("append %s outcome: %w", strings.ToLower(string(o.Kind)), err)
	}
	return f.Sync()
}

func (l *FileLogger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return errors.Join(l.success.Close(), l.failure.Close())
}

// MemoryRecorder keeps outcomes in memory. Mostly for testing.
type MemoryRecorder struct {
	mu       sync.Mutex
	outcomes []Outcome
}

func (m *MemoryRecorder) Record(o Outcome) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.outcomes = append(m.outcomes, o)
	return nil
}

func (m *MemoryRecorder) Outcomes() []Outcome {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Outcome, len(m.outcomes))
	copy(out, m.outcomes)
	return out
}

// Count returns how many outcomes of kind were recorded.
func (m *MemoryRecorder) Count(kind Kind) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, o := range m.outcomes {
		if o.Kind == kind {
			n++
		}
	}
	return n
}
