package bus

import (
	"bufio"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/ricesearch/placecal/internal/pkg/errors"
)

// LoggedEvent is one line of the event log.
type LoggedEvent struct {
	Event     Event     `json:"event"`
	Topic     string    `json:"topic"`
	Timestamp time.Time `json:"timestamp"`
}

// EventLogger appends events to a JSON-lines file and reads them back.
type EventLogger struct {
	logPath string
	mu      sync.Mutex
	file    *os.File
	encoder *json.Encoder
	now     func() time.Time
}

// NewEventLogger opens logPath for appending, creating parent directories.
func NewEventLogger(logPath string) (*EventLogger, error) {
	if err := os.MkdirAll(filepath.Dir(logPath), 0755); err != nil {
		return nil, errors.StorageError("create event log directory", err)
	}

	file, err := os.OpenFile(logPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return nil, errors.StorageError("open event log", err)
	}

	return &EventLogger{
		logPath: logPath,
		file:    file,
		encoder: json.NewEncoder(file),
		now:     time.Now,
	}, nil
}

// Path returns the log file path.
func (l *EventLogger) Path() string {
	return l.logPath
}

// Log appends an event and syncs the file.
func (l *EventLogger) Log(topic string, event Event) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.file == nil {
		return errors.New(errors.CodeUnavailable, "event logger is closed")
	}

	entry := LoggedEvent{
		Event:     event,
		Topic:     topic,
		Timestamp: l.now(),
	}
	if err := l.encoder.Encode(entry); err != nil {
		return errors.StorageError("encode event", err)
	}
	if err := l.file.Sync(); err != nil {
		return errors.StorageError("sync event log", err)
	}
	return nil
}

// GetEvents returns logged events newer than since, oldest first.
// A limit > 0 caps the number returned. Malformed lines are skipped.
func (l *EventLogger) GetEvents(since time.Time, limit int) ([]LoggedEvent, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	return ReadEvents(l.logPath, since, limit)
}

// ReadEvents reads an event log file without opening it for writing.
// A missing file yields no events.
func ReadEvents(path string, since time.Time, limit int) ([]LoggedEvent, error) {
	file, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return []LoggedEvent{}, nil
		}
		return nil, errors.StorageError("open event log", err)
	}
	defer file.Close()

	events := []LoggedEvent{}
	scanner := bufio.NewScanner(file)

	const maxScanTokenSize = 1024 * 1024 // 1MB
	scanner.Buffer(make([]byte, 64*1024), maxScanTokenSize)

	for scanner.Scan() {
		var entry LoggedEvent
		if err := json.Unmarshal(scanner.Bytes(), &entry); err != nil {
			continue
		}
		if !entry.Timestamp.After(since) {
			continue
		}
		events = append(events, entry)
		if limit > 0 && len(events) >= limit {
			break
		}
	}

	if err := scanner.Err(); err != nil {
		return nil, errors.StorageError("scan event log", err)
	}
	return events, nil
}

// Replay republishes the events logged at path after since to b, oldest
// first, under their logged topics. It returns how many were published.
func Replay(ctx context.Context, path string, b Bus, since time.Time) (int, error) {
	events, err := ReadEvents(path, since, 0)
	if err != nil {
		return 0, err
	}

	for i, entry := range events {
		if err := ctx.Err(); err != nil {
			return i, err
		}
		if err := b.Publish(ctx, entry.Topic, entry.Event); err != nil {
			return i, errors.Wrap(errors.CodeUnavailable, "replay event", err).WithDetail("event_id", entry.Event.ID)
		}
	}
	return len(events), nil
}

// Close closes the log file.
func (l *EventLogger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.file == nil {
		return nil
	}
	err := l.file.Close()
	l.file = nil
	l.encoder = nil
	if err != nil {
		return errors.StorageError("close event log", err)
	}
	return nil
}
