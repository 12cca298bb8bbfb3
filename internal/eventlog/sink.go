// Package eventlog is the durable, append-only record of dispatch events.
//
// Each entry is one UTF-8 line:
//
//	<ISO-8601 timestamp> <LEVEL>: <message>
//
// The file is opened with O_APPEND and is never truncated or rotated here.
// Every entry is mirrored to the structured logger; write failures are reported
// there only, so a broken log never aborts a dispatch.
package eventlog

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	logx "groupcast/pkg/logx"
)

type Level int

const (
	Info Level = iota
	Warn
	Error
	Success
)

func (l Level) String() string {
	switch l {
	case Warn:
		return "WARN"
	case Error:
		return "ERROR"
	case Success:
		return "SUCCESS"
	default:
		return "INFO"
	}
}

const timeFormat = "2006-01-02T15:04:05.000Z07:00"

var errClosed = errors.New("eventlog: sink closed")

// Sink appends entries to a log file. Safe for concurrent use.
type Sink struct {
	mu     sync.Mutex
	path   string
	f      *os.File
	closed bool

	log logx.Logger
	now func() time.Time
}

// Open returns a sink writing to path. The file is created lazily on the first
// Record; an unwritable path is not an error here.
func Open(path string, log logx.Logger) *Sink {
	if log.IsZero() {
		log = logx.Nop()
	}
	path = strings.TrimSpace(path)
	if path == "" {
		path = "./groupcast-send.log"
	}
	return &Sink{path: path, log: log, now: time.Now}
}

func (s *Sink) Path() string { return s.path }

// Record appends one entry and mirrors it. It never fails.
func (s *Sink) Record(level Level, message string) {
	if s == nil {
		return
	}
	at := s.now().UTC()
	msg := flatten(message)

	s.mirror(level, msg, at)

	line := at.Format(timeFormat) + " " + level.String() + ": " + msg + "\n"

	s.mu.Lock()
	err := s.writeLocked(line)
	s.mu.Unlock()
	if err != nil {
		s.log.Error("event log write failed", logx.String("path", s.path), logx.Err(err))
	}
}

func (s *Sink) writeLocked(line string) error {
	if s.closed {
		return errClosed
	}
	if s.f == nil {
		if dir := filepath.Dir(s.path); dir != "" {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return err
			}
		}
		f, err := os.OpenFile(s.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			return err
		}
		s.f = f
	}
	if _, err := s.f.WriteString(line); err != nil {
		// Drop the handle so the next record reopens the file.
		_ = s.f.Close()
		s.f = nil
		return err
	}
	return nil
}

func (s *Sink) mirror(level Level, msg string, at time.Time) {
	switch level {
	case Warn:
		s.log.Warn(msg, logx.Time("at", at))
	case Error:
		s.log.Error(msg, logx.Time("at", at))
	case Success:
		s.log.Info(msg, logx.String("outcome", "success"), logx.Time("at", at))
	default:
		s.log.Info(msg, logx.Time("at", at))
	}
}

func (s *Sink) Close() error {
	if s == nil {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	if s.f == nil {
		return nil
	}
	err := s.f.Close()
	s.f = nil
	return err
}

// flatten keeps one entry per line.
func flatten(s string) string {
	if !strings.ContainsAny(s, "\r\n") {
		return s
	}
	return strings.NewReplacer("\r\n", " ", "\n", " ", "\r", " ").Replace(s)
}
