package storage

import (
	"context"
	"errors"
	"strings"
	"time"
)

var (
	ErrDisabled       = errors.New("storage disabled")
	ErrTargetExists   = errors.New("target already exists")
	ErrTargetNotFound = errors.New("target not found")
	ErrInvalidTarget  = errors.New("target id, name and category are required")
)

// Config configures storage.
//
// Driver values:
//   - "file": dependency-free file backend (json snapshot + jsonl)
//   - "sqlite": SQLite database file
//   - "postgres": Path is a PostgreSQL connection string
//
// If Driver is empty or "none", storage is disabled.
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// Target is an addressable recipient: a WhatsApp group id or phone number.
type Target struct {
	ID       string    `json:"id"`
	Name     string    `json:"name"`
	Category string    `json:"category"`
	AddedAt  time.Time `json:"added_at"`
}

func (t Target) normalize() (Target, error) {
	t.ID = strings.TrimSpace(t.ID)
	t.Name = strings.TrimSpace(t.Name)
	t.Category = strings.TrimSpace(t.Category)
	if t.ID == "" || t.Name == "" || t.Category == "" {
		return t, ErrInvalidTarget
	}
	if t.AddedAt.IsZero() {
		t.AddedAt = time.Now()
	}
	return t, nil
}

// BatchRecord is the persisted summary of a finished batch.
// Keep it compact and schema-stable.
type BatchRecord struct {
	ID         string          `json:"id"`
	Source     string          `json:"source"` // "cli" or "schedule:<name>"
	Message    string          `json:"message"`
	StartedAt  time.Time       `json:"started_at"`
	FinishedAt time.Time       `json:"finished_at"`
	Total      int             `json:"total"`
	Succeeded  int             `json:"succeeded"`
	Failed     int             `json:"failed"`
	Outcomes   []OutcomeRecord `json:"outcomes"`
}

type OutcomeRecord struct {
	TargetID string    `json:"target_id"`
	Status   string    `json:"status"`
	Detail   string    `json:"detail,omitempty"`
	At       time.Time `json:"at"`
}

// Store is the persistence API used by the app.
type Store interface {
	AddTarget(ctx context.Context, t Target) error
	RemoveTarget(ctx context.Context, id string) error
	// ListTargets returns targets in insertion order. An empty category
	// lists all; matching is case-insensitive.
	ListTargets(ctx context.Context, category string) ([]Target, error)
	AppendBatch(ctx context.Context, b BatchRecord) error
	Close() error
}

func sameCategory(a, b string) bool {
	return b == "" || strings.EqualFold(strings.TrimSpace(a), strings.TrimSpace(b))
}

const maxStoredDetail = 2000

func clipDetail(s string) string {
	if len(s) <= maxStoredDetail {
		return s
	}
	return s[:maxStoredDetail-3] + "..."
}
