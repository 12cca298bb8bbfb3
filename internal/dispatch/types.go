package dispatch

import (
	"context"
	"time"

	"groupcast/internal/eventlog"
	"groupcast/internal/wascript"
)

// MinInterval is the floor for Request.Interval. It is fixed: sending faster
// than this from one credential trips the provider's abuse protection.
const MinInterval = 13 * time.Second

// Request is one batch: a message, the ordered targets, the throttle interval
// and the provider credential.
type Request struct {
	Message   string
	TargetIDs []string
	Interval  time.Duration
	Token     string
}

// Outcome is the classified result for one target. Outcomes are created once,
// in target order, and never mutated.
type Outcome struct {
	TargetID string          `json:"target_id"`
	Status   wascript.Status `json:"status"`
	Detail   string          `json:"detail,omitempty"`
	At       time.Time       `json:"at"`
}

// Report is the result of a batch. Outcomes[i] always belongs to
// Request.TargetIDs[i].
type Report struct {
	ID         string    `json:"id"`
	Outcomes   []Outcome `json:"outcomes"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
}

func (r Report) Succeeded() int {
	n := 0
	for _, o := range r.Outcomes {
		if o.Status.OK() {
			n++
		}
	}
	return n
}

func (r Report) Failed() int { return len(r.Outcomes) - r.Succeeded() }

// FailedTargets returns the targets to pass to a new Dispatch when retrying.
func (r Report) FailedTargets() []string {
	var out []string
	for _, o := range r.Outcomes {
		if !o.Status.OK() {
			out = append(out, o.TargetID)
		}
	}
	return out
}

func (r Report) Duration() time.Duration { return r.FinishedAt.Sub(r.StartedAt) }

// Sender delivers one message. *wascript.Client implements it.
type Sender interface {
	Send(ctx context.Context, target, message, token string) wascript.Result
}

// Sink records dispatch events. *eventlog.Sink implements it.
type Sink interface {
	Record(level eventlog.Level, message string)
}

// Clock is the dispatcher's view of time.
type Clock interface {
	Now() time.Time
	// Sleep blocks the calling goroutine for d or until ctx is done.
	Sleep(ctx context.Context, d time.Duration) error
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

func (realClock) Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
