package dispatch

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Validation errors. A request failing any of these is rejected before the
// first log entry or outbound call.
var (
	ErrEmptyMessage     = errors.New("message text is empty")
	ErrNoTargets        = errors.New("no targets selected")
	ErrIntervalTooShort = errors.New("interval below minimum")
	ErrMissingToken     = errors.New("auth token missing")
)

// IsValidation reports whether err is one of the request validation errors.
func IsValidation(err error) bool {
	return errors.Is(err, ErrEmptyMessage) ||
		errors.Is(err, ErrNoTargets) ||
		errors.Is(err, ErrIntervalTooShort) ||
		errors.Is(err, ErrMissingToken)
}

// Validate checks r against the dispatcher's preconditions.
func Validate(r Request) error {
	if strings.TrimSpace(r.Message) == "" {
		return ErrEmptyMessage
	}
	if len(r.TargetIDs) == 0 {
		return ErrNoTargets
	}
	if r.Interval < MinInterval {
		return fmt.Errorf("%w: interval %s is below the %s floor", ErrIntervalTooShort, fmtSeconds(r.Interval), fmtSeconds(MinInterval))
	}
	if strings.TrimSpace(r.Token) == "" {
		return ErrMissingToken
	}
	return nil
}

func fmtSeconds(d time.Duration) string {
	return fmt.Sprintf("%gs", d.Seconds())
}
