// Package dispatch sends one message to an ordered list of targets, one at a
// time, with a fixed pause between deliveries.
//
// Contract:
//   - Targets are attempted strictly in input order; Report.Outcomes[i]
//     belongs to Request.TargetIDs[i].
//   - A failed delivery is recorded in its Outcome and never stops the batch.
//   - Between two deliveries the dispatcher waits exactly Request.Interval;
//     there is no wait after the last target.
//   - No retries. Re-dispatch Report.FailedTargets() to try again.
//   - A batch runs to completion once started; caller cancellation is ignored.
package dispatch

import (
	"context"
	"fmt"
	"sync"
	"unicode/utf8"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"groupcast/internal/eventlog"
	"groupcast/internal/wascript"
	logx "groupcast/pkg/logx"
)

const tracerName = "groupcast/internal/dispatch"

type Dispatcher struct {
	// mu serializes batches: one in flight per dispatcher.
	mu sync.Mutex

	sender Sender
	sink   Sink
	clock  Clock
	log    logx.Logger
	tracer trace.Tracer
	newID  func() string
}

type Option func(*Dispatcher)

func WithClock(c Clock) Option {
	return func(d *Dispatcher) {
		if c != nil {
			d.clock = c
		}
	}
}

func WithLogger(log logx.Logger) Option {
	return func(d *Dispatcher) { d.log = log }
}

func WithIDGenerator(fn func() string) Option {
	return func(d *Dispatcher) {
		if fn != nil {
			d.newID = fn
		}
	}
}

func New(sender Sender, sink Sink, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		sender: sender,
		sink:   sink,
		clock:  realClock{},
		tracer: otel.Tracer(tracerName),
		newID:  func() string { return uuid.NewString() },
	}
	for _, o := range opts {
		o(d)
	}
	if d.log.IsZero() {
		d.log = logx.Nop()
	}
	return d
}

// Dispatch validates req and, if valid, delivers req.Message to every target.
// The only error it returns is a validation error; delivery failures are
// reported in the Report.
func (d *Dispatcher) Dispatch(ctx context.Context, req Request) (Report, error) {
	if err := Validate(req); err != nil {
		d.log.Warn("dispatch rejected", logx.Err(err), logx.Int("targets", len(req.TargetIDs)))
		return Report{}, err
	}

	// Keep trace/baggage values but never stop half way through a batch.
	ctx = context.WithoutCancel(ctx)

	d.mu.Lock()
	defer d.mu.Unlock()

	total := len(req.TargetIDs)
	rep := Report{
		ID:        d.newID(),
		Outcomes:  make([]Outcome, 0, total),
		StartedAt: d.clock.Now(),
	}

	ctx, span := d.tracer.Start(ctx, "dispatch.batch", trace.WithAttributes(
		attribute.String("batch.id", rep.ID),
		attribute.Int("batch.targets", total),
		attribute.Int64("batch.interval_ms", req.Interval.Milliseconds()),
	))
	defer span.End()

	log := d.log.With(logx.String("batch", rep.ID))
	log.Info("batch started", logx.Int("targets", total), logx.Duration("interval", req.Interval))
	d.sink.Record(eventlog.Info, fmt.Sprintf("Starting batch %s: %q to %d target(s)", rep.ID, preview(req.Message, 100), total))

	for i, target := range req.TargetIDs {
		pos := i + 1
		d.sink.Record(eventlog.Info, fmt.Sprintf("Attempting delivery to %s (%d/%d)", target, pos, total))

		o := d.deliver(ctx, target, req.Message, req.Token)
		rep.Outcomes = append(rep.Outcomes, o)

		switch o.Status {
		case wascript.StatusSuccess:
			d.sink.Record(eventlog.Success, fmt.Sprintf("Message sent to %s (%d/%d)", target, pos, total))
		case wascript.StatusAPIRejected:
			d.sink.Record(eventlog.Warn, fmt.Sprintf("Provider rejected message for %s (%d/%d): %s", target, pos, total, o.Detail))
		default:
			d.sink.Record(eventlog.Error, fmt.Sprintf("Delivery to %s failed (%d/%d): %s", target, pos, total, o.Detail))
		}

		if pos < total {
			d.sink.Record(eventlog.Info, fmt.Sprintf("Waiting %s before next delivery (%d/%d done)", fmtSeconds(req.Interval), pos, total))
			// The context cannot be cancelled here, so Sleep only returns after the full interval.
			_ = d.clock.Sleep(ctx, req.Interval)
		}
	}

	rep.FinishedAt = d.clock.Now()
	ok, failed := rep.Succeeded(), rep.Failed()

	span.SetAttributes(attribute.Int("batch.succeeded", ok), attribute.Int("batch.failed", failed))
	if failed > 0 {
		span.SetStatus(codes.Error, fmt.Sprintf("%d of %d deliveries failed", failed, total))
		d.sink.Record(eventlog.Info, fmt.Sprintf("Batch %s finished: %d sent, %d failed", rep.ID, ok, failed))
		log.Warn("batch finished with failures", logx.Int("sent", ok), logx.Int("failed", failed), logx.Duration("dur", rep.Duration()))
	} else {
		d.sink.Record(eventlog.Success, fmt.Sprintf("Batch %s finished: all %d target(s) sent", rep.ID, total))
		log.Info("batch finished", logx.Int("sent", ok), logx.Duration("dur", rep.Duration()))
	}
	return rep, nil
}

func (d *Dispatcher) deliver(ctx context.Context, target, message, token string) Outcome {
	ctx, span := d.tracer.Start(ctx, "dispatch.send", trace.WithAttributes(attribute.String("target.id", target)))
	defer span.End()

	res := d.sender.Send(ctx, target, message, token)

	span.SetAttributes(attribute.String("delivery.status", res.Status.String()))
	if res.HTTPStatus != 0 {
		span.SetAttributes(attribute.Int("http.response.status_code", res.HTTPStatus))
	}
	if !res.Status.OK() {
		span.SetStatus(codes.Error, res.Status.String())
	}
	return Outcome{
		TargetID: target,
		Status:   res.Status,
		Detail:   res.Detail,
		At:       d.clock.Now(),
	}
}

// preview shortens s to at most n runes for log lines.
func preview(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	r := []rune(s)
	return string(r[:n]) + "..."
}
