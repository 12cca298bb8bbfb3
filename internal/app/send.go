package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"groupcast/internal/dispatch"
	"groupcast/internal/storage"
	logx "groupcast/pkg/logx"
)

// ErrNoDirectory is returned when a category is requested while storage is disabled.
var ErrNoDirectory = errors.New("target directory is disabled")

const sourceCLI = "cli"

// SendRequest selects targets either by explicit ID or by directory category.
// Interval zero means the configured default.
type SendRequest struct {
	Message   string
	TargetIDs []string
	Category  string
	Interval  time.Duration
	Source    string // "cli" when empty
}

// Send resolves targets, dispatches the batch and records it. Explicit
// TargetIDs win over Category. The returned error is either a directory
// failure or a dispatch validation error; delivery failures are only in the
// Report.
func (a *App) Send(ctx context.Context, req SendRequest) (dispatch.Report, error) {
	cfg := a.cfgm.Get()
	source := strings.TrimSpace(req.Source)
	if source == "" {
		source = sourceCLI
	}

	ids, err := a.resolveTargets(ctx, req)
	if err != nil {
		return dispatch.Report{}, err
	}

	interval := req.Interval
	if interval == 0 {
		interval = defaultInterval(cfg)
	}

	rep, err := a.disp.Dispatch(ctx, dispatch.Request{
		Message:   req.Message,
		TargetIDs: ids,
		Interval:  interval,
		Token:     strings.TrimSpace(cfg.Wascript.Token),
	})
	if err != nil {
		a.metrics.ObserveRejected(rejectReason(err))
		return rep, err
	}

	a.metrics.ObserveBatch(source, len(rep.Outcomes), rep.Failed(), rep.Duration(), rep.FinishedAt)
	a.log.Info("batch finished",
		logx.String("batch", rep.ID),
		logx.String("source", source),
		logx.Int("succeeded", rep.Succeeded()),
		logx.Int("failed", rep.Failed()),
		logx.Duration("took", rep.Duration()),
	)
	a.recordHistory(ctx, source, req.Message, rep)
	return rep, nil
}

func (a *App) resolveTargets(ctx context.Context, req SendRequest) ([]string, error) {
	ids := make([]string, 0, len(req.TargetIDs))
	for _, id := range req.TargetIDs {
		if id = strings.TrimSpace(id); id != "" {
			ids = append(ids, id)
		}
	}
	if len(ids) > 0 {
		return ids, nil
	}

	category := strings.TrimSpace(req.Category)
	if category == "" {
		return nil, nil
	}
	if a.store == nil {
		return nil, fmt.Errorf("%w: cannot resolve category %q", ErrNoDirectory, category)
	}
	targets, err := a.store.ListTargets(ctx, category)
	if err != nil {
		return nil, fmt.Errorf("list targets in %q: %w", category, err)
	}
	for _, t := range targets {
		ids = append(ids, t.ID)
	}
	a.log.Debug("targets resolved", logx.String("category", category), logx.Int("count", len(ids)))
	return ids, nil
}

// recordHistory never fails the send; the event log already holds every attempt.
func (a *App) recordHistory(ctx context.Context, source, message string, rep dispatch.Report) {
	if a.store == nil {
		return
	}
	rec := storage.BatchRecord{
		ID:         rep.ID,
		Source:     source,
		Message:    message,
		StartedAt:  rep.StartedAt,
		FinishedAt: rep.FinishedAt,
		Total:      len(rep.Outcomes),
		Succeeded:  rep.Succeeded(),
		Failed:     rep.Failed(),
		Outcomes:   make([]storage.OutcomeRecord, 0, len(rep.Outcomes)),
	}
	for _, o := range rep.Outcomes {
		rec.Outcomes = append(rec.Outcomes, storage.OutcomeRecord{
			TargetID: o.TargetID,
			Status:   o.Status.String(),
			Detail:   o.Detail,
			At:       o.At,
		})
	}

	hctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := a.store.AppendBatch(hctx, rec); err != nil {
		a.metrics.ObserveHistoryError()
		a.log.Warn("batch history not stored", logx.String("batch", rep.ID), logx.Err(err))
	}
}

func rejectReason(err error) string {
	switch {
	case errors.Is(err, dispatch.ErrEmptyMessage):
		return "empty_message"
	case errors.Is(err, dispatch.ErrNoTargets):
		return "no_targets"
	case errors.Is(err, dispatch.ErrIntervalTooShort):
		return "interval_too_short"
	case errors.Is(err, dispatch.ErrMissingToken):
		return "missing_token"
	default:
		return "other"
	}
}
