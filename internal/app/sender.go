package app

import (
	"context"
	"sync/atomic"

	"groupcast/internal/observability/metrics"
	"groupcast/internal/wascript"
)

// liveSender forwards to the current wascript client and counts every
// delivery. The client is swapped when the wascript section is reloaded;
// a batch already in flight keeps whichever client each Send loads.
type liveSender struct {
	cur     atomic.Pointer[wascript.Client]
	metrics *metrics.Metrics
}

func newLiveSender(c *wascript.Client, m *metrics.Metrics) *liveSender {
	s := &liveSender{metrics: m}
	s.cur.Store(c)
	return s
}

func (s *liveSender) swap(c *wascript.Client) { s.cur.Store(c) }

func (s *liveSender) Send(ctx context.Context, target, message, token string) wascript.Result {
	res := s.cur.Load().Send(ctx, target, message, token)
	s.metrics.ObserveDelivery(res.Status.String(), res.Took)
	return res
}
