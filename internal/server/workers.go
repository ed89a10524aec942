package server

import (
	"context"
	"fmt"
	"time"

	"github.com/golang/glog"
)

// StartWorkers launches all background goroutines. Call with a cancellable
// context for graceful shutdown.
func (s *Server) StartWorkers(ctx context.Context) {
	if s.cfg.StatsInterval > 0 {
		go s.runStatsLog(ctx, s.cfg.StatsInterval)
	}
	if s.cfg.LimiterIdle > 0 {
		go s.runLimiterSweep(ctx, s.cfg.LimiterIdle)
	}
}

// --- Stats Worker ---

// runStatsLog periodically logs pipeline counters and the collection size.
func (s *Server) runStatsLog(ctx context.Context, every time.Duration) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-time.After(every):
			glog.Info(s.statsLine())
		}
	}
}

// Stats is a point-in-time copy of the pipeline counters.
type Stats struct {
	Received  int64
	Malformed int64
	Limited   int64
	AuthFails int64
	Sent      int64
	SendFails int64
	Records   int
	Senders   int
}

// Stats returns the current counters.
func (s *Server) Stats() Stats {
	return Stats{
		Received:  s.stats.received.Load(),
		Malformed: s.stats.malformed.Load(),
		Limited:   s.stats.limited.Load(),
		AuthFails: s.stats.authFails.Load(),
		Sent:      s.stats.sent.Load(),
		SendFails: s.stats.sendFails.Load(),
		Records:   s.store.Len(),
		Senders:   s.limiter.Len(),
	}
}

func (s *Server) statsLine() string {
	st := s.Stats()
	return fmt.Sprintf("[worker] received=%d malformed=%d limited=%d auth_fail=%d sent=%d send_fail=%d records=%d senders=%d",
		st.Received, st.Malformed, st.Limited, st.AuthFails, st.Sent, st.SendFails, st.Records, st.Senders)
}

// --- Limiter Sweep Worker ---

// runLimiterSweep forgets rate-limit state for senders idle longer than
// maxIdle, checking every maxIdle/3.
func (s *Server) runLimiterSweep(ctx context.Context, maxIdle time.Duration) {
	every := max(maxIdle/3, time.Second)
	for {
		select {
		case <-ctx.Done():
			return
		case <-time.After(every):
			s.sweepLimiter(maxIdle)
		}
	}
}

// sweepLimiter returns the number of senders dropped.
func (s *Server) sweepLimiter(maxIdle time.Duration) int {
	n := s.limiter.Sweep(maxIdle)
	if n > 0 {
		glog.V(2).Infof("[worker] dropped %d idle senders from rate limiter", n)
	}
	return n
}
