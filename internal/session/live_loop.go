package session

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/Gokias/GokiBot/internal/telemetry"
)

// runLoop drives one session: every tick it closes the current slice, finalizes it, and opens the next.
func (m *Manager) runLoop(s *Session) {
	defer close(s.done)
	ticker := time.NewTicker(m.sliceInterval)
	defer ticker.Stop()

	slog.Info("live loop started", "guild_id", s.GuildID, "session_id", s.ID, "interval", m.sliceInterval)
	for {
		select {
		case <-s.ctx.Done():
			slog.Info("live loop cancelled", "guild_id", s.GuildID, "session_id", s.ID)
			return
		case <-ticker.C:
		}
		if s.IsClosed() {
			slog.Info("live loop exiting on closed session", "guild_id", s.GuildID, "session_id", s.ID)
			return
		}
		if !m.tick(s) {
			return
		}
	}
}

// tick returns false once the session has been torn down.
func (m *Manager) tick(s *Session) bool {
	sink := s.currentSink()
	switch {
	case sink == nil:
		// A previous restart failed and was already counted.
	case !sink.Active():
		slog.Warn("capture sink died", "guild_id", s.GuildID, "session_id", s.ID, "slice", s.SliceNumber())
		telemetry.CaptureFailures.WithLabelValues(telemetry.FailureSinkLost).Inc()
		m.finalizeCurrentSlice(s)
		if m.countFailure(s) {
			return false
		}
	default:
		if err := m.finalizeCurrentSlice(s); errors.Is(err, ErrFinalizeTimeout) {
			telemetry.CaptureFailures.WithLabelValues(telemetry.FailureFinalizeWait).Inc()
			if m.countFailure(s) {
				return false
			}
		}
	}

	if s.IsClosed() {
		return false
	}
	return m.restartCapture(s)
}

// finalizeCurrentSlice stops the active sink with a bounded wait and finalizes whatever it captured.
func (m *Manager) finalizeCurrentSlice(s *Session) error {
	stopCtx, cancel := context.WithTimeout(context.Background(), m.finalizeTimeout)
	defer cancel()
	buffers, slice, err := m.recorder.Stop(stopCtx, s)
	if err != nil {
		if errors.Is(err, errNoActiveSink) {
			return nil
		}
		slog.Warn("slice capture did not complete", "error", err, "guild_id", s.GuildID, "session_id", s.ID, "slice", slice)
		return err
	}

	finalizeCtx, cancelFinalize := context.WithTimeout(context.Background(), m.finalizeTimeout)
	defer cancelFinalize()
	m.finalizer.Finalize(finalizeCtx, s, slice, buffers)
	return nil
}

func (m *Manager) restartCapture(s *Session) bool {
	ctx, cancel := context.WithTimeout(s.ctx, m.finalizeTimeout)
	defer cancel()
	slice, err := m.recorder.Start(ctx, s)
	if err != nil {
		if s.IsClosed() {
			return false
		}
		slog.Error("failed to restart capture", "error", err, "guild_id", s.GuildID, "session_id", s.ID, "failures", s.FailureCount()+1)
		telemetry.CaptureFailures.WithLabelValues(telemetry.FailureStartCapture).Inc()
		return !m.countFailure(s)
	}
	s.resetFailures()
	slog.Debug("slice started", "guild_id", s.GuildID, "session_id", s.ID, "slice", slice)
	return true
}

// countFailure reports true when the budget is exhausted and the session was torn down.
func (m *Manager) countFailure(s *Session) bool {
	failures := s.recordFailure()
	if failures < m.cfg.MaxCaptureFailures {
		return false
	}
	slog.Error("capture failure budget exhausted", "guild_id", s.GuildID, "session_id", s.ID, "failures", failures)
	s.MarkClosed()
	m.teardown(s, stopReasonCaptureFailures)
	return true
}
