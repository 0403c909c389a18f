package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Gokias/GokiBot/internal/capture"
)

var errNoActiveSink = errors.New("no active capture sink")

// SliceRecorder turns the backend's completion callback into a bounded wait.
type SliceRecorder struct {
	backend capture.Backend
	timeout time.Duration
}

func NewSliceRecorder(backend capture.Backend, timeout time.Duration) *SliceRecorder {
	return &SliceRecorder{backend: backend, timeout: timeout}
}

func (r *SliceRecorder) Available() error {
	if err := r.backend.Available(); err != nil {
		return fmt.Errorf("%w: %v", ErrRecordingUnsupported, err)
	}
	return nil
}

// Start opens the next slice. sliceNumber advances only on success.
func (r *SliceRecorder) Start(ctx context.Context, s *Session) (int, error) {
	if s.currentSink() != nil {
		return 0, fmt.Errorf("%w: sink already active", ErrCaptureStartFailure)
	}
	sink, err := r.backend.StartCapture(ctx, s.GuildID, s.VoiceChannelID)
	if err != nil {
		switch {
		case errors.Is(err, capture.ErrUnsupported):
			return 0, fmt.Errorf("%w: %v", ErrRecordingUnsupported, err)
		case errors.Is(err, capture.ErrConnectFailed):
			return 0, fmt.Errorf("%w: %w: %v", ErrCaptureStartFailure, ErrConnectFailed, err)
		default:
			return 0, fmt.Errorf("%w: %v", ErrCaptureStartFailure, err)
		}
	}
	return s.attachSink(sink), nil
}

// Stop detaches the session's sink and waits for its buffers.
// The slice number of the detached sink is returned even on timeout.
func (r *SliceRecorder) Stop(ctx context.Context, s *Session) (capture.Buffers, int, error) {
	sink, slice := s.detachSink()
	if sink == nil {
		return nil, slice, errNoActiveSink
	}

	ch := make(chan capture.Buffers, 1)
	r.backend.StopCapture(sink, func(b capture.Buffers) {
		select {
		case ch <- b:
		default:
		}
	})

	timer := time.NewTimer(r.timeout)
	defer timer.Stop()
	select {
	case b := <-ch:
		return b, slice, nil
	case <-timer.C:
		return nil, slice, fmt.Errorf("%w after %s", ErrFinalizeTimeout, r.timeout)
	case <-ctx.Done():
		return nil, slice, ctx.Err()
	}
}
