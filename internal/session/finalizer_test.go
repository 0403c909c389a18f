package session

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/Gokias/GokiBot/internal/audio"
	"github.com/Gokias/GokiBot/internal/capture"
	"github.com/Gokias/GokiBot/internal/discord"
	"github.com/Gokias/GokiBot/internal/transcriber"
	"golang.org/x/time/rate"
)

var testStartedAt = time.Date(2026, 3, 1, 20, 0, 0, 0, time.UTC)

func newFinalizerSession(t *testing.T) *Session {
	t.Helper()
	return newSession(sessionParams{
		GuildID:        "guild-1",
		VoiceChannelID: "vc-1",
		ThreadID:       "thread-1",
		StartedAt:      testStartedAt,
		WorkDir:        t.TempDir(),
		Language:       "en-US",
	})
}

func newTestFinalizer(h *testHarness) *SliceFinalizer {
	f := NewSliceFinalizer(h.discord, h.repo, h.resolver, 12*time.Second, time.UTC)
	f.publishRate = rate.Inf
	return f
}

func speech() []audio.Frame {
	return []audio.Frame{{Offset: 0, Duration: audio.FrameDuration, Opus: []byte{0xfc, 0xff, 0xfe}}}
}

func TestFinalize_OnlyConsentedUsersAreTranscribed(t *testing.T) {
	h := newTestHarness(t)
	f := newTestFinalizer(h)
	s := newFinalizerSession(t)
	s.Consent("alice", "")
	s.Consent("carol", "")

	f.Finalize(context.Background(), s, 1, capture.Buffers{"alice": speech(), "bob": speech(), "carol": speech()})

	got := h.engine.transcribedUsers()
	if len(got) != 2 {
		t.Fatalf("expected two transcribed files, got %v", got)
	}
	for _, userID := range got {
		if userID == "bob" {
			t.Fatal("non-consented speaker was transcribed")
		}
	}
	if _, err := os.Stat(filepath.Join(s.WorkDir, "slice-00001", "bob.ogg")); !os.IsNotExist(err) {
		t.Fatalf("expected no file for non-consented speaker, stat err=%v", err)
	}
	data, err := os.ReadFile(filepath.Join(s.WorkDir, "slice-00001", "alice.ogg"))
	if err != nil {
		t.Fatalf("expected audio file for consented speaker: %v", err)
	}
	if !bytes.HasPrefix(data, []byte("OggS")) {
		t.Fatal("expected an ogg opus file")
	}
}

func TestFinalize_OrdersLinesByAbsoluteTime(t *testing.T) {
	h := newTestHarness(t)
	f := newTestFinalizer(h)
	s := newFinalizerSession(t)
	s.Consent("A", "Alice")
	s.Consent("B", "Bob")
	h.engine.byUser["A"] = []transcriber.Utterance{{OffsetSeconds: 2.0, Text: "hello"}}
	h.engine.byUser["B"] = []transcriber.Utterance{{OffsetSeconds: 1.0, Text: "hi"}}

	f.Finalize(context.Background(), s, 1, capture.Buffers{"A": speech(), "B": speech()})

	lines := h.discord.transcriptLines()
	want := []string{"[20:00:01] [Bob] hi", "[20:00:02] [Alice] hello"}
	if len(lines) != len(want) {
		t.Fatalf("unexpected lines: %v", lines)
	}
	for i := range want {
		if lines[i] != want[i] {
			t.Fatalf("line %d: expected %q, got %q", i, want[i], lines[i])
		}
	}
	if h.repo.insertCalls[0].SpokenAt != testStartedAt.Add(time.Second) {
		t.Fatalf("unexpected persisted time: %v", h.repo.insertCalls[0].SpokenAt)
	}
}

func TestFinalize_OffsetsBySliceNumber(t *testing.T) {
	h := newTestHarness(t)
	f := newTestFinalizer(h)
	s := newFinalizerSession(t)
	s.Consent("A", "Alice")
	h.engine.byUser["A"] = []transcriber.Utterance{{OffsetSeconds: 0.5, Text: "later"}}

	f.Finalize(context.Background(), s, 3, capture.Buffers{"A": speech()})

	if len(h.repo.insertCalls) != 1 {
		t.Fatalf("expected one persisted line, got %d", len(h.repo.insertCalls))
	}
	got := h.repo.insertCalls[0]
	if want := testStartedAt.Add(24*time.Second + 500*time.Millisecond); !got.SpokenAt.Equal(want) {
		t.Fatalf("expected %v, got %v", want, got.SpokenAt)
	}
	if got.SliceNumber != 3 {
		t.Fatalf("unexpected slice number: %d", got.SliceNumber)
	}
}

func TestFinalize_TiesKeepUserOrderAndBlankTextIsDropped(t *testing.T) {
	h := newTestHarness(t)
	f := newTestFinalizer(h)
	s := newFinalizerSession(t)
	s.Consent("u1", "One")
	s.Consent("u2", "Two")
	h.engine.byUser["u1"] = []transcriber.Utterance{{OffsetSeconds: 3, Text: "first"}, {OffsetSeconds: 4, Text: "   "}}
	h.engine.byUser["u2"] = []transcriber.Utterance{{OffsetSeconds: 3, Text: "second"}}

	f.Finalize(context.Background(), s, 1, capture.Buffers{"u2": speech(), "u1": speech()})

	lines := h.discord.transcriptLines()
	if len(lines) != 2 {
		t.Fatalf("expected blank utterance to be dropped, got %v", lines)
	}
	if lines[0] != "[20:00:03] [One] first" || lines[1] != "[20:00:03] [Two] second" {
		t.Fatalf("unexpected tie order: %v", lines)
	}
	if h.repo.insertCalls[0].SegmentIndex != 0 || h.repo.insertCalls[1].SegmentIndex != 1 {
		t.Fatalf("unexpected segment indices: %+v", h.repo.insertCalls)
	}
}

func TestFinalize_DisplayNamePrecedence(t *testing.T) {
	h := newTestHarness(t)
	f := newTestFinalizer(h)
	s := newFinalizerSession(t)
	s.SetAlias("aliased", "Nick")
	s.Consent("platform", "")
	s.Consent("raw", "")
	h.discord.displayNames["aliased"] = "Ignored"
	h.discord.displayNames["platform"] = "Server Name"
	h.engine.byUser["aliased"] = []transcriber.Utterance{{OffsetSeconds: 1, Text: "a"}}
	h.engine.byUser["platform"] = []transcriber.Utterance{{OffsetSeconds: 2, Text: "b"}}
	h.engine.byUser["raw"] = []transcriber.Utterance{{OffsetSeconds: 3, Text: "c"}}

	f.Finalize(context.Background(), s, 1, capture.Buffers{"aliased": speech(), "platform": speech(), "raw": speech()})

	lines := h.discord.transcriptLines()
	want := []string{"[20:00:01] [Nick] a", "[20:00:02] [Server Name] b", "[20:00:03] [raw] c"}
	for i := range want {
		if i >= len(lines) || lines[i] != want[i] {
			t.Fatalf("unexpected lines: %v", lines)
		}
	}
}

func TestFinalize_NoEngineSkipsSlice(t *testing.T) {
	h := newTestHarness(t)
	h.resolver.err = transcriber.ErrEngineUnavailable
	f := newTestFinalizer(h)
	s := newFinalizerSession(t)
	s.Consent("A", "")

	f.Finalize(context.Background(), s, 1, capture.Buffers{"A": speech()})

	if len(h.discord.transcriptLines()) != 0 || len(h.repo.insertCalls) != 0 {
		t.Fatal("expected nothing published without an engine")
	}
}

func TestFinalize_DestinationMissingStopsPublishing(t *testing.T) {
	h := newTestHarness(t)
	h.discord.sendErr = discord.ErrDestinationMissing
	f := newTestFinalizer(h)
	s := newFinalizerSession(t)
	s.Consent("A", "")
	h.engine.byUser["A"] = []transcriber.Utterance{{OffsetSeconds: 1, Text: "one"}, {OffsetSeconds: 2, Text: "two"}}

	f.Finalize(context.Background(), s, 1, capture.Buffers{"A": speech()})

	if got := len(h.discord.transcriptLines()); got != 1 {
		t.Fatalf("expected publishing to stop after the first missing destination, got %d attempts", got)
	}
	if len(h.repo.insertCalls) != 0 {
		t.Fatalf("expected no persisted lines, got %d", len(h.repo.insertCalls))
	}
}

func TestFinalize_OptInDuringSliceAppliesToNextSlice(t *testing.T) {
	h := newTestHarness(t)
	s := h.start(t)
	s.Consent("alice", "")
	h.backend.setBuffers(capture.Buffers{"alice": speech(), "bob": speech()})

	optedIn := false
	h.engine.onTranscribe = func(string) {
		if optedIn {
			return
		}
		optedIn = true
		if err := h.manager.RecordConsentOptIn(context.Background(), "guild-1", "bob"); err != nil {
			t.Errorf("unexpected opt-in error: %v", err)
		}
	}

	if !h.manager.tick(s) {
		t.Fatal("expected session to continue")
	}
	if got := h.engine.transcribedUsers(); len(got) != 1 || got[0] != "alice" {
		t.Fatalf("expected only alice in the first slice, got %v", got)
	}
	if !s.IsConsented("bob") {
		t.Fatal("expected bob's consent to be applied to the session")
	}

	if !h.manager.tick(s) {
		t.Fatal("expected session to continue")
	}
	got := h.engine.transcribedUsers()
	if len(got) != 3 {
		t.Fatalf("expected two files in the second slice, got %v", got)
	}
	second := map[string]bool{got[1]: true, got[2]: true}
	if !second["alice"] || !second["bob"] {
		t.Fatalf("expected alice and bob in the second slice, got %v", got)
	}
}

func TestRecorder_StopTimesOutWhenBackendNeverCompletes(t *testing.T) {
	backend := &mockBackend{hangStop: true}
	r := NewSliceRecorder(backend, 30*time.Millisecond)
	s := newFinalizerSession(t)
	if _, err := r.Start(context.Background(), s); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	_, slice, err := r.Stop(context.Background(), s)
	if !errors.Is(err, ErrFinalizeTimeout) {
		t.Fatalf("expected ErrFinalizeTimeout, got %v", err)
	}
	if slice != 1 {
		t.Fatalf("expected slice 1, got %d", slice)
	}
	if s.currentSink() != nil {
		t.Fatal("expected sink to be detached after timeout")
	}
}

func TestRecorder_SliceNumberStrictlyIncreases(t *testing.T) {
	backend := &mockBackend{}
	r := NewSliceRecorder(backend, time.Second)
	s := newFinalizerSession(t)

	last := 0
	for i := range 5 {
		if i == 2 {
			backend.setStartErr(errors.New("udp closed"))
			if _, err := r.Start(context.Background(), s); !errors.Is(err, ErrCaptureStartFailure) {
				t.Fatalf("expected ErrCaptureStartFailure, got %v", err)
			}
			if s.SliceNumber() != last {
				t.Fatal("failed start must not advance the slice number")
			}
			backend.setStartErr(nil)
		}
		slice, err := r.Start(context.Background(), s)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if slice <= last {
			t.Fatalf("slice number did not increase: %d after %d", slice, last)
		}
		last = slice
		if _, _, err := r.Stop(context.Background(), s); err != nil {
			t.Fatalf("unexpected stop error: %v", err)
		}
	}
}

func TestRecorder_StartRejectsSecondSink(t *testing.T) {
	r := NewSliceRecorder(&mockBackend{}, time.Second)
	s := newFinalizerSession(t)
	if _, err := r.Start(context.Background(), s); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := r.Start(context.Background(), s); !errors.Is(err, ErrCaptureStartFailure) {
		t.Fatalf("expected ErrCaptureStartFailure, got %v", err)
	}
}

func TestRecorder_MapsBackendErrors(t *testing.T) {
	cases := map[string]struct {
		backendErr error
		want       error
	}{
		"unsupported": {capture.ErrUnsupported, ErrRecordingUnsupported},
		"connect":     {capture.ErrConnectFailed, ErrConnectFailed},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			r := NewSliceRecorder(&mockBackend{startErr: tc.backendErr}, time.Second)
			if _, err := r.Start(context.Background(), newFinalizerSession(t)); !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
		})
	}
	r := NewSliceRecorder(&mockBackend{availableErr: errors.New("no opus")}, time.Second)
	if err := r.Available(); !errors.Is(err, ErrRecordingUnsupported) {
		t.Fatalf("expected ErrRecordingUnsupported, got %v", err)
	}
}
