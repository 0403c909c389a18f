package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/Gokias/GokiBot/internal/audio"
	"github.com/Gokias/GokiBot/internal/capture"
	"github.com/Gokias/GokiBot/internal/discord"
	"github.com/Gokias/GokiBot/internal/repository"
	"github.com/Gokias/GokiBot/internal/telemetry"
	"github.com/Gokias/GokiBot/internal/transcriber"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

const (
	transcribeConcurrency = 4
	publishInterval       = 250 * time.Millisecond
	lineTimeLayout        = "15:04:05"
)

type EngineResolver interface {
	Resolve(ctx context.Context) (transcriber.Engine, error)
}

// SliceFinalizer turns one slice's raw buffers into published, persisted transcript lines.
type SliceFinalizer struct {
	discord     discord.Client
	segments    repository.TranscriptRepository
	engines     EngineResolver
	interval    time.Duration
	loc         *time.Location
	concurrency int
	publishRate rate.Limit
}

func NewSliceFinalizer(dc discord.Client, segments repository.TranscriptRepository, engines EngineResolver, interval time.Duration, loc *time.Location) *SliceFinalizer {
	return &SliceFinalizer{
		discord:     dc,
		segments:    segments,
		engines:     engines,
		interval:    interval,
		loc:         safeLocation(loc),
		concurrency: transcribeConcurrency,
		publishRate: rate.Every(publishInterval),
	}
}

type sliceFile struct {
	userID string
	path   string
}

type transcriptLine struct {
	userID string
	at     time.Time
	text   string
}

// Finalize never returns an error; every failure is logged and confined to this slice.
func (f *SliceFinalizer) Finalize(ctx context.Context, s *Session, slice int, buffers capture.Buffers) {
	ctx, span := telemetry.StartSpan(ctx, "session.finalize",
		attribute.String("guild_id", s.GuildID),
		attribute.Int("slice", slice),
	)
	defer span.End()
	start := time.Now()
	defer func() {
		telemetry.FinalizeDuration.Observe(time.Since(start).Seconds())
	}()
	telemetry.SlicesFinalized.Inc()

	files, err := f.persist(s, slice, buffers)
	if err != nil {
		telemetry.RecordError(span, err)
		slog.Error("failed to persist slice audio", "error", err, "guild_id", s.GuildID, "slice", slice)
		return
	}
	if len(files) == 0 {
		slog.Debug("slice has no consented audio", "guild_id", s.GuildID, "slice", slice, "speakers", len(buffers))
		return
	}

	engine, err := f.engines.Resolve(ctx)
	if err != nil {
		if errors.Is(err, transcriber.ErrEngineUnavailable) {
			slog.Warn("no speech engine available; skipping slice", "error", err, "guild_id", s.GuildID, "slice", slice)
		} else {
			slog.Error("failed to resolve speech engine", "error", err, "guild_id", s.GuildID, "slice", slice)
		}
		telemetry.RecordError(span, err)
		return
	}

	results := f.transcribe(ctx, s, slice, engine, files)
	lines := f.merge(s, slice, files, results)
	f.publish(ctx, s, slice, lines)
}

// persist writes one Ogg Opus file per consented speaker, in ascending user id order.
// Each file starts at the slice start so engine offsets are slice offsets.
func (f *SliceFinalizer) persist(s *Session, slice int, buffers capture.Buffers) ([]sliceFile, error) {
	consented := s.ConsentSnapshot()

	userIDs := make([]string, 0, len(buffers))
	for userID, frames := range buffers {
		if _, ok := consented[userID]; !ok || len(frames) == 0 {
			continue
		}
		userIDs = append(userIDs, userID)
	}
	if len(userIDs) == 0 {
		return nil, nil
	}
	sort.Strings(userIDs)

	dir := filepath.Join(s.WorkDir, fmt.Sprintf("slice-%05d", slice))
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("create slice dir: %w", err)
	}
	files := make([]sliceFile, 0, len(userIDs))
	for _, userID := range userIDs {
		path := filepath.Join(dir, userID+".ogg")
		data, err := audio.EncodeOggOpus(buffers[userID])
		if err != nil {
			return nil, fmt.Errorf("encode audio for %s: %w", userID, err)
		}
		if err := os.WriteFile(path, data, 0o600); err != nil {
			return nil, fmt.Errorf("write audio file: %w", err)
		}
		files = append(files, sliceFile{userID: userID, path: path})
	}
	return files, nil
}

// transcribe runs the engine on every file; results[i] belongs to files[i].
func (f *SliceFinalizer) transcribe(ctx context.Context, s *Session, slice int, engine transcriber.Engine, files []sliceFile) [][]transcriber.Utterance {
	results := make([][]transcriber.Utterance, len(files))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(f.concurrency)
	for i, file := range files {
		g.Go(func() error {
			spanCtx, span := telemetry.StartSpan(gctx, "transcriber.transcribe",
				attribute.String("engine", engine.Name()),
				attribute.String("user_id", file.userID),
			)
			defer span.End()

			utterances, err := engine.Transcribe(spanCtx, transcriber.Request{FilePath: file.path, Language: s.Language})
			if err != nil {
				telemetry.RecordError(span, err)
				telemetry.TranscriptionRequests.WithLabelValues(engine.Name(), telemetry.OutcomeError).Inc()
				slog.Error("transcription failed", "error", err, "guild_id", s.GuildID, "slice", slice, "user_id", file.userID, "engine", engine.Name())
				return nil
			}
			telemetry.TranscriptionRequests.WithLabelValues(engine.Name(), telemetry.OutcomeOK).Inc()
			results[i] = utterances
			return nil
		})
	}
	_ = g.Wait()
	return results
}

// merge orders utterances by absolute time; ties keep the per-user enumeration order.
func (f *SliceFinalizer) merge(s *Session, slice int, files []sliceFile, results [][]transcriber.Utterance) []transcriptLine {
	sliceStart := s.StartedAt.Add(time.Duration(slice-1) * f.interval)
	var lines []transcriptLine
	for i, file := range files {
		for _, u := range results[i] {
			text := strings.TrimSpace(u.Text)
			if text == "" {
				continue
			}
			lines = append(lines, transcriptLine{
				userID: file.userID,
				at:     sliceStart.Add(time.Duration(u.OffsetSeconds * float64(time.Second))),
				text:   text,
			})
		}
	}
	sort.SliceStable(lines, func(i, j int) bool {
		return lines[i].at.Before(lines[j].at)
	})
	return lines
}

// publish posts lines one at a time so the thread keeps their order.
func (f *SliceFinalizer) publish(ctx context.Context, s *Session, slice int, lines []transcriptLine) {
	limiter := rate.NewLimiter(f.publishRate, 1)
	for _, line := range lines {
		if err := limiter.Wait(ctx); err != nil {
			slog.Warn("stopped publishing slice", "error", err, "guild_id", s.GuildID, "slice", slice)
			return
		}
		name := f.displayName(s, line.userID)
		content := formatTranscriptLine(line.at.In(f.loc), name, line.text)
		if err := f.discord.SendChannelMessage(s.ThreadID, content); err != nil {
			if errors.Is(err, discord.ErrDestinationMissing) {
				slog.Warn("transcript thread is gone; skipping rest of slice", "guild_id", s.GuildID, "thread_id", s.ThreadID, "slice", slice)
				return
			}
			slog.Error("failed to post transcript line", "error", err, "guild_id", s.GuildID, "slice", slice)
		} else {
			telemetry.LinesPublished.Inc()
		}

		if err := f.segments.InsertSegment(ctx, repository.InsertSegmentInput{
			SessionID:    s.ID,
			SliceNumber:  slice,
			SegmentIndex: s.takeLineIndex(),
			UserID:       line.userID,
			DisplayName:  name,
			Content:      line.text,
			SpokenAt:     line.at,
		}); err != nil {
			slog.Error("failed to persist transcript line", "error", err, "session_id", s.ID, "slice", slice)
		}
	}
}

// displayName prefers the session alias, then the platform name, then the raw id.
func (f *SliceFinalizer) displayName(s *Session, userID string) string {
	if alias, ok := s.Alias(userID); ok && alias != "" {
		return alias
	}
	if name := strings.TrimSpace(f.discord.ResolveDisplayName(s.GuildID, userID)); name != "" {
		return name
	}
	return userID
}

func formatTranscriptLine(at time.Time, name, text string) string {
	return fmt.Sprintf("[%s] [%s] %s", at.Format(lineTimeLayout), name, text)
}
