package session

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/Gokias/GokiBot/internal/discord"
	"github.com/Gokias/GokiBot/internal/repository"
	"github.com/Gokias/GokiBot/internal/webhook"
)

const transcriptTimeLayout = "2006-01-02 15:04:05"

type transcriptSummary struct {
	sessionID  string
	threadID   string
	startedAt  time.Time
	endedAt    time.Time
	timezone   string
	loc        *time.Location
	stopReason string
}

func buildTranscriptText(meta discord.TranscriptMetadata, sum transcriptSummary, segments []repository.TranscriptSegment) []byte {
	loc := safeLocation(sum.loc)
	participants := canonicalParticipants(meta.Participants)
	names := make([]string, 0, len(participants))
	for _, p := range participants {
		names = append(names, p.DisplayName)
	}

	lines := []string{
		fmt.Sprintf("Server: %s", meta.DiscordServerName),
		fmt.Sprintf("Voice channel: %s", meta.DiscordVoiceChannelName),
		fmt.Sprintf("Period: %s ~ %s (%s)", sum.startedAt.In(loc).Format(transcriptTimeLayout), sum.endedAt.In(loc).Format(transcriptTimeLayout), sum.timezone),
		fmt.Sprintf("Duration: %s", formatElapsedHMS(nonNegative(sum.endedAt.Sub(sum.startedAt)))),
		fmt.Sprintf("Participants: %s", strings.Join(names, ", ")),
		"",
	}
	for _, seg := range segments {
		lines = append(lines, formatTranscriptLine(seg.SpokenAt.In(loc), segmentName(seg), seg.Content))
	}
	return []byte(strings.Join(lines, "\n"))
}

func buildTranscriptWebhookPayload(meta discord.TranscriptMetadata, sum transcriptSummary, segments []repository.TranscriptSegment, transcript []byte) webhook.TranscriptPayload {
	loc := safeLocation(sum.loc)
	participants := canonicalParticipants(meta.Participants)
	details := make([]webhook.TranscriptParticipant, 0, len(participants))
	for _, p := range participants {
		details = append(details, webhook.TranscriptParticipant{UserID: p.UserID, DisplayName: p.DisplayName})
	}
	lines := make([]webhook.TranscriptLine, 0, len(segments))
	for _, seg := range segments {
		lines = append(lines, webhook.TranscriptLine{
			Slice:       seg.SliceNumber,
			Index:       seg.SegmentIndex,
			UserID:      seg.UserID,
			DisplayName: segmentName(seg),
			SpokenAt:    seg.SpokenAt.In(loc).Format(time.RFC3339),
			Text:        seg.Content,
		})
	}

	return webhook.TranscriptPayload{
		SchemaVersion:    webhook.TranscriptSchemaVersion,
		SessionID:        sum.sessionID,
		GuildID:          meta.DiscordServerID,
		GuildName:        meta.DiscordServerName,
		VoiceChannelID:   meta.DiscordVoiceChannelID,
		VoiceChannelName: meta.DiscordVoiceChannelName,
		ThreadID:         sum.threadID,
		StartAt:          sum.startedAt.In(loc).Format(time.RFC3339),
		EndAt:            sum.endedAt.In(loc).Format(time.RFC3339),
		Timezone:         sum.timezone,
		StopReason:       sum.stopReason,
		Participants:     details,
		Lines:            lines,
		Transcript:       string(transcript),
	}
}

// segmentParticipants lists speakers in first-spoken order with the name their lines were published under.
func segmentParticipants(segments []repository.TranscriptSegment) ([]string, map[string]string) {
	ids := make([]string, 0)
	names := make(map[string]string)
	for _, seg := range segments {
		if _, ok := names[seg.UserID]; ok {
			continue
		}
		ids = append(ids, seg.UserID)
		names[seg.UserID] = seg.DisplayName
	}
	return ids, names
}

func segmentName(seg repository.TranscriptSegment) string {
	if seg.DisplayName != "" {
		return seg.DisplayName
	}
	return seg.UserID
}

func canonicalParticipants(participants []discord.TranscriptParticipant) []discord.TranscriptParticipant {
	byUserID := make(map[string]discord.TranscriptParticipant, len(participants))
	for _, p := range participants {
		if strings.TrimSpace(p.UserID) == "" {
			continue
		}
		byUserID[p.UserID] = mergeParticipant(byUserID[p.UserID], p)
	}
	list := make([]discord.TranscriptParticipant, 0, len(byUserID))
	for _, p := range byUserID {
		if p.DisplayName == "" {
			p.DisplayName = p.UserID
		}
		list = append(list, p)
	}
	sort.Slice(list, func(i, j int) bool {
		in := strings.ToLower(list[i].DisplayName)
		jn := strings.ToLower(list[j].DisplayName)
		if in != jn {
			return in < jn
		}
		return list[i].UserID < list[j].UserID
	})
	return list
}

func mergeParticipant(existing, incoming discord.TranscriptParticipant) discord.TranscriptParticipant {
	if existing.UserID == "" {
		if incoming.DisplayName == "" {
			incoming.DisplayName = incoming.UserID
		}
		return incoming
	}
	if existing.DisplayName == existing.UserID && incoming.DisplayName != "" {
		existing.DisplayName = incoming.DisplayName
	}
	existing.IsBot = existing.IsBot || incoming.IsBot
	return existing
}

func formatElapsedHMS(d time.Duration) string {
	total := int64(d / time.Second)
	h := total / 3600
	m := (total % 3600) / 60
	s := total % 60
	return fmt.Sprintf("%02d:%02d:%02d", h, m, s)
}

func nonNegative(d time.Duration) time.Duration {
	if d < 0 {
		return 0
	}
	return d
}

func safeLocation(loc *time.Location) *time.Location {
	if loc == nil {
		return time.UTC
	}
	return loc
}
