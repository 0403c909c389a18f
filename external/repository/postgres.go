package repository

import (
	"context"
	"errors"
	"time"

	"github.com/Gokias/GokiBot/internal/repository"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type PostgresRepository struct {
	pool *pgxpool.Pool
}

func NewPostgresRepository(pool *pgxpool.Pool) repository.Repository {
	return &PostgresRepository{pool: pool}
}

const sessionColumns = `id, guild_id, voice_channel_id, thread_id, started_at, ended_at, status, stop_reason`

func scanSession(row pgx.Row) (*repository.Session, error) {
	var s repository.Session
	var endedAt *time.Time
	if err := row.Scan(&s.ID, &s.GuildID, &s.VoiceChannelID, &s.ThreadID, &s.StartedAt, &endedAt, &s.Status, &s.StopReason); err != nil {
		return nil, err
	}
	s.EndedAt = endedAt
	return &s, nil
}

func (r *PostgresRepository) CreateSession(ctx context.Context, input repository.CreateSessionInput) (*repository.Session, error) {
	row := r.pool.QueryRow(ctx,
		`INSERT INTO sessions (guild_id, voice_channel_id, thread_id, started_at, status)
		 VALUES ($1, $2, $3, $4, 'running')
		 RETURNING `+sessionColumns,
		input.GuildID, input.VoiceChannelID, input.ThreadID, input.StartedAt)
	return scanSession(row)
}

func (r *PostgresRepository) UpdateSessionCompleted(ctx context.Context, input repository.CompleteSessionInput) error {
	_, err := r.pool.Exec(ctx,
		`UPDATE sessions SET status = 'completed', ended_at = $2, stop_reason = $3 WHERE id = $1`,
		input.SessionID, input.EndedAt, input.StopReason)
	return err
}

func (r *PostgresRepository) GetRunningSessionByGuild(ctx context.Context, guildID string) (*repository.Session, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT `+sessionColumns+`
		 FROM sessions WHERE guild_id = $1 AND status = 'running'
		 ORDER BY started_at DESC LIMIT 1`,
		guildID)
	s, err := scanSession(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return s, nil
}

func (r *PostgresRepository) InsertSegment(ctx context.Context, input repository.InsertSegmentInput) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO transcript_segments (session_id, slice_number, segment_index, user_id, display_name, content, spoken_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		input.SessionID, input.SliceNumber, input.SegmentIndex, input.UserID, input.DisplayName, input.Content, input.SpokenAt)
	return err
}

func (r *PostgresRepository) ListSegmentsBySessionID(ctx context.Context, sessionID string) ([]repository.TranscriptSegment, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, session_id, slice_number, segment_index, user_id, display_name, content, spoken_at, created_at
		 FROM transcript_segments WHERE session_id = $1 ORDER BY segment_index ASC`,
		sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []repository.TranscriptSegment
	for rows.Next() {
		var seg repository.TranscriptSegment
		if err := rows.Scan(&seg.ID, &seg.SessionID, &seg.SliceNumber, &seg.SegmentIndex, &seg.UserID, &seg.DisplayName, &seg.Content, &seg.SpokenAt, &seg.CreatedAt); err != nil {
			return nil, err
		}
		list = append(list, seg)
	}
	return list, rows.Err()
}

func (r *PostgresRepository) UpsertConsent(ctx context.Context, input repository.UpsertConsentInput) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO consents (guild_id, user_id, display_name, consented_at, expires_at)
		 VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (guild_id, user_id) DO UPDATE
		 SET display_name = EXCLUDED.display_name,
		     consented_at = EXCLUDED.consented_at,
		     expires_at = EXCLUDED.expires_at`,
		input.GuildID, input.UserID, input.DisplayName, input.ConsentedAt, input.ExpiresAt)
	return err
}

func (r *PostgresRepository) GetActiveConsent(ctx context.Context, guildID, userID string, now time.Time) (*repository.ConsentRecord, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT guild_id, user_id, display_name, consented_at, expires_at
		 FROM consents WHERE guild_id = $1 AND user_id = $2`,
		guildID, userID)
	var rec repository.ConsentRecord
	if err := row.Scan(&rec.GuildID, &rec.UserID, &rec.DisplayName, &rec.ConsentedAt, &rec.ExpiresAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	if !rec.IsActive(now) {
		return nil, nil
	}
	return &rec, nil
}

func (r *PostgresRepository) MarkPromptSent(ctx context.Context, guildID, userID string, at time.Time) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO consent_prompts (guild_id, user_id, prompt_sent_at)
		 VALUES ($1, $2, $3)
		 ON CONFLICT (guild_id, user_id) DO UPDATE SET prompt_sent_at = EXCLUDED.prompt_sent_at`,
		guildID, userID, at)
	return err
}

func (r *PostgresRepository) GetGuildSetting(ctx context.Context, guildID, key string) (string, bool, error) {
	var value string
	err := r.pool.QueryRow(ctx,
		`SELECT value FROM guild_settings WHERE guild_id = $1 AND key = $2`,
		guildID, key).Scan(&value)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", false, nil
		}
		return "", false, err
	}
	return value, true, nil
}

func (r *PostgresRepository) SetGuildSetting(ctx context.Context, guildID, key, value string) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO guild_settings (guild_id, key, value, updated_at)
		 VALUES ($1, $2, $3, NOW())
		 ON CONFLICT (guild_id, key) DO UPDATE SET value = EXCLUDED.value, updated_at = NOW()`,
		guildID, key, value)
	return err
}
