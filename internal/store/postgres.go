package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/voxpipe-ai/voxpipe/pkg/types"
)

// ddlCalls creates the calls table.
const ddlCalls = `
CREATE TABLE IF NOT EXISTS calls (
    id                      TEXT PRIMARY KEY,
    org_id                  TEXT NOT NULL DEFAULT '',
    kind                    TEXT NOT NULL,
    status                  TEXT NOT NULL,
    from_number             TEXT NOT NULL DEFAULT '',
    to_number               TEXT NOT NULL DEFAULT '',
    assistant_id            TEXT NOT NULL,
    carrier_meta            JSONB NOT NULL DEFAULT '{}',
    started_at              TIMESTAMPTZ,
    ended_at                TIMESTAMPTZ,
    duration_seconds        INT NOT NULL DEFAULT 0,
    ended_reason            TEXT NOT NULL DEFAULT '',
    cost_stt_cents          BIGINT NOT NULL DEFAULT 0,
    cost_llm_cents          BIGINT NOT NULL DEFAULT 0,
    cost_tts_cents          BIGINT NOT NULL DEFAULT 0,
    cost_total_cents        BIGINT NOT NULL DEFAULT 0,
    user_recording_uri      TEXT NOT NULL DEFAULT '',
    assistant_recording_uri TEXT NOT NULL DEFAULT '',
    created_at              TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS calls_assistant_idx ON calls (assistant_id, created_at DESC);
`

// ddlCallMessages creates the append-only conversation log.
const ddlCallMessages = `
CREATE TABLE IF NOT EXISTS call_messages (
    id             TEXT PRIMARY KEY,
    call_id        TEXT NOT NULL REFERENCES calls (id) ON DELETE CASCADE,
    role           TEXT NOT NULL,
    content        TEXT NOT NULL DEFAULT '',
    tool_name      TEXT NOT NULL DEFAULT '',
    tool_arguments TEXT NOT NULL DEFAULT '',
    tool_result    TEXT NOT NULL DEFAULT '',
    timestamp_ms   BIGINT NOT NULL,
    stt_latency_ms BIGINT NOT NULL DEFAULT 0,
    llm_latency_ms BIGINT NOT NULL DEFAULT 0,
    tts_latency_ms BIGINT NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS call_messages_call_idx ON call_messages (call_id, timestamp_ms);
`

// PostgresStore is the pgx-backed Store implementation.
// All operations are safe for concurrent use.
type PostgresStore struct {
	pool *pgxpool.Pool
}

var _ Store = (*PostgresStore)(nil)

// NewPostgresStore connects to the database at dsn and runs [Migrate].
func NewPostgresStore(ctx context.Context, dsn string) (*PostgresStore, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres store: parse dsn: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("postgres store: create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres store: ping: %w", err)
	}

	if err := Migrate(ctx, pool); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres store: migrate: %w", err)
	}

	return &PostgresStore{pool: pool}, nil
}

// Migrate applies the schema. Statements are idempotent.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	for _, stmt := range []string{ddlCalls, ddlCallMessages} {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("postgres migrate: %w", err)
		}
	}
	return nil
}

// Close releases all connections held by the underlying pool.
func (s *PostgresStore) Close() {
	s.pool.Close()
}

// Ping checks database connectivity. Used by the readiness probe.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// UpsertCall implements CallStore.
func (s *PostgresStore) UpsertCall(ctx context.Context, call *types.Call) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO calls (id, org_id, kind, status, from_number, to_number, assistant_id, carrier_meta)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (id) DO UPDATE SET
			status       = EXCLUDED.status,
			carrier_meta = EXCLUDED.carrier_meta`,
		call.ID, call.OrgID, call.Kind, call.Status, call.From, call.To, call.AssistantID, call.CarrierMeta,
	)
	if err != nil {
		return fmt.Errorf("postgres store: upsert call %s: %w", call.ID, err)
	}
	return nil
}

// UpdateCallStatus implements CallStore.
func (s *PostgresStore) UpdateCallStatus(ctx context.Context, id string, status types.CallStatus, at time.Time) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE calls SET
			status     = $2,
			started_at = CASE WHEN $2 = 'in-progress' AND started_at IS NULL THEN $3 ELSE started_at END
		WHERE id = $1`,
		id, status, at,
	)
	if err != nil {
		return fmt.Errorf("postgres store: update status %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// FinalizeCall implements CallStore.
func (s *PostgresStore) FinalizeCall(ctx context.Context, id string, endedReason string, endedAt time.Time, durationSeconds int, cost types.CostBreakdown) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE calls SET
			status           = 'completed',
			ended_reason     = $2,
			ended_at         = $3,
			duration_seconds = $4,
			cost_stt_cents   = $5,
			cost_llm_cents   = $6,
			cost_tts_cents   = $7,
			cost_total_cents = $8
		WHERE id = $1`,
		id, endedReason, endedAt, durationSeconds,
		cost.STTCents, cost.LLMCents, cost.TTSCents, cost.TotalCents,
	)
	if err != nil {
		return fmt.Errorf("postgres store: finalize call %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// SetRecordingURIs implements CallStore.
func (s *PostgresStore) SetRecordingURIs(ctx context.Context, id, userURI, assistantURI string) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE calls SET user_recording_uri = $2, assistant_recording_uri = $3 WHERE id = $1`,
		id, userURI, assistantURI,
	)
	if err != nil {
		return fmt.Errorf("postgres store: set recording uris %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// GetCall implements CallStore.
func (s *PostgresStore) GetCall(ctx context.Context, id string) (*types.Call, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, org_id, kind, status, from_number, to_number, assistant_id, carrier_meta,
		       started_at, ended_at, duration_seconds, ended_reason,
		       cost_stt_cents, cost_llm_cents, cost_tts_cents, cost_total_cents,
		       user_recording_uri, assistant_recording_uri
		FROM calls WHERE id = $1`, id)

	var (
		call      types.Call
		startedAt *time.Time
		endedAt   *time.Time
	)
	err := row.Scan(
		&call.ID, &call.OrgID, &call.Kind, &call.Status, &call.From, &call.To, &call.AssistantID, &call.CarrierMeta,
		&startedAt, &endedAt, &call.DurationSeconds, &call.EndedReason,
		&call.Cost.STTCents, &call.Cost.LLMCents, &call.Cost.TTSCents, &call.Cost.TotalCents,
		&call.UserRecordingURI, &call.AssistantRecordingURI,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("postgres store: get call %s: %w", id, err)
	}
	if startedAt != nil {
		call.StartedAt = *startedAt
	}
	if endedAt != nil {
		call.EndedAt = *endedAt
	}
	return &call, nil
}

// AppendMessage implements MessageStore.
func (s *PostgresStore) AppendMessage(ctx context.Context, msg *types.CallMessage) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO call_messages
			(id, call_id, role, content, tool_name, tool_arguments, tool_result,
			 timestamp_ms, stt_latency_ms, llm_latency_ms, tts_latency_ms)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		msg.ID, msg.CallID, msg.Role, msg.Content, msg.ToolName, msg.ToolArguments, msg.ToolResult,
		msg.TimestampMs, msg.STTLatencyMs, msg.LLMLatencyMs, msg.TTSLatencyMs,
	)
	if err != nil {
		return fmt.Errorf("postgres store: append message %s: %w", msg.ID, err)
	}
	return nil
}

// ListMessages implements MessageStore.
func (s *PostgresStore) ListMessages(ctx context.Context, callID string) ([]types.CallMessage, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, call_id, role, content, tool_name, tool_arguments, tool_result,
		       timestamp_ms, stt_latency_ms, llm_latency_ms, tts_latency_ms
		FROM call_messages WHERE call_id = $1 ORDER BY timestamp_ms`, callID)
	if err != nil {
		return nil, fmt.Errorf("postgres store: list messages %s: %w", callID, err)
	}
	defer rows.Close()

	var msgs []types.CallMessage
	for rows.Next() {
		var m types.CallMessage
		if err := rows.Scan(
			&m.ID, &m.CallID, &m.Role, &m.Content, &m.ToolName, &m.ToolArguments, &m.ToolResult,
			&m.TimestampMs, &m.STTLatencyMs, &m.LLMLatencyMs, &m.TTSLatencyMs,
		); err != nil {
			return nil, fmt.Errorf("postgres store: scan message: %w", err)
		}
		msgs = append(msgs, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres store: iterate messages: %w", err)
	}
	return msgs, nil
}
