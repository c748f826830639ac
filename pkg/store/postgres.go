package store

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/adiwarsito/svara/pkg/errorsx"
)

// Schema is applied once at startup. Assistants, numbers, and the rest of the
// control surface live elsewhere; the engine owns only calls and messages.
const Schema = `
CREATE TABLE IF NOT EXISTS calls (
	id               TEXT PRIMARY KEY,
	org_id           TEXT NOT NULL DEFAULT '',
	kind             TEXT NOT NULL,
	status           TEXT NOT NULL,
	from_number      TEXT,
	to_number        TEXT,
	assistant_id     TEXT NOT NULL,
	carrier_metadata JSONB NOT NULL DEFAULT '{}',
	started_at       TIMESTAMPTZ,
	ended_at         TIMESTAMPTZ,
	duration_seconds INTEGER NOT NULL DEFAULT 0,
	ended_reason     TEXT,
	cost_stt_cents   INTEGER NOT NULL DEFAULT 0,
	cost_llm_cents   INTEGER NOT NULL DEFAULT 0,
	cost_tts_cents   INTEGER NOT NULL DEFAULT 0,
	cost_total_cents INTEGER NOT NULL DEFAULT 0,
	user_recording   TEXT,
	agent_recording  TEXT
);

CREATE TABLE IF NOT EXISTS call_messages (
	id              TEXT PRIMARY KEY,
	call_id         TEXT NOT NULL REFERENCES calls(id),
	role            TEXT NOT NULL,
	content         TEXT NOT NULL DEFAULT '',
	tool_name       TEXT,
	tool_arguments  TEXT,
	tool_result     TEXT,
	timestamp_ms    BIGINT NOT NULL,
	stt_latency_ms  BIGINT NOT NULL DEFAULT 0,
	llm_latency_ms  BIGINT NOT NULL DEFAULT 0,
	tts_latency_ms  BIGINT NOT NULL DEFAULT 0
);

CREATE INDEX IF NOT EXISTS idx_call_messages_call ON call_messages (call_id, timestamp_ms);
`

// Postgres is the production Store backed by a pgx pool.
type Postgres struct {
	pool *pgxpool.Pool
}

func NewPostgres(ctx context.Context, dsn string) (*Postgres, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, err
	}
	if _, err := pool.Exec(ctx, Schema); err != nil {
		pool.Close()
		return nil, err
	}
	return &Postgres{pool: pool}, nil
}

func (p *Postgres) UpsertCall(ctx context.Context, call *Call) error {
	meta, err := json.Marshal(call.CarrierMetadata)
	if err != nil {
		return err
	}
	_, err = p.pool.Exec(ctx, `
		INSERT INTO calls (id, org_id, kind, status, from_number, to_number, assistant_id, carrier_metadata, started_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (id) DO UPDATE SET
			status = EXCLUDED.status,
			carrier_metadata = EXCLUDED.carrier_metadata,
			started_at = COALESCE(calls.started_at, EXCLUDED.started_at)`,
		call.ID, call.OrgID, call.Kind, call.Status,
		nullable(call.FromNumber), nullable(call.ToNumber),
		call.AssistantID, meta, call.StartedAt)
	return errorsx.Wrap(err, errorsx.KindFatal, errorsx.ReasonStoreWrite)
}

func (p *Postgres) UpdateCallStatus(ctx context.Context, callID string, status CallStatus) error {
	_, err := p.pool.Exec(ctx, `UPDATE calls SET status = $2 WHERE id = $1`, callID, status)
	return errorsx.Wrap(err, errorsx.KindFatal, errorsx.ReasonStoreWrite)
}

func (p *Postgres) MarkInProgress(ctx context.Context, callID string, startedAt time.Time) error {
	_, err := p.pool.Exec(ctx, `UPDATE calls SET status = $2, started_at = $3 WHERE id = $1`,
		callID, StatusInProgress, startedAt)
	return errorsx.Wrap(err, errorsx.KindFatal, errorsx.ReasonStoreWrite)
}

func (p *Postgres) CompleteCall(ctx context.Context, callID string, reason string, endedAt time.Time, durationSeconds int, costs CostBreakdown) error {
	_, err := p.pool.Exec(ctx, `
		UPDATE calls SET
			status = $2, ended_reason = $3, ended_at = $4, duration_seconds = $5,
			cost_stt_cents = $6, cost_llm_cents = $7, cost_tts_cents = $8, cost_total_cents = $9
		WHERE id = $1`,
		callID, StatusCompleted, reason, endedAt, durationSeconds,
		costs.STT, costs.LLM, costs.TTS, costs.Total)
	return errorsx.Wrap(err, errorsx.KindFatal, errorsx.ReasonStoreWrite)
}

func (p *Postgres) UpdateCallRecordings(ctx context.Context, callID, userURI, agentURI string) error {
	_, err := p.pool.Exec(ctx, `UPDATE calls SET user_recording = $2, agent_recording = $3 WHERE id = $1`,
		callID, userURI, agentURI)
	return errorsx.Wrap(err, errorsx.KindFatal, errorsx.ReasonStoreWrite)
}

func (p *Postgres) GetCall(ctx context.Context, callID string) (*Call, error) {
	var call Call
	var meta []byte
	var from, to, reason, userRec, agentRec *string
	err := p.pool.QueryRow(ctx, `
		SELECT id, org_id, kind, status, from_number, to_number, assistant_id, carrier_metadata,
		       started_at, ended_at, duration_seconds, ended_reason,
		       cost_stt_cents, cost_llm_cents, cost_tts_cents, cost_total_cents,
		       user_recording, agent_recording
		FROM calls WHERE id = $1`, callID).Scan(
		&call.ID, &call.OrgID, &call.Kind, &call.Status, &from, &to, &call.AssistantID, &meta,
		&call.StartedAt, &call.EndedAt, &call.DurationSeconds, &reason,
		&call.Costs.STT, &call.Costs.LLM, &call.Costs.TTS, &call.Costs.Total,
		&userRec, &agentRec)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, errorsx.Wrap(err, errorsx.KindNotFound, errorsx.ReasonStoreWrite)
	}
	if err != nil {
		return nil, err
	}
	_ = json.Unmarshal(meta, &call.CarrierMetadata)
	call.FromNumber = deref(from)
	call.ToNumber = deref(to)
	call.EndedReason = deref(reason)
	call.UserRecording = deref(userRec)
	call.AgentRecording = deref(agentRec)
	return &call, nil
}

func (p *Postgres) AppendMessage(ctx context.Context, msg *Message) error {
	_, err := p.pool.Exec(ctx, `
		INSERT INTO call_messages (id, call_id, role, content, tool_name, tool_arguments, tool_result,
			timestamp_ms, stt_latency_ms, llm_latency_ms, tts_latency_ms)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		msg.ID, msg.CallID, msg.Role, msg.Content,
		nullable(msg.ToolName), nullable(msg.ToolArguments), nullable(msg.ToolResult),
		msg.TimestampMS, msg.STTLatencyMS, msg.LLMLatencyMS, msg.TTSLatencyMS)
	return errorsx.Wrap(err, errorsx.KindFatal, errorsx.ReasonStoreWrite)
}

func (p *Postgres) Messages(ctx context.Context, callID string) ([]Message, error) {
	rows, err := p.pool.Query(ctx, `
		SELECT id, call_id, role, content, tool_name, tool_arguments, tool_result,
		       timestamp_ms, stt_latency_ms, llm_latency_ms, tts_latency_ms
		FROM call_messages WHERE call_id = $1 ORDER BY timestamp_ms`, callID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Message
	for rows.Next() {
		var msg Message
		var toolName, toolArgs, toolResult *string
		if err := rows.Scan(&msg.ID, &msg.CallID, &msg.Role, &msg.Content,
			&toolName, &toolArgs, &toolResult,
			&msg.TimestampMS, &msg.STTLatencyMS, &msg.LLMLatencyMS, &msg.TTSLatencyMS); err != nil {
			return nil, err
		}
		msg.ToolName = deref(toolName)
		msg.ToolArguments = deref(toolArgs)
		msg.ToolResult = deref(toolResult)
		out = append(out, msg)
	}
	return out, rows.Err()
}

func (p *Postgres) Close() {
	p.pool.Close()
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

var _ Store = (*Postgres)(nil)
