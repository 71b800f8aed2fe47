package history

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"talkcart-calls/pkg/utils"
)

// PostgresRepo persists archived calls in Postgres via database/sql (pgx
// stdlib driver).
//
// NOTE: This repository assumes the following tables exist:
// - call_records      (immutable, PRIMARY KEY call_id, participants JSONB)
// - quality_reports   (UNIQUE (call_id, user_id), metrics JSONB)
// - missed_seen       (PRIMARY KEY (user_id, call_id))
type PostgresRepo struct {
	db *sql.DB
}

func NewPostgresRepo(db *sql.DB) *PostgresRepo { return &PostgresRepo{db: db} }

func (r *PostgresRepo) InsertRecord(ctx context.Context, rec CallRecord) error {
	participants, err := json.Marshal(rec.Participants)
	if err != nil {
		return err
	}

	const q = `
INSERT INTO call_records
  (call_id, conversation_id, initiator_id, kind, status, started_at, ended_at, duration_seconds, participants, recording_id, archived_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
ON CONFLICT (call_id) DO NOTHING
`
	_, err = r.db.ExecContext(ctx, q,
		rec.CallID,
		rec.ConversationID,
		rec.InitiatorID,
		string(rec.Kind),
		string(rec.Status),
		nullTime(rec.StartedAt),
		rec.EndedAt,
		rec.DurationSeconds,
		participants,
		nullString(rec.RecordingID),
		rec.ArchivedAt,
	)
	return err
}

func (r *PostgresRepo) GetRecord(ctx context.Context, callID string) (CallRecord, error) {
	const q = `
SELECT call_id, conversation_id, initiator_id, kind, status, started_at, ended_at, duration_seconds, participants, recording_id, archived_at
FROM call_records
WHERE call_id = $1
`
	var (
		rec          CallRecord
		startedAt    sql.NullTime
		recordingID  sql.NullString
		participants []byte
	)
	if err := r.db.QueryRowContext(ctx, q, callID).Scan(
		&rec.CallID,
		&rec.ConversationID,
		&rec.InitiatorID,
		&rec.Kind,
		&rec.Status,
		&startedAt,
		&rec.EndedAt,
		&rec.DurationSeconds,
		&participants,
		&recordingID,
		&rec.ArchivedAt,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return CallRecord{}, ErrNotFound
		}
		return CallRecord{}, err
	}
	if startedAt.Valid {
		rec.StartedAt = startedAt.Time
	}
	rec.RecordingID = recordingID.String
	if err := json.Unmarshal(participants, &rec.Participants); err != nil {
		return CallRecord{}, err
	}
	return rec, nil
}

func (r *PostgresRepo) ListRecords(ctx context.Context, userID string, rng TimeRange) ([]CallRecord, error) {
	// Membership test runs against the participants JSONB document.
	const q = `
SELECT call_id, conversation_id, initiator_id, kind, status, started_at, ended_at, duration_seconds, participants, recording_id, archived_at
FROM call_records
WHERE ended_at >= $2 AND ended_at < $3
  AND participants @> $1::jsonb
ORDER BY ended_at DESC
`
	member, err := json.Marshal([]map[string]string{{"user_id": userID}})
	if err != nil {
		return nil, err
	}

	rows, err := r.db.QueryContext(ctx, q, member, rng.From, rng.To)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []CallRecord
	for rows.Next() {
		var (
			rec          CallRecord
			startedAt    sql.NullTime
			recordingID  sql.NullString
			participants []byte
		)
		if err := rows.Scan(
			&rec.CallID,
			&rec.ConversationID,
			&rec.InitiatorID,
			&rec.Kind,
			&rec.Status,
			&startedAt,
			&rec.EndedAt,
			&rec.DurationSeconds,
			&participants,
			&recordingID,
			&rec.ArchivedAt,
		); err != nil {
			return nil, err
		}
		if startedAt.Valid {
			rec.StartedAt = startedAt.Time
		}
		rec.RecordingID = recordingID.String
		if err := json.Unmarshal(participants, &rec.Participants); err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (r *PostgresRepo) InsertQualityReport(ctx context.Context, rep QualityReport) (bool, error) {
	metrics, err := json.Marshal(rep.Metrics)
	if err != nil {
		return false, err
	}

	const q = `
INSERT INTO quality_reports (call_id, user_id, metrics, created_at)
VALUES ($1, $2, $3, $4)
ON CONFLICT (call_id, user_id) DO NOTHING
`
	res, err := r.db.ExecContext(ctx, q, rep.CallID, rep.UserID, metrics, rep.CreatedAt)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (r *PostgresRepo) MarkMissedSeen(ctx context.Context, userID string, callIDs []string, at time.Time) error {
	// One transaction so a bulk flag is all-or-nothing.
	return utils.WithTx(ctx, r.db, &sql.TxOptions{}, func(ctx context.Context, tx *sql.Tx) error {
		const q = `
INSERT INTO missed_seen (user_id, call_id, seen_at)
VALUES ($1, $2, $3)
ON CONFLICT (user_id, call_id) DO NOTHING
`
		for _, id := range callIDs {
			if _, err := tx.ExecContext(ctx, q, userID, id, at); err != nil {
				return err
			}
		}
		return nil
	})
}

func (r *PostgresRepo) MissedSeen(ctx context.Context, userID, callID string) (bool, error) {
	const q = `SELECT EXISTS (SELECT 1 FROM missed_seen WHERE user_id = $1 AND call_id = $2)`
	var seen bool
	if err := r.db.QueryRowContext(ctx, q, userID, callID).Scan(&seen); err != nil {
		return false, err
	}
	return seen, nil
}

func nullTime(t time.Time) sql.NullTime {
	return sql.NullTime{Time: t, Valid: !t.IsZero()}
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
