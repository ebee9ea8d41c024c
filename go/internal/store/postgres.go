package store

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/sqlc-dev/pqtype"

	"github.com/mcdev12/aln/go/internal/models"
	"github.com/mcdev12/aln/go/internal/sqlutil"
)

//go:embed schema_postgres.sql
var postgresSchema string

// Postgres is the shared store used when several orchestrators or the
// catalog tooling point at one database.
type Postgres struct {
	db *sql.DB
}

// OpenPostgres connects with lib/pq and applies the schema.
func OpenPostgres(ctx context.Context, dsn string) (*Postgres, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	if _, err := db.ExecContext(ctx, postgresSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &Postgres{db: db}, nil
}

func (p *Postgres) Close() error {
	return p.db.Close()
}

func (p *Postgres) Ping(ctx context.Context) error {
	return p.db.PingContext(ctx)
}

func (p *Postgres) SaveSession(ctx context.Context, session models.Session, seq uint64) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO sessions (id, name, teams, status, start_time, end_time, paused_at, seq)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (id) DO UPDATE SET
			status = EXCLUDED.status,
			end_time = EXCLUDED.end_time,
			paused_at = EXCLUDED.paused_at,
			seq = EXCLUDED.seq
		WHERE EXCLUDED.seq > sessions.seq
	`,
		session.ID,
		session.Name,
		pq.Array(session.Teams),
		string(session.Status),
		session.StartTime,
		sqlutil.ToSqlTime(session.EndTime),
		sqlutil.ToSqlTime(session.PausedAt),
		int64(seq),
	)
	if err != nil {
		return fmt.Errorf("save session: %w", err)
	}
	return nil
}

func (p *Postgres) SaveTransaction(ctx context.Context, tx models.Transaction) error {
	dup := pqtype.NullRawMessage{}
	if tx.DuplicateOf != nil {
		raw, err := json.Marshal(tx.DuplicateOf)
		if err != nil {
			return fmt.Errorf("save transaction: %w", err)
		}
		dup = pqtype.NullRawMessage{RawMessage: raw, Valid: true}
	}

	_, err := p.db.ExecContext(ctx, `
		INSERT INTO transactions
		(id, session_id, seq, token_id, team_id, device_id, mode, source,
		 client_timestamp, server_timestamp, status, points, late, duplicate_of)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		ON CONFLICT (id) DO NOTHING
	`,
		tx.ID,
		tx.SessionID,
		int64(tx.Seq),
		tx.TokenID,
		tx.TeamID,
		tx.DeviceID,
		string(tx.Mode),
		string(tx.Source),
		tx.ClientTimestamp,
		tx.ServerTimestamp,
		string(tx.Status),
		tx.Points,
		tx.Late,
		dup,
	)
	if err != nil {
		return fmt.Errorf("save transaction: %w", err)
	}
	return nil
}

func (p *Postgres) LoadSession(ctx context.Context, id uuid.UUID) (SessionRecord, error) {
	var rec SessionRecord
	err := sqlutil.Run(ctx, p.db, sqlutil.ReadOnly, func(tx *sql.Tx) error {
		row := tx.QueryRowContext(ctx, `
			SELECT id, name, teams, status, start_time, end_time, paused_at, seq
			FROM sessions WHERE id = $1`, id)
		var err error
		if rec, err = scanPostgresSession(row); err != nil {
			return err
		}
		rec.Transactions, err = postgresTransactions(ctx, tx, id)
		return err
	})
	if err != nil {
		return SessionRecord{}, fmt.Errorf("load session %s: %w", id, err)
	}
	return rec, nil
}

func (p *Postgres) LoadSessions(ctx context.Context) ([]SessionRecord, error) {
	var out []SessionRecord
	err := sqlutil.Run(ctx, p.db, sqlutil.ReadOnly, func(tx *sql.Tx) error {
		rows, err := tx.QueryContext(ctx, `
			SELECT id, name, teams, status, start_time, end_time, paused_at, seq
			FROM sessions ORDER BY start_time, id`)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			rec, err := scanPostgresSession(rows)
			if err != nil {
				return err
			}
			out = append(out, rec)
		}
		if err := rows.Err(); err != nil {
			return err
		}
		rows.Close()

		for i := range out {
			if out[i].Transactions, err = postgresTransactions(ctx, tx, out[i].Session.ID); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("load sessions: %w", err)
	}
	return out, nil
}

func scanPostgresSession(row rowScanner) (SessionRecord, error) {
	var (
		rec      SessionRecord
		status   string
		endTime  sql.NullTime
		pausedAt sql.NullTime
		seq      int64
	)
	err := row.Scan(&rec.Session.ID, &rec.Session.Name, pq.Array(&rec.Session.Teams), &status,
		&rec.Session.StartTime, &endTime, &pausedAt, &seq)
	if errors.Is(err, sql.ErrNoRows) {
		return SessionRecord{}, ErrNotFound
	}
	if err != nil {
		return SessionRecord{}, err
	}
	rec.Session.Status = models.SessionStatus(status)
	rec.Session.StartTime = rec.Session.StartTime.UTC()
	rec.Session.EndTime = sqlutil.FromSqlTime(endTime)
	rec.Session.PausedAt = sqlutil.FromSqlTime(pausedAt)
	rec.Seq = uint64(seq)
	return rec, nil
}

func postgresTransactions(ctx context.Context, tx *sql.Tx, sessionID uuid.UUID) ([]models.Transaction, error) {
	rows, err := tx.QueryContext(ctx, `
		SELECT id, session_id, seq, token_id, team_id, device_id, mode, source,
		       client_timestamp, server_timestamp, status, points, late, duplicate_of
		FROM transactions WHERE session_id = $1 ORDER BY seq`, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.Transaction
	for rows.Next() {
		var (
			t                  models.Transaction
			seq                int64
			mode, source, stat string
			dup                pqtype.NullRawMessage
		)
		if err := rows.Scan(&t.ID, &t.SessionID, &seq, &t.TokenID, &t.TeamID, &t.DeviceID, &mode, &source,
			&t.ClientTimestamp, &t.ServerTimestamp, &stat, &t.Points, &t.Late, &dup); err != nil {
			return nil, err
		}
		t.Seq = uint64(seq)
		t.Mode = models.Mode(mode)
		t.Source = models.TransactionSource(source)
		t.Status = models.TransactionStatus(stat)
		t.ClientTimestamp = t.ClientTimestamp.UTC()
		t.ServerTimestamp = t.ServerTimestamp.UTC()
		if dup.Valid {
			var ref models.DuplicateRef
			if err := json.Unmarshal(dup.RawMessage, &ref); err != nil {
				return nil, fmt.Errorf("decode duplicate ref: %w", err)
			}
			t.DuplicateOf = &ref
		}
		out = append(out, t)
	}
	return out, rows.Err()
}
