package store

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"github.com/mcdev12/aln/go/internal/models"
	"github.com/mcdev12/aln/go/internal/sqlutil"
)

//go:embed schema_sqlite.sql
var sqliteSchema string

// SQLite is the single-node store.
type SQLite struct {
	db *sql.DB
}

// OpenSQLite creates or opens the database at path and applies the schema.
func OpenSQLite(path string) (*SQLite, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("connect to database: %w", err)
	}

	// SQLite takes one writer at a time.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA foreign_keys = ON",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("execute %q: %w", pragma, err)
		}
	}
	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &SQLite{db: db}, nil
}

func (s *SQLite) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *SQLite) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *SQLite) SaveSession(ctx context.Context, session models.Session, seq uint64) error {
	teams, err := json.Marshal(session.Teams)
	if err != nil {
		return fmt.Errorf("save session: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO sessions (id, name, teams, status, start_time, end_time, paused_at, seq)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			status = excluded.status,
			end_time = excluded.end_time,
			paused_at = excluded.paused_at,
			seq = excluded.seq
		WHERE excluded.seq > sessions.seq
	`,
		session.ID.String(),
		session.Name,
		string(teams),
		string(session.Status),
		session.StartTime.UTC(),
		sqlutil.ToSqlTime(session.EndTime),
		sqlutil.ToSqlTime(session.PausedAt),
		int64(seq),
	)
	if err != nil {
		return fmt.Errorf("save session: %w", err)
	}
	return nil
}

func (s *SQLite) SaveTransaction(ctx context.Context, tx models.Transaction) error {
	var (
		dupID   sql.NullString
		dupTeam sql.NullString
		dupTime sql.NullTime
	)
	if ref := tx.DuplicateOf; ref != nil {
		dupID = sqlutil.ToSqlString(ref.TransactionID.String())
		dupTeam = sql.NullString{String: ref.TeamID, Valid: true}
		dupTime = sqlutil.ToSqlTime(&ref.ServerTimestamp)
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO transactions
		(id, session_id, seq, token_id, team_id, device_id, mode, source,
		 client_timestamp, server_timestamp, status, points, late,
		 duplicate_of_id, duplicate_of_team, duplicate_of_time)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING
	`,
		tx.ID.String(),
		tx.SessionID.String(),
		int64(tx.Seq),
		tx.TokenID,
		tx.TeamID,
		tx.DeviceID,
		string(tx.Mode),
		string(tx.Source),
		tx.ClientTimestamp.UTC(),
		tx.ServerTimestamp.UTC(),
		string(tx.Status),
		tx.Points,
		tx.Late,
		dupID,
		dupTeam,
		dupTime,
	)
	if err != nil {
		return fmt.Errorf("save transaction: %w", err)
	}
	return nil
}

func (s *SQLite) LoadSession(ctx context.Context, id uuid.UUID) (SessionRecord, error) {
	var rec SessionRecord
	err := sqlutil.Run(ctx, s.db, nil, func(tx *sql.Tx) error {
		row := tx.QueryRowContext(ctx, `
			SELECT id, name, teams, status, start_time, end_time, paused_at, seq
			FROM sessions WHERE id = ?`, id.String())
		var err error
		rec, err = scanSQLiteSession(row)
		if err != nil {
			return err
		}
		rec.Transactions, err = sqliteTransactions(ctx, tx, id)
		return err
	})
	if err != nil {
		return SessionRecord{}, fmt.Errorf("load session %s: %w", id, err)
	}
	return rec, nil
}

func (s *SQLite) LoadSessions(ctx context.Context) ([]SessionRecord, error) {
	var out []SessionRecord
	err := sqlutil.Run(ctx, s.db, nil, func(tx *sql.Tx) error {
		rows, err := tx.QueryContext(ctx, `
			SELECT id, name, teams, status, start_time, end_time, paused_at, seq
			FROM sessions ORDER BY start_time, id`)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			rec, err := scanSQLiteSession(rows)
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
			out[i].Transactions, err = sqliteTransactions(ctx, tx, out[i].Session.ID)
			if err != nil {
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

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSQLiteSession(row rowScanner) (SessionRecord, error) {
	var (
		rec      SessionRecord
		id       string
		teams    string
		status   string
		endTime  sql.NullTime
		pausedAt sql.NullTime
		seq      int64
	)
	err := row.Scan(&id, &rec.Session.Name, &teams, &status, &rec.Session.StartTime, &endTime, &pausedAt, &seq)
	if errors.Is(err, sql.ErrNoRows) {
		return SessionRecord{}, ErrNotFound
	}
	if err != nil {
		return SessionRecord{}, err
	}
	if rec.Session.ID, err = uuid.Parse(id); err != nil {
		return SessionRecord{}, fmt.Errorf("parse session id: %w", err)
	}
	if err := json.Unmarshal([]byte(teams), &rec.Session.Teams); err != nil {
		return SessionRecord{}, fmt.Errorf("decode teams: %w", err)
	}
	rec.Session.Status = models.SessionStatus(status)
	rec.Session.StartTime = rec.Session.StartTime.UTC()
	rec.Session.EndTime = sqlutil.FromSqlTime(endTime)
	rec.Session.PausedAt = sqlutil.FromSqlTime(pausedAt)
	rec.Seq = uint64(seq)
	return rec, nil
}

func sqliteTransactions(ctx context.Context, tx *sql.Tx, sessionID uuid.UUID) ([]models.Transaction, error) {
	rows, err := tx.QueryContext(ctx, `
		SELECT id, session_id, seq, token_id, team_id, device_id, mode, source,
		       client_timestamp, server_timestamp, status, points, late,
		       duplicate_of_id, duplicate_of_team, duplicate_of_time
		FROM transactions WHERE session_id = ? ORDER BY seq`, sessionID.String())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.Transaction
	for rows.Next() {
		var (
			t                  models.Transaction
			id, sid            string
			seq                int64
			mode, source, stat string
			dupID, dupTeam     sql.NullString
			dupTime            sql.NullTime
		)
		if err := rows.Scan(&id, &sid, &seq, &t.TokenID, &t.TeamID, &t.DeviceID, &mode, &source,
			&t.ClientTimestamp, &t.ServerTimestamp, &stat, &t.Points, &t.Late,
			&dupID, &dupTeam, &dupTime); err != nil {
			return nil, err
		}
		if t.ID, err = uuid.Parse(id); err != nil {
			return nil, fmt.Errorf("parse transaction id: %w", err)
		}
		if t.SessionID, err = uuid.Parse(sid); err != nil {
			return nil, fmt.Errorf("parse session id: %w", err)
		}
		t.Seq = uint64(seq)
		t.Mode = models.Mode(mode)
		t.Source = models.TransactionSource(source)
		t.Status = models.TransactionStatus(stat)
		t.ClientTimestamp = t.ClientTimestamp.UTC()
		t.ServerTimestamp = t.ServerTimestamp.UTC()
		if dupID.Valid {
			ref, err := uuid.Parse(dupID.String)
			if err != nil {
				return nil, fmt.Errorf("parse duplicate ref: %w", err)
			}
			t.DuplicateOf = duplicateRef(&ref, sqlutil.FromSqlString(dupTeam, ""), sqlutil.FromSqlTime(dupTime))
		}
		out = append(out, t)
	}
	return out, rows.Err()
}
