// Package archive is the one-shot write of the final session document on
// reveal (component B). It is best-effort: failure is logged by the
// caller (lifecycle.Controller), never retried inline, and the session
// data remains readable from the cache store for the post-reveal TTL
// window in case out-of-band recovery is needed (§7, §9).
package archive

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/go-sql-driver/mysql"

	"github.com/lvdashuaibi/revealcast/internal/model"
)

// MySQLConfig mirrors the teacher's MySQLConfig, trimmed to a single
// connection pool shared by the write and read paths (no read replica).
type MySQLConfig struct {
	DSN          string `mapstructure:"dsn"`
	MaxOpenConns int    `mapstructure:"max_open_conns"`
	MaxIdleConns int    `mapstructure:"max_idle_conns"`
}

// Sink writes the archived_sessions table.
type Sink struct {
	db *sql.DB
}

// NewSink opens and pings the archive database.
func NewSink(cfg MySQLConfig) (*Sink, error) {
	db, err := sql.Open("mysql", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("archive: open: %w", err)
	}
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(time.Hour)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("archive: ping: %w", err)
	}
	return &Sink{db: db}, nil
}

// schema (created out-of-band by migrations, documented here for
// reference):
//
//	CREATE TABLE archived_sessions (
//	  session_id   VARCHAR(64) PRIMARY KEY,
//	  owner_id     VARCHAR(128) NOT NULL,
//	  gender       VARCHAR(8) NOT NULL,
//	  reveal_time  DATETIME NOT NULL,
//	  created_at   DATETIME NOT NULL,
//	  ended_at     DATETIME NOT NULL,
//	  boy_votes    BIGINT NOT NULL,
//	  girl_votes   BIGINT NOT NULL,
//	  chat_history JSON NOT NULL
//	);
const insertStmt = `INSERT INTO archived_sessions
	(session_id, owner_id, gender, reveal_time, created_at, ended_at, boy_votes, girl_votes, chat_history)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON DUPLICATE KEY UPDATE
	  ended_at = VALUES(ended_at),
	  boy_votes = VALUES(boy_votes),
	  girl_votes = VALUES(girl_votes),
	  chat_history = VALUES(chat_history)`

// Archive implements lifecycle.Archiver.
func (s *Sink) Archive(ctx context.Context, session model.Session, votes model.VoteCount, chat []model.ChatMessage, endedAt time.Time) error {
	chatJSON, err := json.Marshal(chat)
	if err != nil {
		return fmt.Errorf("archive: encode chat history: %w", err)
	}

	_, err = s.db.ExecContext(ctx, insertStmt,
		session.ID,
		session.OwnerID,
		string(session.Gender),
		session.RevealTime,
		session.CreatedAt,
		endedAt,
		votes.Boy,
		votes.Girl,
		chatJSON,
	)
	if err != nil {
		return fmt.Errorf("archive: insert: %w", err)
	}
	return nil
}

const selectStmt = `SELECT session_id, owner_id, gender, reveal_time, created_at, ended_at, boy_votes, girl_votes
	FROM archived_sessions WHERE session_id = ?`

// Document is the archived-session projection returned by Get, used to
// answer session lookups after the cache TTL has expired.
type Document struct {
	Session model.Session
	Votes   model.VoteCount
	EndedAt time.Time
}

// Get reads back an archived session document. The bool return is false
// when no row exists, distinguishing "not found" from a query error.
func (s *Sink) Get(ctx context.Context, sessionID string) (Document, bool, error) {
	var doc Document
	var gender string
	row := s.db.QueryRowContext(ctx, selectStmt, sessionID)
	err := row.Scan(&doc.Session.ID, &doc.Session.OwnerID, &gender, &doc.Session.RevealTime,
		&doc.Session.CreatedAt, &doc.EndedAt, &doc.Votes.Boy, &doc.Votes.Girl)
	if err == sql.ErrNoRows {
		return Document{}, false, nil
	}
	if err != nil {
		return Document{}, false, fmt.Errorf("archive: get: %w", err)
	}
	doc.Session.Gender = model.Choice(gender)
	doc.Session.Status = model.StatusEnded
	return doc, true, nil
}

// Close releases the database handle.
func (s *Sink) Close() error {
	return s.db.Close()
}
