package repos

import (
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"dealerchat/internal/domain"
)

// TranscriptRepo stores chat sessions and their messages. Queries are written
// with ? placeholders and rebound for the active driver.
type TranscriptRepo struct{ db *sqlx.DB }

func NewTranscriptRepo(db *sqlx.DB) *TranscriptRepo { return &TranscriptRepo{db: db} }

func now() string { return time.Now().UTC().Format(time.RFC3339Nano) }

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// EnsureSession creates the session row if it does not exist yet.
func (r *TranscriptRepo) EnsureSession(sessionID string) error {
	ts := now()
	_, err := r.db.Exec(r.db.Rebind(`
		INSERT INTO chat_sessions(id, takeover, created_at, updated_at)
		VALUES (?, 0, ?, ?)
		ON CONFLICT(id) DO NOTHING
	`), sessionID, ts, ts)
	return err
}

// Append adds one message at the end of the session's transcript.
func (r *TranscriptRepo) Append(sessionID, content string, isUser bool) error {
	tx, err := r.db.Beginx()
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	var seq int
	if err := tx.Get(&seq, tx.Rebind(`SELECT COALESCE(MAX(seq), 0) FROM chat_messages WHERE session_id = ?`), sessionID); err != nil {
		return err
	}
	ts := now()
	if _, err := tx.Exec(tx.Rebind(`
		INSERT INTO chat_messages(id, session_id, seq, content, is_user, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`), uuid.NewString(), sessionID, seq+1, content, boolInt(isUser), ts); err != nil {
		return err
	}
	if _, err := tx.Exec(tx.Rebind(`UPDATE chat_sessions SET updated_at = ? WHERE id = ?`), ts, sessionID); err != nil {
		return err
	}
	return tx.Commit()
}

// Messages returns the session transcript oldest first.
func (r *TranscriptRepo) Messages(sessionID string) ([]domain.ChatMessage, error) {
	out := []domain.ChatMessage{}
	err := r.db.Select(&out, r.db.Rebind(`
		SELECT id, session_id, content, is_user, created_at
		FROM chat_messages
		WHERE session_id = ?
		ORDER BY seq
	`), sessionID)
	return out, err
}

// Session returns sql.ErrNoRows for unknown ids.
func (r *TranscriptRepo) Session(sessionID string) (domain.Session, error) {
	var s domain.Session
	err := r.db.Get(&s, r.db.Rebind(`
		SELECT id, takeover, created_at, updated_at FROM chat_sessions WHERE id = ?
	`), sessionID)
	return s, err
}

// Takeover reports whether a human operator owns the session. Unknown
// sessions are not taken over.
func (r *TranscriptRepo) Takeover(sessionID string) (bool, error) {
	s, err := r.Session(sessionID)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return s.Takeover, nil
}

// SetTakeover sets the operator flag, creating the session if needed.
func (r *TranscriptRepo) SetTakeover(sessionID string, on bool) error {
	ts := now()
	_, err := r.db.Exec(r.db.Rebind(`
		INSERT INTO chat_sessions(id, takeover, created_at, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET takeover = excluded.takeover, updated_at = excluded.updated_at
	`), sessionID, boolInt(on), ts, ts)
	return err
}
