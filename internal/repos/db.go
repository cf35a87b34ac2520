package repos

import (
	"fmt"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"
)

// OpenDB opens the transcript database. driver is "sqlite" (default) or "pgx".
func OpenDB(driver, dsn string) (*sqlx.DB, error) {
	if driver == "" {
		driver = "sqlite"
	}
	if driver != "sqlite" && driver != "pgx" {
		return nil, fmt.Errorf("unsupported DB driver %q", driver)
	}
	db, err := sqlx.Open(driver, dsn)
	if err != nil {
		return nil, err
	}
	if driver == "sqlite" {
		// one connection keeps :memory: databases shared and serializes writers
		db.SetMaxOpenConns(1)
	}
	if err = db.Ping(); err != nil {
		return nil, err
	}

	if err := ensureSchema(db); err != nil {
		return nil, err
	}
	return db, nil
}

func ensureSchema(db *sqlx.DB) error {
	// One statement per Exec: the pgx driver rejects multi-statement strings with args.
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS chat_sessions(
  id TEXT PRIMARY KEY,               -- assistant thread id
  takeover INTEGER NOT NULL DEFAULT 0,
  created_at TEXT NOT NULL,
  updated_at TEXT NOT NULL
)`,
		`CREATE TABLE IF NOT EXISTS chat_messages(
  id TEXT PRIMARY KEY,
  session_id TEXT NOT NULL REFERENCES chat_sessions(id) ON DELETE CASCADE,
  seq INTEGER NOT NULL,
  content TEXT NOT NULL,
  is_user INTEGER NOT NULL,
  created_at TEXT NOT NULL
)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_chat_messages_session_seq ON chat_messages(session_id, seq)`,
	}
	for _, s := range stmts {
		if _, err := db.Exec(s); err != nil {
			return err
		}
	}
	return nil
}
