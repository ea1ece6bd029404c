package provlog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/ipfs/go-cid"
	_ "modernc.org/sqlite" // Import SQLite driver for database/sql
)

type sqliteStore struct{ db *sql.DB }

// OpenSQLiteStore opens/creates a SQLite DB and ensures schema + PRAGMAs.
func OpenSQLiteStore(dsn string) (EntryStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, err
	}
	st := &sqliteStore{db: db}
	for _, p := range []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=FULL;",
		"PRAGMA foreign_keys=ON;",
		"PRAGMA busy_timeout=5000;",
		"PRAGMA wal_autocheckpoint=1000;",
	} {
		if _, err := db.Exec(p); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("set %s: %w", p, err)
		}
	}
	schema := `
CREATE TABLE IF NOT EXISTS entries (
  cid   TEXT PRIMARY KEY,
  data  BLOB NOT NULL       -- canonical entry bytes
);
CREATE TABLE IF NOT EXISTS heads (
  vlad  TEXT PRIMARY KEY,
  cid   TEXT NOT NULL       -- head entry CID for this log
);
`
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, err
	}
	return st, nil
}

// Put stores canonical entry bytes under their CID; a duplicate CID is
// ignored, the content cannot differ.
func (s *sqliteStore) Put(c cid.Cid, data []byte) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO entries(cid, data) VALUES(?, ?) ON CONFLICT(cid) DO NOTHING`,
		c.String(), data)
	return err
}

func (s *sqliteStore) Get(c cid.Cid) ([]byte, bool, error) {
	var data []byte
	err := s.db.QueryRow(`SELECT data FROM entries WHERE cid=?`, c.String()).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return data, true, nil
}

func (s *sqliteStore) SetHead(vlad Vlad, head cid.Cid) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO heads(vlad, cid) VALUES(?, ?)
		 ON CONFLICT(vlad) DO UPDATE SET cid=excluded.cid`,
		vlad.String(), head.String())
	return err
}

func (s *sqliteStore) Head(vlad Vlad) (cid.Cid, bool, error) {
	var text string
	err := s.db.QueryRow(`SELECT cid FROM heads WHERE vlad=?`, vlad.String()).Scan(&text)
	if errors.Is(err, sql.ErrNoRows) {
		return cid.Undef, false, nil
	}
	if err != nil {
		return cid.Undef, false, err
	}
	c, err := cid.Decode(text)
	if err != nil {
		return cid.Undef, false, fmt.Errorf("parse head cid: %w", err)
	}
	return c, true, nil
}

func (s *sqliteStore) Close() error {
	return s.db.Close()
}
