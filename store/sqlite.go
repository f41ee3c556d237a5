package store

import (
	"database/sql"
	"fmt"
	"sync"

	_ "github.com/mattn/go-sqlite3" // SQLite driver
)

// SqliteBackend keeps ops and snapshots in a private in-memory SQLite
// database. Values are stored as msgpack blobs.
//
// Tables:
//
//	ops(collection, id, v, op)                PRIMARY KEY (collection, id, v)
//	snapshots(collection, id, v, type, data)  PRIMARY KEY (collection, id)
type SqliteBackend struct {
	mu sync.RWMutex
	db *sql.DB
}

func NewSqliteBackend() (*SqliteBackend, error) {
	db, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		return nil, err
	}
	// Every connection to :memory: is a separate database.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)
	db.SetConnMaxIdleTime(0)

	if _, err := db.Exec(`CREATE TABLE ops (
		collection TEXT NOT NULL,
		id TEXT NOT NULL,
		v INTEGER NOT NULL,
		op BLOB NOT NULL,
		PRIMARY KEY (collection, id, v)
	)`); err != nil {
		db.Close()
		return nil, err
	}
	if _, err := db.Exec(`CREATE TABLE snapshots (
		collection TEXT NOT NULL,
		id TEXT NOT NULL,
		v INTEGER NOT NULL,
		type TEXT NOT NULL,
		data BLOB,
		PRIMARY KEY (collection, id)
	)`); err != nil {
		db.Close()
		return nil, err
	}
	return &SqliteBackend{db: db}, nil
}

func (s *SqliteBackend) Close() error {
	return s.db.Close()
}

func (s *SqliteBackend) opCount(collection, id string) (int, error) {
	var n int
	err := s.db.QueryRow(
		"SELECT COUNT(*) FROM ops WHERE collection = ? AND id = ?",
		collection, id,
	).Scan(&n)
	return n, err
}

func (s *SqliteBackend) OpCount(collection, id string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.opCount(collection, id)
}

// Apply encodes op and snapshot before touching the database, then writes
// both in one transaction.
func (s *SqliteBackend) Apply(collection, id string, slot int, op Op, snap Snapshot) error {
	stored := copyOp(op)
	stored["v"] = slot
	opRaw, err := encodeValue(map[string]any(stored))
	if err != nil {
		return fmt.Errorf("%s/%s op %d: %w", collection, id, slot, err)
	}
	var dataRaw []byte
	if snap.Exists() && snap.Data != nil {
		if dataRaw, err = encodeValue(snap.Data); err != nil {
			return fmt.Errorf("%s/%s snapshot v%d: %w", collection, id, snap.V, err)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var n int
	if err := tx.QueryRow(
		"SELECT COUNT(*) FROM ops WHERE collection = ? AND id = ?",
		collection, id,
	).Scan(&n); err != nil {
		return err
	}
	if n != slot {
		return &ConsistencyError{Collection: collection, ID: id, Slot: slot, Have: n}
	}
	if _, err := tx.Exec(
		"INSERT INTO ops (collection, id, v, op) VALUES (?, ?, ?, ?)",
		collection, id, slot, opRaw,
	); err != nil {
		return err
	}
	if snap.Exists() {
		_, err = tx.Exec(
			`INSERT INTO snapshots (collection, id, v, type, data) VALUES (?, ?, ?, ?, ?)
			 ON CONFLICT(collection, id) DO UPDATE SET v = excluded.v, type = excluded.type, data = excluded.data`,
			collection, id, snap.V, snap.Type, dataRaw,
		)
	} else {
		_, err = tx.Exec(
			"DELETE FROM snapshots WHERE collection = ? AND id = ?",
			collection, id,
		)
	}
	if err != nil {
		return err
	}
	return tx.Commit()
}

func (s *SqliteBackend) Ops(collection, id string, from, to int) ([]Op, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n, err := s.opCount(collection, id)
	if err != nil {
		return nil, err
	}
	from, to = clampRange(n, from, to)
	rows, err := s.db.Query(
		"SELECT v, op FROM ops WHERE collection = ? AND id = ? AND v >= ? AND v < ? ORDER BY v",
		collection, id, from, to,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	result := make([]Op, 0, to-from)
	for rows.Next() {
		var v int
		var raw []byte
		if err := rows.Scan(&v, &raw); err != nil {
			return nil, err
		}
		op, err := decodeOp(raw)
		if err != nil {
			return nil, fmt.Errorf("%s/%s op %d: %w", collection, id, v, err)
		}
		op["v"] = v
		result = append(result, op)
	}
	return result, rows.Err()
}

func (s *SqliteBackend) scanSnapshot(id string, v int, typ string, raw []byte) (Snapshot, error) {
	data, err := decodeValue(raw)
	if err != nil {
		return Snapshot{}, fmt.Errorf("snapshot %s: %w", id, err)
	}
	return Snapshot{ID: id, V: v, Type: typ, Data: data}, nil
}

func (s *SqliteBackend) Snapshot(collection, id string) (*Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var v int
	var typ string
	var raw []byte
	err := s.db.QueryRow(
		"SELECT v, type, data FROM snapshots WHERE collection = ? AND id = ?",
		collection, id,
	).Scan(&v, &typ, &raw)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	snap, err := s.scanSnapshot(id, v, typ, raw)
	if err != nil {
		return nil, err
	}
	return &snap, nil
}

func (s *SqliteBackend) Snapshots(collection string) ([]Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rows, err := s.db.Query(
		"SELECT id, v, type, data FROM snapshots WHERE collection = ? ORDER BY id",
		collection,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	result := []Snapshot{}
	for rows.Next() {
		var id, typ string
		var v int
		var raw []byte
		if err := rows.Scan(&id, &v, &typ, &raw); err != nil {
			return nil, err
		}
		snap, err := s.scanSnapshot(id, v, typ, raw)
		if err != nil {
			return nil, err
		}
		result = append(result, snap)
	}
	return result, rows.Err()
}

func (s *SqliteBackend) Collections() ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rows, err := s.db.Query("SELECT DISTINCT collection FROM ops ORDER BY collection")
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		names = append(names, name)
	}
	return names, rows.Err()
}
