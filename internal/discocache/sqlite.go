package discocache

import (
	"database/sql"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteBackend is the external-KV Backend (§4.2), a durable TTL-aware
// sidecar store distinct from InProcess. Grounded on the teacher's
// sqlite-backed store (internal/store/store.go): a single *sql.DB behind a
// thin wrapper, opened with the pure-Go modernc.org/sqlite driver so no
// cgo toolchain is required.
type SQLiteBackend struct {
	mu sync.Mutex
	db *sql.DB
}

// OpenSQLiteBackend opens (creating if absent) a sqlite-backed KV store at
// path. Callers that want the initialization-failure-falls-back-to-in-
// process behavior of §4.2 should use NewWithFallback instead of calling
// this directly.
func OpenSQLiteBackend(path string) (*SQLiteBackend, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, err
	}
	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS kv (
		key TEXT PRIMARY KEY,
		value BLOB NOT NULL,
		expires_at INTEGER NOT NULL DEFAULT 0
	)`); err != nil {
		db.Close()
		return nil, err
	}
	return &SQLiteBackend{db: db}, nil
}

func (s *SQLiteBackend) Close() error {
	return s.db.Close()
}

func (s *SQLiteBackend) Get(key string) ([]byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var value []byte
	var expiresAt int64
	err := s.db.QueryRow(`SELECT value, expires_at FROM kv WHERE key = ?`, key).Scan(&value, &expiresAt)
	if err != nil {
		return nil, false
	}
	if expiresAt != 0 && time.Now().Unix() > expiresAt {
		s.db.Exec(`DELETE FROM kv WHERE key = ?`, key)
		return nil, false
	}
	return value, true
}

func (s *SQLiteBackend) Set(key string, value []byte, ttl time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var expiresAt int64
	if ttl > 0 {
		expiresAt = time.Now().Add(ttl).Unix()
	}
	s.db.Exec(`INSERT INTO kv (key, value, expires_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, expires_at = excluded.expires_at`,
		key, value, expiresAt)
}

func (s *SQLiteBackend) Delete(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	res, err := s.db.Exec(`DELETE FROM kv WHERE key = ?`, key)
	if err != nil {
		return false
	}
	n, _ := res.RowsAffected()
	return n > 0
}

func (s *SQLiteBackend) Exists(key string) bool {
	_, ok := s.Get(key)
	return ok
}

func (s *SQLiteBackend) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.db.Exec(`DELETE FROM kv`)
}

func (s *SQLiteBackend) Keys(pattern string) []string {
	s.mu.Lock()
	rows, err := s.db.Query(`SELECT key, expires_at FROM kv`)
	s.mu.Unlock()
	if err != nil {
		return nil
	}
	defer rows.Close()

	now := time.Now().Unix()
	var out []string
	for rows.Next() {
		var key string
		var expiresAt int64
		if err := rows.Scan(&key, &expiresAt); err != nil {
			continue
		}
		if expiresAt != 0 && now > expiresAt {
			continue
		}
		if matchPattern(pattern, key) {
			out = append(out, key)
		}
	}
	return out
}
