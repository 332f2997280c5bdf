package cache

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "github.com/glebarez/go-sqlite"
)

// SQLiteCache is a CacheProvider backed by an SQLite database.
type SQLiteCache struct {
	db         *sql.DB
	writeMutex *sync.Mutex
}

// NewSQLiteCache opens (and if needed creates) the cache with the given
// filename as the db. If file name is empty or "memory", a new in-memory db is
// opened.
func NewSQLiteCache(filename string) (SQLiteCache, error) {
	inMemory := filename == "" || filename == "memory"
	if inMemory {
		filename = ":memory:"
	}
	db, err := sql.Open("sqlite", filename)
	if err != nil {
		return SQLiteCache{}, err
	}
	if inMemory {
		// every connection would get its own database
		db.SetMaxOpenConns(1)
	}
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS cache (
			key TEXT PRIMARY KEY,
			soft_expires INTEGER,
			hard_expires INTEGER,
			server_date INTEGER,
			last_modified INTEGER,
			etag TEXT,
			headers TEXT,
			payload BLOB
		)`,
		"CREATE INDEX IF NOT EXISTS soft_expires_idx ON cache (soft_expires)",
	}
	if !inMemory {
		stmts = append(stmts, "PRAGMA journal_mode=WAL")
	}
	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return SQLiteCache{}, fmt.Errorf("could not initialize cache db: %w", err)
		}
	}
	return SQLiteCache{
		db:         db,
		writeMutex: &sync.Mutex{},
	}, nil
}

func (s SQLiteCache) Close() error {
	return s.db.Close()
}

func (s SQLiteCache) Get(key string) (*Entry, error) {
	var (
		entry                     Entry
		soft, hard, date, lastMod int64
		hdrs                      string
	)
	err := s.db.QueryRow(`SELECT
		soft_expires, hard_expires, server_date, last_modified, etag, headers, payload
		FROM cache WHERE key = ?`, key).
		Scan(&soft, &hard, &date, &lastMod, &entry.ETag, &hdrs, &entry.Payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(hdrs), &entry.Headers); err != nil {
		return nil, fmt.Errorf("could not decode headers of %s: %w", key, err)
	}
	entry.SoftExpires = fromUnixMilli(soft)
	entry.HardExpires = fromUnixMilli(hard)
	entry.ServerDate = fromUnixMilli(date)
	entry.LastModified = fromUnixMilli(lastMod)
	return &entry, nil
}

func (s SQLiteCache) Put(key string, entry *Entry) error {
	hdrs, err := json.Marshal(entry.Headers)
	if err != nil {
		return err
	}
	s.writeMutex.Lock()
	defer s.writeMutex.Unlock()
	_, err = s.db.Exec(`INSERT OR REPLACE INTO cache
		(key, soft_expires, hard_expires, server_date, last_modified, etag, headers, payload)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		key,
		toUnixMilli(entry.SoftExpires),
		toUnixMilli(entry.HardExpires),
		toUnixMilli(entry.ServerDate),
		toUnixMilli(entry.LastModified),
		entry.ETag,
		string(hdrs),
		entry.Payload,
	)
	return err
}

func (s SQLiteCache) Purge(key string) error {
	s.writeMutex.Lock()
	defer s.writeMutex.Unlock()
	_, err := s.db.Exec("DELETE FROM cache WHERE key = ?", key)
	return err
}

func (s SQLiteCache) Has(key string) bool {
	var one int
	err := s.db.QueryRow("SELECT 1 FROM cache WHERE key = ?", key).Scan(&one)
	return err == nil
}

func (s SQLiteCache) Oldest(prefix string) (string, time.Time, error) {
	var key string
	var expires int64
	err := s.db.QueryRow(
		`SELECT key, soft_expires FROM cache WHERE key LIKE ? ESCAPE '\' AND soft_expires != 0
		ORDER BY soft_expires ASC LIMIT 1`,
		likePrefix(prefix),
	).Scan(&key, &expires)
	if errors.Is(err, sql.ErrNoRows) {
		return "", time.Time{}, nil
	}
	if err != nil {
		return "", time.Time{}, err
	}
	return key, fromUnixMilli(expires), nil
}

func (s SQLiteCache) AllKeys(prefix string, cb func(string)) error {
	rows, err := s.db.Query(`SELECT key FROM cache WHERE key LIKE ? ESCAPE '\'`, likePrefix(prefix))
	if err != nil {
		return err
	}
	// collect first, the callback may need the connection
	var keys []string
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			rows.Close()
			return err
		}
		keys = append(keys, key)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}
	for _, key := range keys {
		cb(key)
	}
	return nil
}

// likePrefix returns a LIKE pattern matching keys starting with prefix.
func likePrefix(prefix string) string {
	return likeEscaper.Replace(prefix) + "%"
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, "%", `\%`, "_", `\_`)

// zero time is stored as 0
func toUnixMilli(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}

func fromUnixMilli(ms int64) time.Time {
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms).UTC()
}
