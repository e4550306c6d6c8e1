package cache

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS stores (
    name TEXT PRIMARY KEY,
    created_at INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS entries (
    store TEXT NOT NULL REFERENCES stores(name) ON DELETE CASCADE,
    method TEXT NOT NULL,
    url TEXT NOT NULL,
    status INTEGER NOT NULL,
    header TEXT NOT NULL,
    body BLOB,
    stored_at INTEGER NOT NULL,
    PRIMARY KEY (store, method, url)
);
`

// SQLiteFileName 是 sqlite 后端在 StoragePath 下使用的数据库文件名。
const SQLiteFileName = "swcache.db"

// OpenSQLiteRegistry 打开（必要时创建）sqlite 仓库数据库并确保表结构存在。
func OpenSQLiteRegistry(path string) (Registry, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("sqlite path required")
	}
	cleanPath := filepath.Clean(path)
	dsn := cleanPath + "?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	if _, err := db.Exec(sqliteSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &sqliteRegistry{db: db}, nil
}

type sqliteRegistry struct {
	db *sql.DB
}

type sqliteStore struct {
	db   *sql.DB
	name string
}

func toMillis(value time.Time) int64 {
	return value.UTC().UnixMilli()
}

func fromMillis(value int64) time.Time {
	return time.UnixMilli(value).UTC()
}

func (r *sqliteRegistry) Open(ctx context.Context, name StoreName) (Store, error) {
	raw := name.String()
	if err := validStoreName(raw); err != nil {
		return nil, err
	}
	_, err := r.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO stores (name, created_at) VALUES (?, ?)`,
		raw, toMillis(time.Now()),
	)
	if err != nil {
		return nil, fmt.Errorf("open store %s: %w", raw, err)
	}
	return &sqliteStore{db: r.db, name: raw}, nil
}

func (r *sqliteRegistry) Match(ctx context.Context, key Key, names ...string) (*Response, error) {
	if len(names) == 0 {
		all, err := r.Names(ctx)
		if err != nil {
			return nil, err
		}
		names = all
	}
	for _, name := range names {
		store := &sqliteStore{db: r.db, name: name}
		resp, err := store.Match(ctx, key)
		switch {
		case err == nil:
			return resp, nil
		case errors.Is(err, ErrNotFound):
			continue
		default:
			return nil, err
		}
	}
	return nil, ErrNotFound
}

func (r *sqliteRegistry) Delete(ctx context.Context, name string) (bool, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return false, err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM entries WHERE store = ?`, name); err != nil {
		return false, fmt.Errorf("delete entries of %s: %w", name, err)
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM stores WHERE name = ?`, name)
	if err != nil {
		return false, fmt.Errorf("delete store %s: %w", name, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	if err := tx.Commit(); err != nil {
		return false, err
	}
	return affected > 0, nil
}

func (r *sqliteRegistry) Names(ctx context.Context) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT name FROM stores ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("list stores: %w", err)
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

func (r *sqliteRegistry) Close() error {
	if r == nil || r.db == nil {
		return nil
	}
	return r.db.Close()
}

func (s *sqliteStore) Name() string {
	return s.name
}

func (s *sqliteStore) Put(ctx context.Context, key Key, resp *Response) error {
	if err := validEntry(key, resp); err != nil {
		return err
	}
	stored := snapshotForPut(resp)
	header, err := json.Marshal(stored.Header)
	if err != nil {
		return fmt.Errorf("encode header: %w", err)
	}
	// 仓库已被清理时外键约束使写入失败，过期版本不会被复活。
	_, err = s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO entries (store, method, url, status, header, body, stored_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		s.name, key.Method, key.URL, stored.StatusCode, string(header), stored.Body, toMillis(stored.StoredAt),
	)
	if err != nil {
		return fmt.Errorf("put %s into %s: %w", key, s.name, err)
	}
	return nil
}

func (s *sqliteStore) Match(ctx context.Context, key Key) (*Response, error) {
	var (
		status   int
		header   string
		body     []byte
		storedAt int64
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT status, header, body, stored_at FROM entries WHERE store = ? AND method = ? AND url = ?`,
		s.name, key.Method, key.URL,
	).Scan(&status, &header, &body, &storedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}

	resp := &Response{
		StatusCode: status,
		Header:     http.Header{},
		Body:       body,
		StoredAt:   fromMillis(storedAt),
	}
	if err := json.Unmarshal([]byte(header), &resp.Header); err != nil {
		return nil, fmt.Errorf("decode header: %w", err)
	}
	return resp, nil
}

func (s *sqliteStore) Keys(ctx context.Context) ([]Key, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT method, url FROM entries WHERE store = ? ORDER BY method, url`, s.name)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var keys []Key
	for rows.Next() {
		var key Key
		if err := rows.Scan(&key.Method, &key.URL); err != nil {
			return nil, err
		}
		keys = append(keys, key)
	}
	return keys, rows.Err()
}
