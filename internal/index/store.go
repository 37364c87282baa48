package index

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// FileName 是索引在状态目录下的文件名。
const FileName = "index.db"

// Entry 是库中一张已归档照片。
type Entry struct {
	DestPath    string    `json:"dest_path"`
	ContentHash string    `json:"content_hash"`
	SourcePath  string    `json:"source_path"`
	OrigName    string    `json:"orig_name"`
	CaptureTime string    `json:"capture_time,omitempty"`
	RecordedAt  time.Time `json:"recorded_at"`
}

// Store 是 <dest>/.photomc/index.db 的访问层。
//
// 约束：
// - plan（dry-run）只读打开；索引不存在时等价于空库，不会创建任何文件
// - apply 读写打开；写入只在执行 fan-in 之后由单个 goroutine 调用
type Store struct {
	db       *sql.DB
	path     string
	readOnly bool
}

var ErrReadOnly = errors.New("index: read-only")

// Open 以读写方式打开（必要时创建）dir 下的索引。
func Open(ctx context.Context, dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	s, err := open(ctx, filepath.Join(dir, FileName), false)
	if err != nil {
		return nil, err
	}
	if _, err := s.initSchema(ctx, true); err != nil {
		_ = s.Close()
		return nil, err
	}
	return s, nil
}

// OpenReadOnly 以只读方式打开 dir 下的索引；文件不存在时返回空的只读 Store。
func OpenReadOnly(ctx context.Context, dir string) (*Store, error) {
	p := filepath.Join(dir, FileName)
	if _, err := os.Stat(p); err != nil {
		if os.IsNotExist(err) {
			return &Store{path: p, readOnly: true}, nil
		}
		return nil, err
	}
	s, err := open(ctx, p, true)
	if err != nil {
		return nil, err
	}
	empty, err := s.initSchema(ctx, false)
	if err != nil {
		_ = s.Close()
		return nil, err
	}
	if empty {
		_ = s.Close()
		return &Store{path: p, readOnly: true}, nil
	}
	return s, nil
}

func open(ctx context.Context, path string, readOnly bool) (*Store, error) {
	dsn := "file:" + path
	if readOnly {
		dsn += "?mode=ro"
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("打开索引失败：%w", err)
	}
	// PRAGMA 只作用于单个连接。
	db.SetMaxOpenConns(1)
	if _, err := db.ExecContext(ctx, "PRAGMA busy_timeout = 5000"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("设置 busy_timeout 失败：%w", err)
	}
	return &Store{db: db, path: path, readOnly: readOnly}, nil
}

// Path 返回索引文件路径。
func (s *Store) Path() string { return s.path }

// Close 关闭数据库连接。
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// KnownHashes 返回 content hash -> 库内路径（同一 hash 多条时取字典序最小的路径）。
func (s *Store) KnownHashes(ctx context.Context) (map[string]string, error) {
	out := map[string]string{}
	if s == nil || s.db == nil {
		return out, nil
	}
	rows, err := s.db.QueryContext(ctx,
		"SELECT content_hash, MIN(dest_path) FROM photos GROUP BY content_hash")
	if err != nil {
		return nil, fmt.Errorf("读取索引失败：%w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var h, p string
		if err := rows.Scan(&h, &p); err != nil {
			return nil, err
		}
		out[h] = p
	}
	return out, rows.Err()
}

// Record 写入（或覆盖）一条归档记录。
func (s *Store) Record(ctx context.Context, e Entry) error {
	if s == nil || s.db == nil || s.readOnly {
		return ErrReadOnly
	}
	if e.OrigName == "" {
		e.OrigName = filepath.Base(e.SourcePath)
	}
	if e.RecordedAt.IsZero() {
		e.RecordedAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx, `INSERT INTO photos (dest_path, content_hash, source_path, orig_name, capture_time, recorded_at)
VALUES (?, ?, ?, ?, ?, ?)
ON CONFLICT(dest_path) DO UPDATE SET
    content_hash = excluded.content_hash,
    source_path  = excluded.source_path,
    orig_name    = excluded.orig_name,
    capture_time = excluded.capture_time,
    recorded_at  = excluded.recorded_at`,
		e.DestPath, e.ContentHash, e.SourcePath, e.OrigName, e.CaptureTime, e.RecordedAt.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("写入索引失败：%w", err)
	}
	return nil
}

// Entries 返回全部记录，按 dest_path 排序。
func (s *Store) Entries(ctx context.Context) ([]Entry, error) {
	out := make([]Entry, 0)
	if s == nil || s.db == nil {
		return out, nil
	}
	rows, err := s.db.QueryContext(ctx, `SELECT dest_path, content_hash, source_path, orig_name, capture_time, recorded_at
FROM photos ORDER BY dest_path`)
	if err != nil {
		return nil, fmt.Errorf("读取索引失败：%w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			e  Entry
			at string
		)
		if err := rows.Scan(&e.DestPath, &e.ContentHash, &e.SourcePath, &e.OrigName, &e.CaptureTime, &at); err != nil {
			return nil, err
		}
		e.RecordedAt, _ = time.Parse(time.RFC3339Nano, at)
		out = append(out, e)
	}
	return out, rows.Err()
}
