package index

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
)

//go:embed schema.sql
var schemaSQL string

// schemaVersion 变化时旧索引需要删除后重建（apply 会重新记录）。
const schemaVersion = 1

var ErrSchemaMismatch = errors.New("index: schema version mismatch")

// initSchema 在新库上建表；已有库只校验版本。
// create=false（只读）时，未初始化的库视为空库，返回 empty=true。
func (s *Store) initSchema(ctx context.Context, create bool) (empty bool, err error) {
	var tableExists int
	err = s.db.QueryRowContext(ctx,
		"SELECT COUNT(1) FROM sqlite_master WHERE type='table' AND name='schema_version'",
	).Scan(&tableExists)
	if err != nil {
		return false, fmt.Errorf("检查 schema_version 失败：%w", err)
	}

	if tableExists == 0 {
		if !create {
			return true, nil
		}
		return false, s.createSchema(ctx)
	}

	var version int
	if err := s.db.QueryRowContext(ctx, "SELECT version FROM schema_version LIMIT 1").Scan(&version); err != nil {
		return false, fmt.Errorf("读取 schema 版本失败：%w", err)
	}
	if version != schemaVersion {
		return false, fmt.Errorf("%w：索引版本 %d，期望 %d（请删除 %s 后重新 apply）",
			ErrSchemaMismatch, version, schemaVersion, s.path)
	}
	return false, nil
}

func (s *Store) createSchema(ctx context.Context) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("开始建表事务失败：%w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, schemaSQL); err != nil {
		return fmt.Errorf("建表失败：%w", err)
	}
	if _, err := tx.ExecContext(ctx, "INSERT INTO schema_version (version) VALUES (?)", schemaVersion); err != nil {
		return fmt.Errorf("写入 schema 版本失败：%w", err)
	}
	return tx.Commit()
}
