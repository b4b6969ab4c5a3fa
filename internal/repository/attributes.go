package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"go.uber.org/zap"
)

// ErrAttributeLink 属性行查找、创建或关联失败
var ErrAttributeLink = errors.New("attribute link error")

// AttributeStore state_attributes 表，按 shared_attrs 字节内容去重
// 已存在的行从不修改或删除
type AttributeStore struct {
	dialect Dialect
	logger  *zap.Logger
}

// NewAttributeStore 创建属性仓库
func NewAttributeStore(dialect Dialect, logger *zap.Logger) *AttributeStore {
	return &AttributeStore{
		dialect: dialect,
		logger:  logger,
	}
}

// Intern 返回与 sharedAttrs 内容完全一致的属性行ID，不存在时插入一行
// sharedAttrs 为空时不创建任何行，返回无效的 NullInt64
// 查找和插入应在调用方的事务中执行
func (s *AttributeStore) Intern(ctx context.Context, q Querier, sharedAttrs string) (sql.NullInt64, error) {
	if sharedAttrs == "" {
		return sql.NullInt64{}, nil
	}

	var id int64
	err := q.QueryRowContext(ctx, s.dialect.attributesLookupQuery(), sharedAttrs).Scan(&id)
	switch {
	case err == nil:
		return sql.NullInt64{Int64: id, Valid: true}, nil
	case !errors.Is(err, sql.ErrNoRows):
		return sql.NullInt64{}, fmt.Errorf("%w: failed to query state_attributes: %v", ErrAttributeLink, err)
	}

	id, err = s.dialect.insertReturningID(ctx, q,
		`INSERT INTO state_attributes (shared_attrs) VALUES (?)`,
		"attributes_id",
		sharedAttrs,
	)
	if err != nil {
		return sql.NullInt64{}, fmt.Errorf("%w: failed to insert state_attributes: %v", ErrAttributeLink, err)
	}

	s.logger.Debug("Created state attributes row", zap.Int64("attributes_id", id))
	return sql.NullInt64{Int64: id, Valid: true}, nil
}
