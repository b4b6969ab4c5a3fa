package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"

	"github.com/DreamThemeGH/mqtt-history-injector/common/config"
	"github.com/DreamThemeGH/mqtt-history-injector/common/database"

	"go.uber.org/zap"
)

var (
	// ErrStoreUnavailable 无法打开记录器数据库
	ErrStoreUnavailable = errors.New("store unavailable")
	// ErrSchemaMissing 缺少 states 或 state_attributes 表
	ErrSchemaMissing = errors.New("required tables missing")
)

// Opener 打开一个新的数据库连接
type Opener func(ctx context.Context) (*sql.DB, error)

// Store 记录器数据库入口
// 不持有长连接：每条消息通过 Acquire 获取独立的 Session，处理完毕后关闭
type Store struct {
	cfg     config.DatabaseConfig
	dialect Dialect
	open    Opener
	logger  *zap.Logger
}

// NewStore 根据数据库配置创建 Store
func NewStore(cfg config.DatabaseConfig, logger *zap.Logger) (*Store, error) {
	driver, err := cfg.Driver()
	if err != nil {
		return nil, err
	}
	return &Store{
		cfg:     cfg,
		dialect: DialectFor(driver),
		open: func(ctx context.Context) (*sql.DB, error) {
			return database.Open(ctx, &cfg)
		},
		logger: logger,
	}, nil
}

// NewStoreWithOpener 使用自定义连接函数创建 Store（测试使用）
func NewStoreWithOpener(dialect Dialect, open Opener, logger *zap.Logger) *Store {
	return &Store{
		dialect: dialect,
		open:    open,
		logger:  logger,
	}
}

// Dialect 返回数据库方言
func (s *Store) Dialect() Dialect {
	return s.dialect
}

// Acquire 打开一个新连接并返回会话，调用方必须 Close
func (s *Store) Acquire(ctx context.Context) (*Session, error) {
	if s.dialect == SQLite && s.cfg.URL == "" && s.cfg.Path != "" {
		// 不让驱动创建空文件
		if _, err := os.Stat(s.cfg.Path); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
		}
	}

	db, err := s.open(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return NewSession(db, s.dialect, s.logger), nil
}

// Verify 启动时检查数据库可以打开并包含必需的表
func (s *Store) Verify(ctx context.Context) error {
	sess, err := s.Acquire(ctx)
	if err != nil {
		return err
	}
	defer sess.Close()

	if err := sess.VerifySchema(ctx); err != nil {
		return err
	}

	s.logger.Info("Home Assistant database verified",
		zap.String("dialect", s.dialect.String()),
		zap.String("target", s.cfg.Target()),
	)
	return nil
}

// Session 单条消息处理期间使用的数据库会话
type Session struct {
	db         *sql.DB
	dialect    Dialect
	States     *StateRepository
	Attributes *AttributeStore
}

// NewSession 在已打开的连接上创建会话
func NewSession(db *sql.DB, dialect Dialect, logger *zap.Logger) *Session {
	attributes := NewAttributeStore(dialect, logger)
	return &Session{
		db:         db,
		dialect:    dialect,
		States:     NewStateRepository(db, dialect, attributes, logger),
		Attributes: attributes,
	}
}

// VerifySchema 检查 states 和 state_attributes 表是否存在
func (s *Session) VerifySchema(ctx context.Context) error {
	rows, err := s.db.QueryContext(ctx, s.dialect.tablesQuery())
	if err != nil {
		return fmt.Errorf("failed to list tables: %w", err)
	}
	defer rows.Close()

	found := make(map[string]bool)
	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return fmt.Errorf("failed to scan table name: %w", err)
		}
		found[name] = true
		names = append(names, name)
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("failed to list tables: %w", err)
	}

	if !found["states"] || !found["state_attributes"] {
		return fmt.Errorf("%w: found %v", ErrSchemaMissing, names)
	}
	return nil
}

// Ping 检查连接可用
func (s *Session) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close 关闭会话连接
func (s *Session) Close() error {
	return database.Close(s.db)
}
