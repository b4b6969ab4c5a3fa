package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/DreamThemeGH/mqtt-history-injector/internal/timestamp"

	"go.uber.org/zap"
)

// PlaceholderState 直接在数据库中创建实体时写入的状态值
const PlaceholderState = "unknown"

// Observation 一条待写入的历史观测
type Observation struct {
	EntityID    string
	State       string
	Instant     time.Time // 调用方提供的时间，同时写入 last_changed 和 last_updated
	SharedAttrs string    // 序列化后的属性，空表示无属性
}

// StateRepository states 表仓库
type StateRepository struct {
	db         *sql.DB
	dialect    Dialect
	attributes *AttributeStore
	logger     *zap.Logger
}

// NewStateRepository 创建状态仓库
func NewStateRepository(db *sql.DB, dialect Dialect, attributes *AttributeStore, logger *zap.Logger) *StateRepository {
	return &StateRepository{
		db:         db,
		dialect:    dialect,
		attributes: attributes,
		logger:     logger,
	}
}

// EntityExists 实体至少有一行状态时视为存在
func (r *StateRepository) EntityExists(ctx context.Context, entityID string) (bool, error) {
	return entityExists(ctx, r.db, r.dialect, entityID)
}

func entityExists(ctx context.Context, q Querier, d Dialect, entityID string) (bool, error) {
	var one int
	err := q.QueryRowContext(ctx,
		d.Rebind(`SELECT 1 FROM states WHERE entity_id = ? LIMIT 1`),
		entityID,
	).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to query states: %w", err)
	}
	return true, nil
}

// AppendObservation 在一个事务中写入状态行并关联属性行
// 任一步失败都会回滚，不留下孤立的状态行
func (r *StateRepository) AppendObservation(ctx context.Context, obs Observation) (int64, error) {
	changed := timestamp.Format(obs.Instant)

	var stateID int64
	err := r.withTx(ctx, func(tx *sql.Tx) error {
		var err error
		stateID, err = r.insertLinked(ctx, tx, obs.EntityID, obs.State, changed, obs.SharedAttrs)
		return err
	})
	if err != nil {
		return 0, err
	}

	r.logger.Debug("Inserted historical state",
		zap.String("entity_id", obs.EntityID),
		zap.Int64("state_id", stateID),
		zap.String("last_changed", changed),
	)
	return stateID, nil
}

// InsertPlaceholder 直接创建实体：写入 "unknown" 状态，时间为 now
// 实体已存在时不写入，返回 false
func (r *StateRepository) InsertPlaceholder(ctx context.Context, entityID, sharedAttrs string, now time.Time) (bool, error) {
	created := false
	err := r.withTx(ctx, func(tx *sql.Tx) error {
		exists, err := entityExists(ctx, tx, r.dialect, entityID)
		if err != nil {
			return err
		}
		if exists {
			return nil
		}
		if _, err := r.insertLinked(ctx, tx, entityID, PlaceholderState, timestamp.Format(now), sharedAttrs); err != nil {
			return err
		}
		created = true
		return nil
	})
	return created, err
}

// insertLinked 插入状态行，再查找或创建属性行并回填 attributes_id
func (r *StateRepository) insertLinked(ctx context.Context, tx *sql.Tx, entityID, state, changed, sharedAttrs string) (int64, error) {
	stateID, err := r.dialect.insertReturningID(ctx, tx,
		`INSERT INTO states (entity_id, state, last_changed, last_updated, old_state_id, attributes_id)
		VALUES (?, ?, ?, ?, NULL, NULL)`,
		"state_id",
		entityID, state, changed, changed,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to insert state: %w", err)
	}

	if sharedAttrs == "" {
		return stateID, nil
	}

	ref, err := r.attributes.Intern(ctx, tx, sharedAttrs)
	if err != nil {
		return 0, err
	}

	if _, err := tx.ExecContext(ctx,
		r.dialect.Rebind(`UPDATE states SET attributes_id = ? WHERE state_id = ?`),
		ref, stateID,
	); err != nil {
		return 0, fmt.Errorf("%w: failed to link attributes: %v", ErrAttributeLink, err)
	}

	return stateID, nil
}

func (r *StateRepository) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			r.logger.Error("Failed to rollback transaction", zap.Error(rbErr))
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}
