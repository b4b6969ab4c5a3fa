package repository

import (
	"context"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestAttributeStore_InternReusesIdenticalContent(t *testing.T) {
	store, _ := newTestStore(t)
	sess := acquire(t, store)
	ctx := context.Background()

	first, err := sess.Attributes.Intern(ctx, sess.db, `{"unit_of_measurement":"°C"}`)
	require.NoError(t, err)
	require.True(t, first.Valid)

	second, err := sess.Attributes.Intern(ctx, sess.db, `{"unit_of_measurement":"°C"}`)
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, 1, countRows(t, sess, "state_attributes"))
}

func TestAttributeStore_InternDistinguishesKeyOrder(t *testing.T) {
	store, _ := newTestStore(t)
	sess := acquire(t, store)
	ctx := context.Background()

	a, err := sess.Attributes.Intern(ctx, sess.db, `{"a":1,"b":2}`)
	require.NoError(t, err)
	b, err := sess.Attributes.Intern(ctx, sess.db, `{"b":2,"a":1}`)
	require.NoError(t, err)

	// 按字节比较，键顺序不同视为不同内容
	assert.NotEqual(t, a.Int64, b.Int64)
	assert.Equal(t, 2, countRows(t, sess, "state_attributes"))
}

func TestAttributeStore_InternEmptyCreatesNothing(t *testing.T) {
	store, _ := newTestStore(t)
	sess := acquire(t, store)

	ref, err := sess.Attributes.Intern(context.Background(), sess.db, "")
	require.NoError(t, err)

	assert.False(t, ref.Valid)
	assert.Equal(t, 0, countRows(t, sess, "state_attributes"))
}

func TestAttributeStore_InternQueryError(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	attrs := NewAttributeStore(SQLite, zap.NewNop())

	mock.ExpectQuery(`SELECT attributes_id FROM state_attributes`).
		WithArgs(`{"a":1}`).
		WillReturnError(errors.New("disk I/O error"))

	_, err = attrs.Intern(context.Background(), db, `{"a":1}`)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrAttributeLink))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAttributeStore_InternPostgresReturning(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	attrs := NewAttributeStore(Postgres, zap.NewNop())

	mock.ExpectQuery(`SELECT attributes_id FROM state_attributes WHERE shared_attrs = \$1`).
		WithArgs(`{"a":1}`).
		WillReturnRows(sqlmock.NewRows([]string{"attributes_id"}))
	mock.ExpectQuery(`INSERT INTO state_attributes \(shared_attrs\) VALUES \(\$1\) RETURNING attributes_id`).
		WithArgs(`{"a":1}`).
		WillReturnRows(sqlmock.NewRows([]string{"attributes_id"}).AddRow(42))

	ref, err := attrs.Intern(context.Background(), db, `{"a":1}`)
	require.NoError(t, err)
	assert.Equal(t, int64(42), ref.Int64)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAttributeStore_InternMySQLComparesBinary(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	defer db.Close()

	attrs := NewAttributeStore(MySQL, zap.NewNop())

	// 仅大小写不同的内容不能命中已有行
	mock.ExpectQuery(`WHERE CAST\(shared_attrs AS BINARY\) = CAST\(\? AS BINARY\) LIMIT 1`).
		WithArgs(`{"mode":"auto"}`).
		WillReturnRows(sqlmock.NewRows([]string{"attributes_id"}))
	mock.ExpectExec(`INSERT INTO state_attributes \(shared_attrs\) VALUES \(\?\)`).
		WithArgs(`{"mode":"auto"}`).
		WillReturnResult(sqlmock.NewResult(7, 1))

	ref, err := attrs.Intern(context.Background(), db, `{"mode":"auto"}`)
	require.NoError(t, err)
	assert.Equal(t, int64(7), ref.Int64)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDialect_AttributesLookupQuery(t *testing.T) {
	assert.Contains(t, SQLite.attributesLookupQuery(), "WHERE shared_attrs = ? LIMIT 1")
	assert.Contains(t, Postgres.attributesLookupQuery(), "WHERE shared_attrs = $1 LIMIT 1")
	assert.Contains(t, MySQL.attributesLookupQuery(), "CAST(shared_attrs AS BINARY) = CAST(? AS BINARY)")
}
