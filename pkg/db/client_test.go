package db

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/keeply/keeply-backend/pkg/config"
	"github.com/keeply/keeply-backend/pkg/logger"
)

type testModel struct {
	ID    int
	Name  string
	Email string `gorm:"uniqueIndex"`
}

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))
	conn, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		SkipDefaultTransaction: true,
	})
	require.NoError(t, err)
	require.NoError(t, conn.AutoMigrate(&testModel{}))
	return conn
}

func TestWithTx_CommitsAndRollbacks(t *testing.T) {
	db := newTestDB(t)
	client := Wrap(db)

	ctx := context.Background()
	require.NoError(t, client.WithTx(ctx, func(tx *gorm.DB) error {
		return tx.Create(&testModel{Name: "committed", Email: "a@keeply.io"}).Error
	}))

	var count int64
	require.NoError(t, db.Model(&testModel{}).Count(&count).Error)
	require.EqualValues(t, 1, count)

	err := client.WithTx(ctx, func(tx *gorm.DB) error {
		if err := tx.Create(&testModel{Name: "rolled", Email: "b@keeply.io"}).Error; err != nil {
			return err
		}
		return errors.New("boom")
	})
	require.Error(t, err)

	require.NoError(t, db.Model(&testModel{}).Count(&count).Error)
	require.EqualValues(t, 1, count, "rollback should leave a single record")
}

func TestWithTxRollsBackOnPanic(t *testing.T) {
	db := newTestDB(t)
	client := Wrap(db)

	require.Panics(t, func() {
		_ = client.WithTx(context.Background(), func(tx *gorm.DB) error {
			require.NoError(t, tx.Create(&testModel{Name: "panicky", Email: "p@keeply.io"}).Error)
			panic("family invariant broken")
		})
	})
	var count int64
	require.NoError(t, db.Model(&testModel{}).Count(&count).Error)
	require.Zero(t, count)
}

func TestNewOpensSqliteAndPings(t *testing.T) {
	client, err := New(context.Background(), config.DBConfig{
		Driver: config.DBDriverSQLite,
		DSN:    "file:client_new?mode=memory&cache=shared",
	}, nil)
	require.NoError(t, err)
	defer client.Close()
	require.NoError(t, client.Ping(context.Background()))

	_, err = New(context.Background(), config.DBConfig{}, nil)
	require.Error(t, err)
}

func TestQueryLoggerReportsSlowStatements(t *testing.T) {
	var buf bytes.Buffer
	logg := logger.New(logger.Options{ServiceName: "db-test", Output: &buf})
	db := newTestDB(t).Session(&gorm.Session{Logger: newQueryLogger(logg, time.Nanosecond)})

	require.NoError(t, db.Create(&testModel{Name: "slow", Email: "s@keeply.io"}).Error)
	require.Contains(t, buf.String(), `"db.slow_query"`)
	require.Contains(t, buf.String(), "test_models")

	buf.Reset()
	quiet := newTestDB(t).Session(&gorm.Session{Logger: newQueryLogger(logg, time.Hour)})
	var found testModel
	require.Error(t, quiet.First(&found, "email = ?", "nobody@keeply.io").Error)
	require.Empty(t, buf.String(), "record-not-found is not worth a line")
}

func TestIsUniqueViolation_Sqlite(t *testing.T) {
	db := newTestDB(t)
	require.NoError(t, db.Create(&testModel{Name: "one", Email: "dup@keeply.io"}).Error)

	err := db.Create(&testModel{Name: "two", Email: "dup@keeply.io"}).Error
	require.Error(t, err)
	require.True(t, IsUniqueViolation(err))
	require.True(t, IsUniqueViolation(err, "test_models.email"))
	require.False(t, IsUniqueViolation(err, "family_members.user_id"))
}

func TestIsUniqueViolation_Postgres(t *testing.T) {
	err := fmt.Errorf("insert member: %w", &pgconn.PgError{Code: "23505", ConstraintName: "uq_family_members_user"})
	require.True(t, IsUniqueViolation(err))
	require.True(t, IsUniqueViolation(err, "uq_family_members_user"))

	other := &pgconn.PgError{Code: "23503", ConstraintName: "fk_family_members_family"}
	require.False(t, IsUniqueViolation(other))
	require.False(t, IsUniqueViolation(nil))
}
