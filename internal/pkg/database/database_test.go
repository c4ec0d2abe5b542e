package database

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"testing/fstest"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lk2023060901/vision-backend/internal/pkg/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

var testMigrations = fstest.MapFS{
	"00001_init.sql": &fstest.MapFile{Data: []byte(`-- +goose Up
CREATE TABLE owners (id INTEGER PRIMARY KEY);
CREATE TABLE items (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    name TEXT NOT NULL UNIQUE,
    owner_id INTEGER NOT NULL REFERENCES owners(id) ON DELETE CASCADE
);

-- +goose Down
DROP TABLE items;
DROP TABLE owners;
`)},
}

type item struct {
	ID      int64
	Name    string
	OwnerID int64
}

func openSQLite(t *testing.T) *DB {
	t.Helper()
	cfg := SQLiteConfig(filepath.Join(t.TempDir(), "test.db"))
	cfg.LogLevel = "silent"

	db, err := New(cfg, logger.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	require.NoError(t, db.Migrate(context.Background(), testMigrations))
	require.NoError(t, db.Exec("INSERT INTO owners (id) VALUES (1)").Error)
	return db
}

func TestConfig_Validate(t *testing.T) {
	valid := func(mod func(c *Config)) *Config {
		c := DefaultConfig()
		mod(c)
		return c
	}

	tests := []struct {
		name    string
		config  *Config
		wantErr bool
	}{
		{"default config", DefaultConfig(), false},
		{"sqlite config", SQLiteConfig("vision.db"), false},
		{"memory ignores the rest", &Config{Driver: DriverMemory}, false},
		{"unknown driver", valid(func(c *Config) { c.Driver = "mysql" }), true},
		{"missing host", valid(func(c *Config) { c.Host = "" }), true},
		{"invalid port", valid(func(c *Config) { c.Port = 0 }), true},
		{"invalid SSL mode", valid(func(c *Config) { c.SSLMode = "invalid" }), true},
		{"invalid log level", valid(func(c *Config) { c.LogLevel = "invalid" }), true},
		{"idle above open", valid(func(c *Config) { c.MaxIdleConns = 200 }), true},
		{"sqlite without path", SQLiteConfig(""), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.config.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestConfig_DSN(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t,
		"host=localhost port=5432 user=postgres password=postgres dbname=vision sslmode=disable TimeZone=UTC",
		cfg.DSN())

	assert.Contains(t, SQLiteConfig("/tmp/v.db").SQLiteDSN(), "_pragma=foreign_keys(1)")
}

func TestNew_RejectsMemoryDriver(t *testing.T) {
	_, err := New(&Config{Driver: DriverMemory}, logger.Nop())
	assert.Error(t, err)
}

func TestMigrate_Idempotent(t *testing.T) {
	db := openSQLite(t)

	require.NoError(t, db.Migrate(context.Background(), testMigrations))
	require.NoError(t, db.HealthCheck(context.Background()))
}

func TestConstraintErrors(t *testing.T) {
	db := openSQLite(t)
	ctx := context.Background()

	require.NoError(t, db.WithContext(ctx).Create(&item{Name: "a", OwnerID: 1}).Error)

	err := db.WithContext(ctx).Create(&item{Name: "a", OwnerID: 1}).Error
	require.Error(t, err)
	assert.True(t, IsDuplicateKeyError(err))
	assert.False(t, IsForeignKeyError(err))

	err = db.WithContext(ctx).Create(&item{Name: "b", OwnerID: 99}).Error
	require.Error(t, err)
	assert.True(t, IsForeignKeyError(err))
	assert.False(t, IsDuplicateKeyError(err))

	var got item
	err = db.WithContext(ctx).Where("name = ?", "missing").First(&got).Error
	assert.True(t, IsRecordNotFoundError(err))
}

func TestPgErrorCodes(t *testing.T) {
	unique := &pgconn.PgError{Code: "23505", ConstraintName: "uq_images_content_hash"}
	assert.True(t, IsDuplicateKeyError(unique))
	assert.Equal(t, "uq_images_content_hash", ConstraintName(unique))
	assert.True(t, IsForeignKeyError(&pgconn.PgError{Code: "23503"}))
	assert.True(t, IsRetryableError(&pgconn.PgError{Code: "40P01"}))
	assert.False(t, IsRetryableError(errors.New("boom")))
	assert.False(t, IsDuplicateKeyError(nil))
	assert.Equal(t, "", ConstraintName(errors.New("boom")))
}

func TestTransaction_RollsBack(t *testing.T) {
	db := openSQLite(t)
	ctx := context.Background()
	boom := errors.New("boom")

	err := db.Transaction(ctx, func(ctx context.Context, tx *gorm.DB) error {
		if err := tx.Create(&item{Name: "rolled", OwnerID: 1}).Error; err != nil {
			return err
		}
		return boom
	})
	assert.ErrorIs(t, err, boom)

	var count int64
	require.NoError(t, db.Model(&item{}).Count(&count).Error)
	assert.Zero(t, count)
}

func TestTransactionWithRetry_StopsOnPermanentError(t *testing.T) {
	db := openSQLite(t)
	calls := 0
	boom := errors.New("boom")

	err := db.TransactionWithRetry(context.Background(), 3, func(ctx context.Context, tx *gorm.DB) error {
		calls++
		return boom
	})
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 1, calls)
}

func TestNormalizePage(t *testing.T) {
	tests := []struct {
		page, size         int
		wantPage, wantSize int
	}{
		{0, 0, 1, DefaultPageSize},
		{3, 10, 3, 10},
		{-1, 1000, 1, MaxPageSize},
	}
	for _, tt := range tests {
		page, size := NormalizePage(tt.page, tt.size)
		assert.Equal(t, tt.wantPage, page)
		assert.Equal(t, tt.wantSize, size)
	}
}

func TestPaginate(t *testing.T) {
	db := openSQLite(t)
	for _, name := range []string{"a", "b", "c", "d", "e"} {
		require.NoError(t, db.Create(&item{Name: name, OwnerID: 1}).Error)
	}

	var page []item
	require.NoError(t, db.Order("id").Scopes(Paginate(2, 2)).Find(&page).Error)
	require.Len(t, page, 2)
	assert.Equal(t, "c", page[0].Name)
	assert.Equal(t, "d", page[1].Name)
}
