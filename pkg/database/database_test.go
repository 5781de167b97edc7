package database

import (
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestDB(t *testing.T) *sql.DB {
	t.Helper()
	cfg := DefaultConfig()
	cfg.DatabasePath = filepath.Join(t.TempDir(), "test.db")
	db, err := sql.Open("sqlite3", cfg.DSN())
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	require.NoError(t, ApplyPragmas(db))
	return db
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{name: "defaults", mutate: func(*Config) {}},
		{name: "empty path", mutate: func(c *Config) { c.DatabasePath = "" }, wantErr: true},
		{name: "zero connections", mutate: func(c *Config) { c.MaxConnections = 0 }, wantErr: true},
		{name: "zero lifetime", mutate: func(c *Config) { c.ConnMaxLifetime = 0 }, wantErr: true},
		{name: "zero idle time", mutate: func(c *Config) { c.ConnMaxIdleTime = 0 }, wantErr: true},
		{name: "negative busy timeout", mutate: func(c *Config) { c.BusyTimeout = -time.Second }, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
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
	cfg.DatabasePath = "/tmp/a.db"
	assert.Equal(t, "/tmp/a.db?_busy_timeout=5000&_journal_mode=WAL&_foreign_keys=on&_txlock=immediate", cfg.DSN())
}

func TestMigrationManager_ApplyMigrations(t *testing.T) {
	db := openTestDB(t)
	m := NewMigrationManager(db)

	require.NoError(t, m.ApplyMigrations())
	require.NoError(t, m.ValidateSchema())

	// Second run is a no-op.
	require.NoError(t, m.ApplyMigrations())

	var count int
	require.NoError(t, db.QueryRow("SELECT COUNT(*) FROM schema_migrations").Scan(&count))
	assert.Equal(t, 2, count)
}

func TestMigrationManager_LoadMigrationsOrdered(t *testing.T) {
	m := NewMigrationManager(nil)
	migrations, err := m.loadMigrations()
	require.NoError(t, err)
	require.Len(t, migrations, 2)
	assert.Equal(t, "001", migrations[0].Version)
	assert.Equal(t, "initial_schema", migrations[0].Description)
	assert.Equal(t, "002", migrations[1].Version)
}

func TestSchemaValidator_EmptyDatabase(t *testing.T) {
	db := openTestDB(t)
	v := NewSchemaValidator(db)
	assert.Error(t, v.ValidateTablesExist())
	assert.Error(t, v.ValidateIndexes())
}

func TestSchema_ActiveUniqueness(t *testing.T) {
	db := openTestDB(t)
	require.NoError(t, NewMigrationManager(db).ApplyMigrations())

	_, err := db.Exec(`
		INSERT INTO accounts (id, email, name, role) VALUES ('t1', 't1@example.com', 'T1', 'presenter');
		INSERT INTO classes (id, name) VALUES ('10-a', '10-A');
		INSERT INTO subjects (id, class_id, name) VALUES ('math', '10-a', 'Math');
		INSERT INTO subjects (id, class_id, name) VALUES ('bio', '10-a', 'Biology');
	`)
	require.NoError(t, err)

	now := time.Now().UTC()
	insert := func(id, subject, code, status string) error {
		_, err := db.Exec(`
			INSERT INTO sessions (id, presenter_id, class_id, subject_id, code, start_time, expires_at, status)
			VALUES (?, 't1', '10-a', ?, ?, ?, ?, ?)`,
			id, subject, code, now, now.Add(time.Minute), status)
		return err
	}

	require.NoError(t, insert("s1", "math", "123456", "active"))

	t.Run("second active session for scope rejected", func(t *testing.T) {
		assert.Error(t, insert("s2", "math", "654321", "active"))
	})

	t.Run("active code reused by other scope rejected", func(t *testing.T) {
		assert.Error(t, insert("s3", "bio", "123456", "active"))
	})

	t.Run("closed sessions free code and scope", func(t *testing.T) {
		_, err := db.Exec(`UPDATE sessions SET status = 'closed' WHERE id = 's1'`)
		require.NoError(t, err)
		assert.NoError(t, insert("s4", "math", "123456", "active"))
	})
}
