package database

import (
	"database/sql"
	"os"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	_ "github.com/lib/pq"
)

func TestMigrationManager(t *testing.T) {
	// 需要真实的PostgreSQL
	dbURL := os.Getenv("TEST_DB_URL")
	if dbURL == "" {
		t.Skip("Skipping migration test: TEST_DB_URL not set")
	}

	db, err := sql.Open("postgres", dbURL)
	require.NoError(t, err)
	defer db.Close()
	require.NoError(t, db.Ping())

	logger := logrus.New()
	logger.SetLevel(logrus.WarnLevel)

	manager, err := NewMigrationManager(db, "../../migrations", logger)
	require.NoError(t, err)
	defer manager.Close()

	require.NoError(t, manager.Up())

	status, err := manager.Status()
	require.NoError(t, err)
	assert.False(t, status.Dirty)
	assert.False(t, status.Pending)
	assert.Equal(t, SchemaVersion, status.Current)

	tableExists := func(name string) bool {
		var exists bool
		err := db.QueryRow("SELECT EXISTS (SELECT 1 FROM information_schema.tables WHERE table_name = $1)", name).Scan(&exists)
		require.NoError(t, err)
		return exists
	}
	assert.True(t, tableExists("chat_histories"))
	assert.True(t, tableExists("embedded_texts"))

	require.NoError(t, manager.Down())
	version, _, err := manager.Version()
	require.NoError(t, err)
	assert.Equal(t, uint(1), version)
	assert.False(t, tableExists("embedded_texts"))

	status, err = manager.Status()
	require.NoError(t, err)
	assert.True(t, status.Pending)

	require.NoError(t, manager.Goto(SchemaVersion))
	require.NoError(t, manager.Up())
}

func TestNewMigrationManager_BadPath(t *testing.T) {
	dbURL := os.Getenv("TEST_DB_URL")
	if dbURL == "" {
		t.Skip("Skipping migration test: TEST_DB_URL not set")
	}

	db, err := sql.Open("postgres", dbURL)
	require.NoError(t, err)
	defer db.Close()

	_, err = NewMigrationManager(db, "/nonexistent/migrations", logrus.New())
	assert.Error(t, err)
}
