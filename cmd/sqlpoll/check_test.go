package main

import (
	"bytes"
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/koustreak/sqlpoll/internal/cursor"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCheck_KeepsStoredCursorOnCleanRun(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "poll.db")
	statePath := filepath.Join(dir, "last_run")

	db, err := sql.Open("sqlite3", dbPath)
	require.NoError(t, err)
	_, err = db.Exec("CREATE TABLE items (id INTEGER PRIMARY KEY, name TEXT)")
	require.NoError(t, err)
	require.NoError(t, db.Close())

	require.NoError(t, cursor.NewFileStore(statePath).Write(ctx, cursor.Numeric(1000)))
	before, err := os.ReadFile(statePath)
	require.NoError(t, err)

	cfgPath := filepath.Join(dir, "sqlpoll.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte(fmt.Sprintf(`
connection:
  driver: sqlite3
  dsn: %s
statement:
  text: SELECT id, name FROM items WHERE id > :sql_last_value
tracking:
  mode: by-column
  column: id
state:
  clean_run: true
  path: %s
log:
  level: error
`, dbPath, statePath)), 0o600))

	out := &bytes.Buffer{}
	rootCmd.SetOut(out)
	rootCmd.SetArgs([]string{"check", "--config", cfgPath})
	t.Cleanup(func() {
		rootCmd.SetOut(nil)
		rootCmd.SetArgs(nil)
	})

	require.NoError(t, rootCmd.Execute())
	assert.Contains(t, out.String(), "configuration ok, cursor 1000")

	after, err := os.ReadFile(statePath)
	require.NoError(t, err, "state file must survive check")
	assert.Equal(t, before, after)
}
