package database

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestDSN(t *testing.T) {
	tests := []struct {
		name string
		cfg  Config
		want string
	}{
		{
			name: "memory",
			cfg:  Config{Path: MemoryPath, BusyTimeout: time.Second},
			want: "file::memory:?_foreign_keys=on",
		},
		{
			name: "file with default busy timeout",
			cfg:  Config{Path: "data/invoices.db"},
			want: "file:data/invoices.db?_busy_timeout=5000&_foreign_keys=on&_journal_mode=WAL",
		},
		{
			name: "file with custom busy timeout",
			cfg:  Config{Path: "/var/lib/app.db", BusyTimeout: 250 * time.Millisecond},
			want: "file:/var/lib/app.db?_busy_timeout=250&_foreign_keys=on&_journal_mode=WAL",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, DSN(tt.cfg))
		})
	}
}

func TestNew_RequiresPath(t *testing.T) {
	_, err := New(Config{}, zap.NewNop())
	assert.Error(t, err)
}

func TestNew_CreatesParentDirectory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "dir", "invoices.db")

	db, err := New(Config{Path: path, MaxOpenConns: 2, MaxIdleConns: 1}, zap.NewNop())
	require.NoError(t, err)
	defer db.Close()

	assert.FileExists(t, path)

	var fk int
	require.NoError(t, db.QueryRow("PRAGMA foreign_keys").Scan(&fk))
	assert.Equal(t, 1, fk)

	var mode string
	require.NoError(t, db.QueryRow("PRAGMA journal_mode").Scan(&mode))
	assert.Equal(t, "wal", mode)
}

func TestNew_MemoryIsSingleConnection(t *testing.T) {
	db := openMemory(t)
	assert.Equal(t, 1, db.Stats().MaxOpenConnections)

	_, err := db.Exec("CREATE TABLE t (id INTEGER)")
	require.NoError(t, err)

	// a second connection would not see the table
	var n int
	require.NoError(t, db.QueryRow("SELECT COUNT(*) FROM t").Scan(&n))
	assert.Equal(t, 0, n)
}
