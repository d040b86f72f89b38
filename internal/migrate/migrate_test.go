package migrate

import (
	"context"
	"io"
	"log/slog"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/rail-scheduler/internal/db"
)

type fakeDB struct {
	applied map[string]bool
	execs   []string
}

type boolRow bool

func (r boolRow) Scan(dest ...any) error {
	*dest[0].(*bool) = bool(r)
	return nil
}

func (f *fakeDB) Exec(_ context.Context, sql string, args ...any) error {
	f.execs = append(f.execs, sql)
	if strings.HasPrefix(sql, "INSERT INTO schema_migrations") {
		f.applied[args[0].(string)] = true
	}
	return nil
}

func (f *fakeDB) QueryRow(_ context.Context, _ string, args ...any) db.Row {
	return boolRow(f.applied[args[0].(string)])
}

func TestUp_AppliesInOrderOnce(t *testing.T) {
	d := &fakeDB{applied: map[string]bool{}}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	require.NoError(t, Up(context.Background(), d, logger))
	assert.True(t, d.applied["001_users.sql"])
	assert.True(t, d.applied["002_rail_credentials.sql"])

	var creates []string
	for _, sql := range d.execs {
		if strings.Contains(sql, "CREATE TABLE IF NOT EXISTS users") || strings.Contains(sql, "rail_credentials") {
			creates = append(creates, sql)
		}
	}
	require.Len(t, creates, 2)
	assert.Contains(t, creates[0], "users")
	assert.Contains(t, creates[1], "rail_credentials")

	n := len(d.execs)
	require.NoError(t, Up(context.Background(), d, logger))
	assert.Equal(t, n+1, len(d.execs), "second run only ensures the bookkeeping table")
}

func TestFiles_Sorted(t *testing.T) {
	fs, err := files()
	require.NoError(t, err)
	assert.Equal(t, []string{"001_users.sql", "002_rail_credentials.sql"}, fs)
}
