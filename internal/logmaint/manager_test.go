package logmaint

import (
	"compress/gzip"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeClock struct {
	now time.Time
}

func (f fakeClock) Now() time.Time { return f.now }

func writeFileWithMtime(t *testing.T, path, content string, mtime time.Time) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	require.NoError(t, os.Chtimes(path, mtime, mtime))
}

func TestCompressOldLogs(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	now := time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)
	old := now.AddDate(0, 0, -10)
	fresh := now.AddDate(0, 0, -1)

	writeFileWithMtime(t, filepath.Join(dir, "app.log.1"), "old log contents\n", old)
	writeFileWithMtime(t, filepath.Join(dir, "app.log"), "fresh log contents\n", fresh)
	writeFileWithMtime(t, filepath.Join(dir, "done.log.gz"), "already compressed", old)

	m := New(Config{Dir: dir, CompressAfterDays: 7}, fakeClock{now: now}, zap.NewNop())
	require.NoError(t, m.CompressOldLogs())

	_, err := os.Stat(filepath.Join(dir, "app.log.1"))
	require.True(t, os.IsNotExist(err), "old log should be removed after compression")

	gz, err := os.Open(filepath.Join(dir, "app.log.1.gz"))
	require.NoError(t, err)
	defer gz.Close()
	r, err := gzip.NewReader(gz)
	require.NoError(t, err)
	data, err := io.ReadAll(r)
	require.NoError(t, err)
	require.Equal(t, "old log contents\n", string(data))

	// Recent logs and existing archives are untouched.
	_, err = os.Stat(filepath.Join(dir, "app.log"))
	require.NoError(t, err)
	_, err = os.Stat(filepath.Join(dir, "app.log.gz"))
	require.True(t, os.IsNotExist(err))
}

func TestAggregateLogsSortsByTimestamp(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	now := time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)
	old := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)

	writeFileWithMtime(t, filepath.Join(dir, "a.log"),
		`{"timestamp":"2026-03-01 10:00:00","msg":"second"}
not json at all
{"timestamp":"2026-03-01 11:00:00","msg":"third"}
`, old)
	writeFileWithMtime(t, filepath.Join(dir, "b.log"),
		`{"timestamp":"2026-03-01 09:00:00","msg":"first"}
`, old)

	m := New(Config{Dir: dir, AggregateAfterDay: 7}, fakeClock{now: now}, zap.NewNop())
	require.NoError(t, m.AggregateLogs())

	out := filepath.Join(dir, "aggregate_2026-03-01.json")
	data, err := os.ReadFile(out)
	require.NoError(t, err)

	var entries []map[string]any
	require.NoError(t, json.Unmarshal(data, &entries))
	require.Len(t, entries, 3)
	require.Equal(t, "first", entries[0]["msg"])
	require.Equal(t, "second", entries[1]["msg"])
	require.Equal(t, "third", entries[2]["msg"])

	_, err = os.Stat(filepath.Join(dir, "a.log"))
	require.True(t, os.IsNotExist(err), "source logs should be removed after aggregation")
	_, err = os.Stat(filepath.Join(dir, "b.log"))
	require.True(t, os.IsNotExist(err))
}

func TestAggregateLogsSkipsRecentAndAggregates(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	now := time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)

	writeFileWithMtime(t, filepath.Join(dir, "recent.log"),
		`{"timestamp":"2026-03-13 10:00:00"}`+"\n", now.AddDate(0, 0, -1))
	writeFileWithMtime(t, filepath.Join(dir, "aggregate_2026-02-01.json"),
		"[]", now.AddDate(0, 0, -30))

	m := New(Config{Dir: dir, AggregateAfterDay: 7}, fakeClock{now: now}, zap.NewNop())
	require.NoError(t, m.AggregateLogs())

	_, err := os.Stat(filepath.Join(dir, "recent.log"))
	require.NoError(t, err, "recent logs should not be aggregated")
	_, err = os.Stat(filepath.Join(dir, "aggregate_2026-02-01.json"))
	require.NoError(t, err, "existing aggregates should not be re-aggregated")
}

func TestCleanup(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	now := time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)
	old := now.AddDate(0, 0, -60)

	writeFileWithMtime(t, filepath.Join(dir, "aggregate_2026-01-10.json"), "[]", old)
	writeFileWithMtime(t, filepath.Join(dir, "aggregate_2026-03-13.json"), "[]", now.AddDate(0, 0, -1))
	writeFileWithMtime(t, filepath.Join(dir, "app.log.1.gz"), "zz", old)

	m := New(Config{Dir: dir}, fakeClock{now: now}, zap.NewNop())
	require.NoError(t, m.CleanupAggregates(30*24*time.Hour))
	require.NoError(t, m.CleanupCompressed(30*24*time.Hour))

	_, err := os.Stat(filepath.Join(dir, "aggregate_2026-01-10.json"))
	require.True(t, os.IsNotExist(err))
	_, err = os.Stat(filepath.Join(dir, "aggregate_2026-03-13.json"))
	require.NoError(t, err)
	_, err = os.Stat(filepath.Join(dir, "app.log.1.gz"))
	require.True(t, os.IsNotExist(err))
}
