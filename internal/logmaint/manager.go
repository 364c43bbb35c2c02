// Package logmaint rotates service log files: old logs are gzip
// compressed, JSON-line logs are aggregated into daily summaries, and
// stale artifacts are removed.
package logmaint

import (
	"compress/gzip"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/webman-dev/webman/internal/analyzer"
)

// Config controls the maintenance cutoffs.
type Config struct {
	Dir               string
	CompressAfterDays int
	AggregateAfterDay int
}

// Manager performs log maintenance over a single directory.
type Manager struct {
	cfg    Config
	clock  analyzer.Clock
	logger *zap.Logger
}

// New creates a Manager for the configured log directory.
func New(cfg Config, clock analyzer.Clock, logger *zap.Logger) *Manager {
	if cfg.CompressAfterDays <= 0 {
		cfg.CompressAfterDays = 7
	}
	if cfg.AggregateAfterDay <= 0 {
		cfg.AggregateAfterDay = 7
	}
	return &Manager{cfg: cfg, clock: clock, logger: logger}
}

// Run executes one full maintenance pass.
func (m *Manager) Run() error {
	if err := m.CompressOldLogs(); err != nil {
		return err
	}
	if err := m.AggregateLogs(); err != nil {
		return err
	}
	return nil
}

func (m *Manager) logFiles() ([]string, error) {
	entries, err := os.ReadDir(m.cfg.Dir)
	if err != nil {
		return nil, fmt.Errorf("read log dir: %w", err)
	}
	files := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		files = append(files, filepath.Join(m.cfg.Dir, e.Name()))
	}
	return files, nil
}

// CompressOldLogs gzips log files whose modification time is older than
// the configured cutoff and removes the originals.
func (m *Manager) CompressOldLogs() error {
	cutoff := m.clock.Now().AddDate(0, 0, -m.cfg.CompressAfterDays)

	files, err := m.logFiles()
	if err != nil {
		return err
	}
	for _, path := range files {
		if strings.HasSuffix(path, ".gz") {
			continue
		}
		info, err := os.Stat(path)
		if err != nil {
			m.logger.Error("stat log file", zap.String("file", path), zap.Error(err))
			continue
		}
		if !info.ModTime().Before(cutoff) {
			continue
		}
		if err := compressFile(path); err != nil {
			m.logger.Error("compress log file", zap.String("file", path), zap.Error(err))
			continue
		}
		if err := os.Remove(path); err != nil {
			m.logger.Error("remove compressed original", zap.String("file", path), zap.Error(err))
			continue
		}
		m.logger.Info("compressed log file", zap.String("file", path))
	}
	return nil
}

func compressFile(path string) error {
	src, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open %s: %w", path, err)
	}
	defer src.Close()

	dst, err := os.Create(path + ".gz")
	if err != nil {
		return fmt.Errorf("create %s.gz: %w", path, err)
	}
	defer dst.Close()

	gz := gzip.NewWriter(dst)
	if _, err := io.Copy(gz, src); err != nil {
		return fmt.Errorf("compress %s: %w", path, err)
	}
	if err := gz.Close(); err != nil {
		return fmt.Errorf("finish %s.gz: %w", path, err)
	}
	return nil
}

// AggregateLogs combines old JSON-line log files into one
// aggregate_YYYY-MM-DD.json per day and removes the originals.
func (m *Manager) AggregateLogs() error {
	groups, err := m.groupLogsByDate()
	if err != nil {
		return err
	}
	for date, files := range groups {
		if err := m.aggregateGroup(date, files); err != nil {
			m.logger.Error("aggregate logs", zap.String("date", date), zap.Error(err))
			continue
		}
		m.logger.Info("aggregated logs", zap.String("date", date), zap.Int("files", len(files)))
	}
	return nil
}

func (m *Manager) groupLogsByDate() (map[string][]string, error) {
	cutoff := m.clock.Now().AddDate(0, 0, -m.cfg.AggregateAfterDay)

	files, err := m.logFiles()
	if err != nil {
		return nil, err
	}
	groups := make(map[string][]string)
	for _, path := range files {
		if strings.HasSuffix(path, ".gz") {
			continue
		}
		base := filepath.Base(path)
		if strings.HasPrefix(base, "aggregate_") {
			continue
		}
		info, err := os.Stat(path)
		if err != nil {
			m.logger.Error("stat log file", zap.String("file", path), zap.Error(err))
			continue
		}
		if !info.ModTime().Before(cutoff) {
			continue
		}
		key := info.ModTime().Format("2006-01-02")
		groups[key] = append(groups[key], path)
	}
	return groups, nil
}

func (m *Manager) aggregateGroup(date string, files []string) error {
	entries := combineEntries(files)

	out := filepath.Join(m.cfg.Dir, fmt.Sprintf("aggregate_%s.json", date))
	data, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return fmt.Errorf("encode aggregate: %w", err)
	}
	if err := os.WriteFile(out, data, 0o644); err != nil {
		return fmt.Errorf("write aggregate: %w", err)
	}
	for _, f := range files {
		if err := os.Remove(f); err != nil {
			return fmt.Errorf("remove %s: %w", f, err)
		}
	}
	return nil
}

// combineEntries parses each file as JSON lines, skipping malformed
// lines, and returns the entries sorted by their timestamp field.
func combineEntries(files []string) []map[string]any {
	entries := make([]map[string]any, 0)
	for _, f := range files {
		data, err := os.ReadFile(f)
		if err != nil {
			continue
		}
		for _, line := range strings.Split(string(data), "\n") {
			line = strings.TrimSpace(line)
			if line == "" {
				continue
			}
			var entry map[string]any
			if err := json.Unmarshal([]byte(line), &entry); err != nil {
				continue
			}
			entries = append(entries, entry)
		}
	}
	sort.SliceStable(entries, func(i, j int) bool {
		return entryTimestamp(entries[i]) < entryTimestamp(entries[j])
	})
	return entries
}

func entryTimestamp(entry map[string]any) string {
	ts, _ := entry["timestamp"].(string)
	return ts
}

// CleanupAggregates removes aggregate files older than the given age.
func (m *Manager) CleanupAggregates(olderThan time.Duration) error {
	return m.removeOlderThan("aggregate_*.json", olderThan)
}

// CleanupCompressed removes gzipped log files older than the given age.
func (m *Manager) CleanupCompressed(olderThan time.Duration) error {
	return m.removeOlderThan("*.gz", olderThan)
}

func (m *Manager) removeOlderThan(pattern string, olderThan time.Duration) error {
	cutoff := m.clock.Now().Add(-olderThan)

	matches, err := filepath.Glob(filepath.Join(m.cfg.Dir, pattern))
	if err != nil {
		return fmt.Errorf("glob %s: %w", pattern, err)
	}
	for _, path := range matches {
		info, err := os.Stat(path)
		if err != nil {
			m.logger.Error("stat log file", zap.String("file", path), zap.Error(err))
			continue
		}
		if !info.ModTime().Before(cutoff) {
			continue
		}
		if err := os.Remove(path); err != nil {
			m.logger.Error("remove log file", zap.String("file", path), zap.Error(err))
			continue
		}
		m.logger.Info("removed log file", zap.String("file", path))
	}
	return nil
}
