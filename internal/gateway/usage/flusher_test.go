package usage

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/rs/zerolog"
	"gorm.io/gorm"
)

func readRows(t *testing.T, path string) []Row {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{})
	if err != nil {
		t.Fatalf("open %s: %v", path, err)
	}
	var rows []Row
	if err := db.Find(&rows).Error; err != nil {
		t.Fatalf("find: %v", err)
	}
	sqlDB, _ := db.DB()
	sqlDB.Close()
	return rows
}

func TestFlusherShutdownWritesExactlyOneFileSummingRequests(t *testing.T) {
	dir := t.TempDir()
	agg := NewAggregator()

	clock := time.Unix(1_700_000_000, 0).UTC()
	clock = clock.Add(-time.Duration(clock.Unix()%3600) * time.Second) // align to hour start

	agg.Record(1, 1, 1, 10, clock.Unix())
	agg.Record(1, 1, 1, 10, clock.Unix()+5)
	agg.Record(1, 1, 1, 10, clock.Unix()+10)

	f := NewFlusher(agg, dir, time.Hour, func() time.Time { return clock }, zerolog.Nop())
	f.Stop()

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("readdir: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected exactly 1 snapshot file, got %d: %v", len(entries), entries)
	}

	rows := readRows(t, filepath.Join(dir, entries[0].Name()))
	var total uint64
	for _, r := range rows {
		total += r.TotalRequests
	}
	if total != 3 {
		t.Fatalf("expected total_requests=3, got %d", total)
	}
}

func TestFlusherRunCycleFlushesOneElapsedHourPerTick(t *testing.T) {
	dir := t.TempDir()
	agg := NewAggregator()

	clock := time.Unix(0, 0).UTC()
	agg.Record(1, 1, 1, 10, 0)
	agg.Record(1, 1, 1, 10, 3600)
	agg.Record(1, 1, 1, 10, 7200)

	f := NewFlusher(agg, dir, time.Minute, func() time.Time { return clock }, zerolog.Nop())

	clock = clock.Add(3 * time.Hour)
	f.runCycle()

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("readdir: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected exactly 1 file written per tick, got %d", len(entries))
	}
}

func TestFlusherUpsertAddsAcrossWrites(t *testing.T) {
	dir := t.TempDir()
	agg := NewAggregator()
	clock := time.Unix(0, 0).UTC()
	f := NewFlusher(agg, dir, time.Hour, func() time.Time { return clock }, zerolog.Nop())

	agg.Record(1, 1, 1, 10, 0)
	entries := agg.DrainHour(0)
	if err := f.write(0, entries); err != nil {
		t.Fatalf("first write: %v", err)
	}

	agg.Record(1, 1, 1, 20, 0)
	entries = agg.DrainHour(0)
	if err := f.write(0, entries); err != nil {
		t.Fatalf("second write: %v", err)
	}

	files, _ := os.ReadDir(dir)
	rows := readRows(t, filepath.Join(dir, files[0].Name()))
	if len(rows) != 1 {
		t.Fatalf("expected 1 merged row, got %d", len(rows))
	}
	if rows[0].TotalRequests != 2 {
		t.Fatalf("expected total_requests=2 after merge, got %d", rows[0].TotalRequests)
	}
}
