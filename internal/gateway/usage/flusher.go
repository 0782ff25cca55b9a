package usage

import (
	"fmt"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/rs/zerolog"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Row is the persisted shape of one usage snapshot row.
type Row struct {
	AccountID     int64   `gorm:"primaryKey;column:account_id"`
	KeyID         int64   `gorm:"primaryKey;column:key_id"`
	PlanID        int64   `gorm:"primaryKey;column:plan_id"`
	DateTime      int64   `gorm:"primaryKey;column:date_time"`
	TotalRequests uint64  `gorm:"column:total_requests"`
	TotalDataMB   float64 `gorm:"column:total_data_mb"`
}

// TableName pins the GORM model to the contract's table name.
func (Row) TableName() string { return "usage" }

const bytesPerMB = 1 << 20

// Mirror is an optional best-effort sink a flushed hour's totals are also
// written to (e.g. a Redis mirror for live dashboards). A nil Mirror is a
// documented no-op.
type Mirror interface {
	MirrorHour(hourTS int64, entries map[Key]Record) error
}

// Flusher periodically drains the aggregator's closed hours to timestamped
// SQLite snapshot files, and performs a best-effort drain-all on shutdown.
type Flusher struct {
	agg      *Aggregator
	dir      string
	interval time.Duration
	now      func() time.Time
	log      zerolog.Logger
	mirror   Mirror

	lastFlushedHour int64

	stopped uint32
	stop    chan struct{}
	wg      sync.WaitGroup

	onWriteError  func(err error)
	onRowsWritten func(n int)
}

// NewFlusher builds a Flusher rooted at dir, ticking every interval. now
// defaults to time.Now.
func NewFlusher(agg *Aggregator, dir string, interval time.Duration, now func() time.Time, log zerolog.Logger) *Flusher {
	if now == nil {
		now = time.Now
	}
	nowSecs := now().Unix()
	return &Flusher{
		agg:             agg,
		dir:             dir,
		interval:        interval,
		now:             now,
		log:             log.With().Str("component", "usage_flusher").Logger(),
		lastFlushedHour: nowSecs - (nowSecs % 3600),
		stop:            make(chan struct{}),
	}
}

// SetMirror installs an optional live-mirror sink.
func (f *Flusher) SetMirror(m Mirror) { f.mirror = m }

// OnWriteError registers a telemetry hook for persistence failures.
func (f *Flusher) OnWriteError(fn func(err error)) { f.onWriteError = fn }

// OnRowsWritten registers a telemetry hook invoked with the row count of
// every successful write.
func (f *Flusher) OnRowsWritten(fn func(n int)) { f.onRowsWritten = fn }

// Start launches the periodic flush loop.
func (f *Flusher) Start() {
	f.wg.Add(1)
	go f.loop()
}

// Stop signals the loop to exit, then performs the shutdown drain-all path:
// every remaining entry is grouped by hour and written out, best-effort.
func (f *Flusher) Stop() {
	if !atomic.CompareAndSwapUint32(&f.stopped, 0, 1) {
		return
	}
	close(f.stop)
	f.wg.Wait()
	f.drainAllAndWrite()
}

func (f *Flusher) loop() {
	defer f.wg.Done()
	ticker := time.NewTicker(f.interval)
	defer ticker.Stop()

	for {
		select {
		case <-f.stop:
			return
		case <-ticker.C:
			f.runCycle()
		}
	}
}

// runCycle flushes exactly one elapsed hour per tick, even across coalesced
// ticks: if more than one hour has elapsed, later ticks catch up one at a
// time.
func (f *Flusher) runCycle() {
	nowSecs := f.now().Unix()
	currentHour := nowSecs - (nowSecs % 3600)
	if currentHour <= f.lastFlushedHour {
		return
	}

	hourToFlush := f.lastFlushedHour
	entries := f.agg.DrainHour(hourToFlush)
	if len(entries) > 0 {
		if err := f.write(hourToFlush, entries); err != nil {
			f.log.Error().Err(err).Int64("hour", hourToFlush).Msg("usage flush failed")
			if f.onWriteError != nil {
				f.onWriteError(err)
			}
		}
	}
	f.lastFlushedHour = hourToFlush + 3600
}

func (f *Flusher) drainAllAndWrite() {
	grouped := GroupByHour(f.agg.DrainAll())
	for hourTS, entries := range grouped {
		if err := f.write(hourTS, entries); err != nil {
			f.log.Error().Err(err).Int64("hour", hourTS).Msg("shutdown usage flush failed")
			if f.onWriteError != nil {
				f.onWriteError(err)
			}
		}
	}
}

func (f *Flusher) filePath(hourTS int64) string {
	t := time.Unix(hourTS, 0).UTC()
	return filepath.Join(f.dir, fmt.Sprintf("usage-%s.db", t.Format("2006010215")))
}

// write opens the hour's snapshot file, ensures the schema, and merges each
// drained entry with an upsert that adds to any pre-existing row.
func (f *Flusher) write(hourTS int64, entries map[Key]Record) error {
	path := f.filePath(hourTS)
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		return fmt.Errorf("open usage snapshot %s: %w", path, err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	defer sqlDB.Close()

	if err := db.AutoMigrate(&Row{}); err != nil {
		return fmt.Errorf("migrate usage snapshot %s: %w", path, err)
	}

	for k, v := range entries {
		mb := float64(v.TotalBytes) / bytesPerMB
		row := Row{
			AccountID:     k.AccountID,
			KeyID:         k.KeyID,
			PlanID:        k.PlanID,
			DateTime:      k.MinuteTS,
			TotalRequests: v.TotalRequests,
			TotalDataMB:   mb,
		}
		sql := `INSERT INTO usage (account_id, key_id, plan_id, date_time, total_requests, total_data_mb)
			VALUES (?, ?, ?, ?, ?, ?)
			ON CONFLICT(account_id, key_id, plan_id, date_time) DO UPDATE SET
				total_requests = total_requests + excluded.total_requests,
				total_data_mb = total_data_mb + excluded.total_data_mb`
		if err := db.Exec(sql, row.AccountID, row.KeyID, row.PlanID, row.DateTime, row.TotalRequests, row.TotalDataMB).Error; err != nil {
			return fmt.Errorf("upsert usage row: %w", err)
		}
	}

	if f.onRowsWritten != nil {
		f.onRowsWritten(len(entries))
	}
	if f.mirror != nil {
		if err := f.mirror.MirrorHour(hourTS, entries); err != nil {
			f.log.Warn().Err(err).Int64("hour", hourTS).Msg("usage mirror write failed; snapshot file unaffected")
		}
	}
	return nil
}
