package metrics

import (
	"testing"
	"time"
)

func TestMinuteBucketGroupsBy60Seconds(t *testing.T) {
	s := NewSink(nil)
	t0 := time.Unix(59, 0)
	t1 := time.Unix(60, 0)

	s.RecordAt("k", 200, t0)
	s.RecordAt("k", 200, t1)

	snap := s.Snapshot("k")
	if snap[0][200] != 1 {
		t.Fatalf("expected 1 at minute 0, got %d", snap[0][200])
	}
	if snap[1][200] != 1 {
		t.Fatalf("expected 1 at minute 1, got %d", snap[1][200])
	}
}

func TestRecordAndSnapshotCounts(t *testing.T) {
	s := NewSink(nil)
	t0 := time.Unix(5, 0)
	t1 := time.Unix(65, 0)

	s.RecordAt("k", 200, t0)
	s.RecordAt("k", 429, t0)
	s.RecordAt("k", 200, t1)

	snap := s.Snapshot("k")
	if snap[0][200] != 1 || snap[0][429] != 1 {
		t.Fatalf("unexpected minute 0 counts: %+v", snap[0])
	}
	if snap[1][200] != 1 {
		t.Fatalf("unexpected minute 1 counts: %+v", snap[1])
	}
}

func TestSnapshotUnknownKeyIsEmpty(t *testing.T) {
	s := NewSink(nil)
	snap := s.Snapshot("missing")
	if len(snap) != 0 {
		t.Fatalf("expected empty snapshot, got %+v", snap)
	}
}

func TestMissingKeySentinelRecorded(t *testing.T) {
	s := NewSink(nil)
	s.RecordAt(MissingKeySentinel, 401, time.Unix(0, 0))
	snap := s.Snapshot(MissingKeySentinel)
	if snap[0][401] != 1 {
		t.Fatalf("expected sentinel snapshot to record 401, got %+v", snap)
	}
}
