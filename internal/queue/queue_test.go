package queue

import (
	"os"
	"path/filepath"
	"testing"
)

type testRecord struct {
	Warrant string `json:"civil_warrant"`
	Seq     int    `json:"seq"`
}

func newTestQueue(t *testing.T) *FileQueue[testRecord] {
	t.Helper()
	q, err := New[testRecord](filepath.Join(t.TempDir(), "queued"))
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	return q
}

func TestEnqueueEmptyWritesNothing(t *testing.T) {
	q := newTestQueue(t)

	if err := q.Enqueue("2024-01-02T03:04:05+00:00", nil); err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}

	names, err := q.Pending()
	if err != nil {
		t.Fatalf("Pending failed: %v", err)
	}
	if len(names) != 0 {
		t.Errorf("expected no batch files, got %v", names)
	}
}

func TestEnqueueReadRoundTrip(t *testing.T) {
	q := newTestQueue(t)
	records := []testRecord{
		{Warrant: "CW-100", Seq: 1},
		{Warrant: "CW-101", Seq: 2},
		{Warrant: "CW-102", Seq: 3},
	}

	if err := q.Enqueue("2024-01-02T03:04:05+00:00", records); err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}

	got, err := q.Read("2024-01-02T03:04:05+00:00")
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	if len(got) != len(records) {
		t.Fatalf("expected %d records, got %d", len(records), len(got))
	}
	for i := range records {
		if got[i] != records[i] {
			t.Errorf("record %d: expected %+v, got %+v", i, records[i], got[i])
		}
	}
}

func TestPendingSortsFIFO(t *testing.T) {
	q := newTestQueue(t)
	stamps := []string{
		"2024-03-01T00:00:00+00:00",
		"2024-01-01T00:00:00+00:00",
		"2024-02-01T00:00:00+00:00",
	}
	for i, stamp := range stamps {
		if err := q.Enqueue(stamp, []testRecord{{Seq: i}}); err != nil {
			t.Fatalf("Enqueue failed: %v", err)
		}
	}

	names, err := q.Pending()
	if err != nil {
		t.Fatalf("Pending failed: %v", err)
	}
	want := []string{
		"2024-01-01T00:00:00+00:00",
		"2024-02-01T00:00:00+00:00",
		"2024-03-01T00:00:00+00:00",
	}
	if len(names) != len(want) {
		t.Fatalf("expected %d batches, got %d", len(want), len(names))
	}
	for i := range want {
		if names[i] != want[i] {
			t.Errorf("batch %d: expected %s, got %s", i, want[i], names[i])
		}
	}
}

func TestPendingSkipsTempFiles(t *testing.T) {
	q := newTestQueue(t)
	if err := q.Enqueue("2024-01-01T00:00:00+00:00", []testRecord{{Seq: 1}}); err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}
	tmp := filepath.Join(q.Dir(), "2024-01-02T00:00:00+00:00.tmp")
	if err := os.WriteFile(tmp, []byte("partial"), 0600); err != nil {
		t.Fatalf("failed to plant temp file: %v", err)
	}

	names, err := q.Pending()
	if err != nil {
		t.Fatalf("Pending failed: %v", err)
	}
	if len(names) != 1 || names[0] != "2024-01-01T00:00:00+00:00" {
		t.Errorf("expected only the real batch, got %v", names)
	}
}

func TestRequeueKeepsOnlyFailures(t *testing.T) {
	q := newTestQueue(t)
	stamp := "2024-01-01T00:00:00+00:00"
	if err := q.Enqueue(stamp, []testRecord{{Seq: 1}, {Seq: 2}, {Seq: 3}}); err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}

	if err := q.Requeue(stamp, []testRecord{{Seq: 2}}); err != nil {
		t.Fatalf("Requeue failed: %v", err)
	}

	got, err := q.Read(stamp)
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	if len(got) != 1 || got[0].Seq != 2 {
		t.Errorf("expected only the failing record, got %+v", got)
	}
}

func TestRequeueEmptyRemovesBatch(t *testing.T) {
	q := newTestQueue(t)
	stamp := "2024-01-01T00:00:00+00:00"
	if err := q.Enqueue(stamp, []testRecord{{Seq: 1}}); err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}

	if err := q.Requeue(stamp, nil); err != nil {
		t.Fatalf("Requeue failed: %v", err)
	}

	names, err := q.Pending()
	if err != nil {
		t.Fatalf("Pending failed: %v", err)
	}
	if len(names) != 0 {
		t.Errorf("expected batch removed, got %v", names)
	}

	// Removing an already-removed batch is fine.
	if err := q.Requeue(stamp, nil); err != nil {
		t.Errorf("second Requeue failed: %v", err)
	}
}

func TestReadSkipsBlankLines(t *testing.T) {
	q := newTestQueue(t)
	stamp := "2024-01-01T00:00:00+00:00"
	content := `{"civil_warrant":"CW-1","seq":1}

{"civil_warrant":"CW-2","seq":2}
`
	if err := os.WriteFile(filepath.Join(q.Dir(), stamp), []byte(content), 0600); err != nil {
		t.Fatalf("failed to write batch: %v", err)
	}

	got, err := q.Read(stamp)
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	if len(got) != 2 {
		t.Errorf("expected 2 records, got %d", len(got))
	}
}

func TestReadRejectsCorruptRecord(t *testing.T) {
	q := newTestQueue(t)
	stamp := "2024-01-01T00:00:00+00:00"
	if err := os.WriteFile(filepath.Join(q.Dir(), stamp), []byte("{not json}\n"), 0600); err != nil {
		t.Fatalf("failed to write batch: %v", err)
	}

	if _, err := q.Read(stamp); err == nil {
		t.Error("expected error for corrupt record")
	}
}
