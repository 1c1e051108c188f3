package watermark

import (
	"os"
	"path/filepath"
	"testing"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := NewStore(filepath.Join(t.TempDir(), "watermarks"))
	if err != nil {
		t.Fatalf("NewStore failed: %v", err)
	}
	return s
}

func TestReadMissingMeansFullSync(t *testing.T) {
	s := newTestStore(t)

	stamp, ok := s.Read(PullGeo)
	if ok {
		t.Errorf("expected no watermark, got %q", stamp)
	}
	if stamp != "" {
		t.Errorf("expected empty stamp, got %q", stamp)
	}
}

func TestWriteReadRoundTrip(t *testing.T) {
	s := newTestStore(t)

	want := "2024-06-15T10:30:00+00:00"
	if err := s.Write(PullGeo, want); err != nil {
		t.Fatalf("Write failed: %v", err)
	}

	got, ok := s.Read(PullGeo)
	if !ok {
		t.Fatal("expected watermark present")
	}
	if got != want {
		t.Errorf("expected %q, got %q", want, got)
	}
}

func TestDirectionsAreIndependent(t *testing.T) {
	s := newTestStore(t)

	if err := s.Write(PullGeo, "2024-01-01T00:00:00+00:00"); err != nil {
		t.Fatalf("Write failed: %v", err)
	}

	if _, ok := s.Read(PullCMS); ok {
		t.Error("cms watermark should be independent of geo")
	}
}

func TestCorruptWatermarkMeansFullSync(t *testing.T) {
	s := newTestStore(t)

	if err := os.WriteFile(s.path(PullCMS), []byte("yesterday-ish"), 0600); err != nil {
		t.Fatalf("failed to corrupt watermark: %v", err)
	}

	if stamp, ok := s.Read(PullCMS); ok {
		t.Errorf("expected corrupt watermark ignored, got %q", stamp)
	}
}

func TestWriteReplacesExisting(t *testing.T) {
	s := newTestStore(t)

	if err := s.Write(PullGeo, "2024-01-01T00:00:00+00:00"); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	if err := s.Write(PullGeo, "2024-02-01T00:00:00+00:00"); err != nil {
		t.Fatalf("Write failed: %v", err)
	}

	got, ok := s.Read(PullGeo)
	if !ok || got != "2024-02-01T00:00:00+00:00" {
		t.Errorf("expected replaced watermark, got %q (ok=%v)", got, ok)
	}
}
