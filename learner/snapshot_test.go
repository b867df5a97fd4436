package learner

import (
	"path/filepath"
	"sync"
	"testing"
	"time"
)

func testSnapshot(updates int64) *Snapshot {
	return &Snapshot{
		FormatVersion: SnapshotFormatVersion,
		RunID:         "test-run",
		Updates:       updates,
		StateDims:     4,
		ActionDims:    3,
		HiddenDims:    8,
		Layers: []LayerParams{
			{Name: "w0", Shape: []int{4, 8}, Data: make([]float64, 32)},
			{Name: "b0", Shape: []int{1, 8}, Data: make([]float64, 8)},
		},
		CreatedAt: time.Now(),
	}
}

func TestSnapshotRoundTrip(t *testing.T) {
	want := testSnapshot(7)
	blob, err := want.Encode()
	if err != nil {
		t.Fatal(err)
	}
	got, err := DecodeSnapshot(blob)
	if err != nil {
		t.Fatal(err)
	}
	if got.Updates != 7 || got.StateDims != 4 || len(got.Layers) != 2 {
		t.Fatalf("decoded snapshot mismatch: %+v", got)
	}
}

func TestSnapshotRejectsWrongVersion(t *testing.T) {
	s := testSnapshot(1)
	s.FormatVersion = 99
	blob, err := s.Encode()
	if err != nil {
		t.Fatal(err)
	}
	if _, err := DecodeSnapshot(blob); err == nil {
		t.Fatal("expected version error")
	}
}

func TestSnapshotValidate(t *testing.T) {
	s := testSnapshot(1)
	if err := s.Validate(4, 3, 8); err != nil {
		t.Fatal(err)
	}
	if err := s.Validate(5, 3, 8); err == nil {
		t.Fatal("expected dim mismatch error")
	}
}

func TestSnapshotFileRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "weights.snapshot")
	blob, err := testSnapshot(3).Encode()
	if err != nil {
		t.Fatal(err)
	}
	if err := WriteSnapshotFile(path, blob); err != nil {
		t.Fatal(err)
	}
	got, raw, err := ReadSnapshotFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if got.Updates != 3 || len(raw) != len(blob) {
		t.Fatalf("unexpected file contents: updates=%d", got.Updates)
	}
}

// A read racing with exports must always see a fully-formed snapshot.
func TestSnapshotFileConcurrentExportRead(t *testing.T) {
	path := filepath.Join(t.TempDir(), "weights.snapshot")
	first, err := testSnapshot(0).Encode()
	if err != nil {
		t.Fatal(err)
	}
	if err := WriteSnapshotFile(path, first); err != nil {
		t.Fatal(err)
	}

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := 0; i < 200; i++ {
			blob, err := testSnapshot(int64(i)).Encode()
			if err != nil {
				t.Error(err)
				return
			}
			if err := WriteSnapshotFile(path, blob); err != nil {
				t.Error(err)
				return
			}
		}
	}()
	go func() {
		defer wg.Done()
		var last int64 = -1
		for n := 0; n < 200; n++ {
			s, _, err := ReadSnapshotFile(path)
			if err != nil {
				t.Errorf("read during export: %v", err)
				return
			}
			if s.Updates < last {
				t.Errorf("updates went backwards: %d after %d", s.Updates, last)
				return
			}
			last = s.Updates
		}
	}()
	wg.Wait()
}

func TestSlotPublishLatest(t *testing.T) {
	slot := &Slot{}
	if _, ok := slot.Latest(); ok {
		t.Fatal("empty slot should report no snapshot")
	}
	slot.Publish(&Published{Updates: 1, Blob: []byte{1}})
	slot.Publish(&Published{Updates: 2, Blob: []byte{2}})
	p, ok := slot.Latest()
	if !ok || p.Updates != 2 {
		t.Fatalf("latest = %+v, want updates 2", p)
	}
}
