package learner

import (
	"bytes"
	"encoding/gob"
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"
)

// SnapshotFormatVersion is the parameter-interchange contract version.
// Loading refuses any other version.
const SnapshotFormatVersion = 1

// LayerParams is one named parameter tensor of the value network.
type LayerParams struct {
	Name  string
	Shape []int
	Data  []float64
}

// Snapshot is a versioned export of trained network parameters.
type Snapshot struct {
	FormatVersion int
	RunID         string
	Updates       int64
	StateDims     int
	ActionDims    int
	HiddenDims    int
	Layers        []LayerParams
	CreatedAt     time.Time
}

func (s *Snapshot) Encode() ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(s); err != nil {
		return nil, fmt.Errorf("snapshot: encode: %w", err)
	}
	return buf.Bytes(), nil
}

func DecodeSnapshot(blob []byte) (*Snapshot, error) {
	s := &Snapshot{}
	if err := gob.NewDecoder(bytes.NewReader(blob)).Decode(s); err != nil {
		return nil, fmt.Errorf("snapshot: decode: %w", err)
	}
	if s.FormatVersion != SnapshotFormatVersion {
		return nil, fmt.Errorf("snapshot: format version %d, want %d",
			s.FormatVersion, SnapshotFormatVersion)
	}
	return s, nil
}

// Validate checks the snapshot against the configured network shape.
// Any mismatch fails; there is no best-effort repair.
func (s *Snapshot) Validate(stateDims, actionDims, hiddenDims int) error {
	if s.StateDims != stateDims || s.ActionDims != actionDims || s.HiddenDims != hiddenDims {
		return fmt.Errorf("snapshot: dims (s=%d a=%d h=%d), configured (s=%d a=%d h=%d)",
			s.StateDims, s.ActionDims, s.HiddenDims, stateDims, actionDims, hiddenDims)
	}
	if len(s.Layers) == 0 {
		return fmt.Errorf("snapshot: no layers")
	}
	return nil
}

// Published is the unit handed from the learner to the weight server.
type Published struct {
	Updates   int64
	Blob      []byte
	CreatedAt time.Time
}

// Slot holds the most recently completed export. Swaps are atomic;
// a reader sees either the previous or the new snapshot, never a torn
// one.
type Slot struct {
	p atomic.Pointer[Published]
}

func (s *Slot) Publish(p *Published) {
	s.p.Store(p)
}

func (s *Slot) Latest() (*Published, bool) {
	p := s.p.Load()
	return p, p != nil
}

// WriteSnapshotFile persists a snapshot blob with write-to-temp and
// rename, so a concurrent reader of path never sees a partial write.
func WriteSnapshotFile(path string, blob []byte) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("snapshot: create %s: %w", dir, err)
		}
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, blob, 0o644); err != nil {
		return fmt.Errorf("snapshot: write %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("snapshot: replace %s: %w", path, err)
	}
	return nil
}

// ReadSnapshotFile loads and decodes a persisted snapshot, returning
// the raw blob alongside for republishing.
func ReadSnapshotFile(path string) (*Snapshot, []byte, error) {
	blob, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, err
	}
	s, err := DecodeSnapshot(blob)
	if err != nil {
		return nil, nil, fmt.Errorf("snapshot: %s: %w", path, err)
	}
	return s, blob, nil
}
