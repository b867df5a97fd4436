package experience

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
)

var (
	ErrLength       = errors.New("payload length mismatch")
	ErrTerminalByte = errors.New("terminal byte outside {0,1}")
	ErrActionIndex  = errors.New("action index outside configured action set")
)

// Codec packs a Transition into the fixed big-endian wire layout:
// int32 client id, K float32 start state, uint8 action, float32 reward,
// K float32 end state, terminal byte. K and the action-set size are
// fixed per run; both producer and consumer must agree on them.
type Codec struct {
	stateDims  int
	actionDims int
	size       int
}

func NewCodec(stateDims, actionDims int) (*Codec, error) {
	if stateDims <= 0 {
		return nil, fmt.Errorf("codec: state dims must be > 0, got %d", stateDims)
	}
	if actionDims <= 0 || actionDims > 256 {
		return nil, fmt.Errorf("codec: action dims must be in [1,256], got %d", actionDims)
	}
	return &Codec{
		stateDims:  stateDims,
		actionDims: actionDims,
		size:       4 + 4*stateDims + 1 + 4 + 4*stateDims + 1,
	}, nil
}

// Size returns the exact packet size in bytes for the configured K.
func (c *Codec) Size() int {
	return c.size
}

func (c *Codec) Encode(t *Transition) ([]byte, error) {
	if len(t.StartState) != c.stateDims || len(t.EndState) != c.stateDims {
		return nil, fmt.Errorf("encode: state dims %d/%d, want %d",
			len(t.StartState), len(t.EndState), c.stateDims)
	}
	if int(t.Action) >= c.actionDims {
		return nil, fmt.Errorf("encode: action %d of %d: %w",
			t.Action, c.actionDims, ErrActionIndex)
	}
	buf := make([]byte, c.size)
	off := 0
	binary.BigEndian.PutUint32(buf[off:], uint32(t.ClientID))
	off += 4
	for _, v := range t.StartState {
		binary.BigEndian.PutUint32(buf[off:], math.Float32bits(v))
		off += 4
	}
	buf[off] = t.Action
	off++
	binary.BigEndian.PutUint32(buf[off:], math.Float32bits(t.Reward))
	off += 4
	for _, v := range t.EndState {
		binary.BigEndian.PutUint32(buf[off:], math.Float32bits(v))
		off += 4
	}
	if t.Terminal {
		buf[off] = 1
	}
	return buf, nil
}

func (c *Codec) Decode(buf []byte) (*Transition, error) {
	if len(buf) != c.size {
		return nil, fmt.Errorf("decode: got %d bytes, want %d: %w",
			len(buf), c.size, ErrLength)
	}
	t := &Transition{
		StartState: make([]float32, c.stateDims),
		EndState:   make([]float32, c.stateDims),
	}
	off := 0
	t.ClientID = int32(binary.BigEndian.Uint32(buf[off:]))
	off += 4
	for i := range t.StartState {
		t.StartState[i] = math.Float32frombits(binary.BigEndian.Uint32(buf[off:]))
		off += 4
	}
	t.Action = buf[off]
	off++
	if int(t.Action) >= c.actionDims {
		return nil, fmt.Errorf("decode: action %d of %d: %w",
			t.Action, c.actionDims, ErrActionIndex)
	}
	t.Reward = math.Float32frombits(binary.BigEndian.Uint32(buf[off:]))
	off += 4
	for i := range t.EndState {
		t.EndState[i] = math.Float32frombits(binary.BigEndian.Uint32(buf[off:]))
		off += 4
	}
	switch buf[off] {
	case 0:
	case 1:
		t.Terminal = true
	default:
		return nil, fmt.Errorf("decode: terminal byte %d: %w", buf[off], ErrTerminalByte)
	}
	return t, nil
}
