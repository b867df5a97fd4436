package experience_test

import (
	"errors"
	"testing"

	"plato-learn/experience"
)

func makeTransition(k int) *experience.Transition {
	start := make([]float32, k)
	end := make([]float32, k)
	for i := 0; i < k; i++ {
		start[i] = float32(i) * 0.5
		end[i] = float32(i) * -1.25
	}
	return &experience.Transition{
		ClientID:   7,
		StartState: start,
		Action:     3,
		Reward:     -0.75,
		EndState:   end,
		Terminal:   true,
	}
}

func TestCodecRoundTrip(t *testing.T) {
	codec, err := experience.NewCodec(10, 6)
	if err != nil {
		t.Fatal(err)
	}
	want := makeTransition(10)
	buf, err := codec.Encode(want)
	if err != nil {
		t.Fatal(err)
	}
	if len(buf) != codec.Size() {
		t.Fatalf("encoded %d bytes, want %d", len(buf), codec.Size())
	}
	got, err := codec.Decode(buf)
	if err != nil {
		t.Fatal(err)
	}
	if !got.Equal(want) {
		t.Fatalf("round trip mismatch: got %+v want %+v", got, want)
	}
}

func TestCodecSize(t *testing.T) {
	codec, err := experience.NewCodec(10, 6)
	if err != nil {
		t.Fatal(err)
	}
	// 4 + 4K + 1 + 4 + 4K + 1
	if codec.Size() != 90 {
		t.Fatalf("size for K=10 is %d, want 90", codec.Size())
	}
}

func TestCodecRejectsBadLength(t *testing.T) {
	codec, _ := experience.NewCodec(10, 6)
	buf, err := codec.Encode(makeTransition(10))
	if err != nil {
		t.Fatal(err)
	}
	// Off by 4 bytes, as if produced with K=9
	_, err = codec.Decode(buf[:len(buf)-4])
	if !errors.Is(err, experience.ErrLength) {
		t.Fatalf("expected ErrLength, got %v", err)
	}
}

func TestCodecRejectsBadTerminalByte(t *testing.T) {
	codec, _ := experience.NewCodec(10, 6)
	buf, err := codec.Encode(makeTransition(10))
	if err != nil {
		t.Fatal(err)
	}
	buf[len(buf)-1] = 2
	_, err = codec.Decode(buf)
	if !errors.Is(err, experience.ErrTerminalByte) {
		t.Fatalf("expected ErrTerminalByte, got %v", err)
	}
}

func TestCodecRejectsUnknownAction(t *testing.T) {
	codec, _ := experience.NewCodec(10, 6)
	buf, err := codec.Encode(makeTransition(10))
	if err != nil {
		t.Fatal(err)
	}
	buf[4+4*10] = 6 // first index past the action set
	_, err = codec.Decode(buf)
	if !errors.Is(err, experience.ErrActionIndex) {
		t.Fatalf("expected ErrActionIndex, got %v", err)
	}
}

func TestCodecRejectsWrongDims(t *testing.T) {
	codec, _ := experience.NewCodec(4, 6)
	if _, err := codec.Encode(makeTransition(10)); err == nil {
		t.Fatal("expected error encoding K=10 transition with K=4 codec")
	}
}
