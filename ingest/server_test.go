package ingest_test

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"plato-learn/experience"
	"plato-learn/ingest"
	"plato-learn/metrics"
)

func startServer(t *testing.T, k, actions int) (*ingest.Server, *experience.Memory, *net.UDPConn) {
	t.Helper()
	codec, err := experience.NewCodec(k, actions)
	if err != nil {
		t.Fatal(err)
	}
	mem, err := experience.NewMemory(1024)
	if err != nil {
		t.Fatal(err)
	}
	sink, err := metrics.NewSink(t.TempDir(), zerolog.Nop())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(sink.Close)

	srv, err := ingest.New("127.0.0.1:0", codec, mem, sink, zerolog.Nop())
	if err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go func() { _ = srv.Run(ctx) }()

	conn, err := net.DialUDP("udp", nil, srv.Addr().(*net.UDPAddr))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { conn.Close() })
	return srv, mem, conn
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not reached before deadline")
}

func TestIngestAppendsValidPackets(t *testing.T) {
	_, mem, conn := startServer(t, 10, 4)
	codec, _ := experience.NewCodec(10, 4)

	for i := 0; i < 50; i++ {
		tr := &experience.Transition{
			ClientID:   int32(i),
			StartState: make([]float32, 10),
			Action:     uint8(i % 4),
			Reward:     1,
			EndState:   make([]float32, 10),
		}
		buf, err := codec.Encode(tr)
		if err != nil {
			t.Fatal(err)
		}
		if _, err := conn.Write(buf); err != nil {
			t.Fatal(err)
		}
	}

	waitFor(t, func() bool { return mem.Size() == 50 })
}

func TestIngestDropsMalformedPacket(t *testing.T) {
	srv, mem, conn := startServer(t, 10, 4)
	codec, _ := experience.NewCodec(10, 4)

	good := &experience.Transition{
		StartState: make([]float32, 10),
		EndState:   make([]float32, 10),
	}
	buf, err := codec.Encode(good)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := conn.Write(buf); err != nil {
		t.Fatal(err)
	}
	waitFor(t, func() bool { return mem.Size() == 1 })

	// Payload off by 4 bytes must be dropped and counted
	if _, err := conn.Write(buf[:len(buf)-4]); err != nil {
		t.Fatal(err)
	}
	waitFor(t, func() bool { return srv.Dropped() == 1 })
	if mem.Size() != 1 {
		t.Fatalf("memory size changed after malformed packet: %d", mem.Size())
	}

	// The listener must survive and keep accepting
	if _, err := conn.Write(buf); err != nil {
		t.Fatal(err)
	}
	waitFor(t, func() bool { return mem.Size() == 2 })
}

func TestIngestFlushesEpisodeOnTerminal(t *testing.T) {
	srv, mem, conn := startServer(t, 4, 2)
	codec, _ := experience.NewCodec(4, 2)

	for i := 0; i < 3; i++ {
		tr := &experience.Transition{
			ClientID:   9,
			StartState: make([]float32, 4),
			Reward:     2,
			EndState:   make([]float32, 4),
			Terminal:   i == 2,
		}
		buf, err := codec.Encode(tr)
		if err != nil {
			t.Fatal(err)
		}
		if _, err := conn.Write(buf); err != nil {
			t.Fatal(err)
		}
	}

	waitFor(t, func() bool { return mem.Size() == 3 })
	if srv.Received() != 3 {
		t.Fatalf("received = %d, want 3", srv.Received())
	}
}
