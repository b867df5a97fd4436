package ingest

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync/atomic"

	"github.com/rs/zerolog"

	"plato-learn/common/defaultmap"
	"plato-learn/experience"
	"plato-learn/metrics"
)

// episode accumulates one agent instance's reward and step count until
// a terminal transition flushes it. Only the receive loop touches the
// fields.
type episode struct {
	reward float64
	length int
}

// Server listens for transition datagrams and appends them to replay
// memory. Fire and forget: no acknowledgement, no ordering, no retry.
// Malformed packets are counted and dropped; they never stop the loop.
type Server struct {
	conn     *net.UDPConn
	codec    *experience.Codec
	memory   *experience.Memory
	episodes defaultmap.Defaultmap[int32, *episode]
	sink     *metrics.Sink
	log      zerolog.Logger

	received atomic.Int64
	dropped  atomic.Int64
}

func New(addr string, codec *experience.Codec, memory *experience.Memory, sink *metrics.Sink, logger zerolog.Logger) (*Server, error) {
	udpAddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return nil, fmt.Errorf("ingest: resolve %s: %w", addr, err)
	}
	conn, err := net.ListenUDP("udp", udpAddr)
	if err != nil {
		return nil, fmt.Errorf("ingest: listen %s: %w", addr, err)
	}
	return &Server{
		conn:   conn,
		codec:  codec,
		memory: memory,
		episodes: defaultmap.New[int32](func() *episode {
			return &episode{}
		}),
		sink: sink,
		log:  logger.With().Str("component", "ingest").Logger(),
	}, nil
}

// Addr returns the bound listen address (useful when listening on
// port 0).
func (s *Server) Addr() net.Addr {
	return s.conn.LocalAddr()
}

func (s *Server) Received() int64 {
	return s.received.Load()
}

func (s *Server) Dropped() int64 {
	return s.dropped.Load()
}

// Run receives datagrams until ctx is cancelled. Decode errors are
// logged and dropped; the listener dies only with the context.
func (s *Server) Run(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		s.conn.Close()
	}()
	s.log.Info().Stringer("addr", s.conn.LocalAddr()).Msg("listening for transitions")

	buf := make([]byte, s.codec.Size()+256)
	for {
		n, addr, err := s.conn.ReadFromUDP(buf)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			s.log.Warn().Err(err).Msg("receive error")
			continue
		}
		t, err := s.codec.Decode(buf[:n])
		if err != nil {
			s.dropped.Add(1)
			s.log.Warn().Err(err).Stringer("from", addr).Int("bytes", n).Msg("dropping packet")
			continue
		}
		s.received.Add(1)
		s.memory.Append(t)
		s.track(t)
	}
}

func (s *Server) track(t *experience.Transition) {
	ep := s.episodes.Get(t.ClientID)
	ep.reward += float64(t.Reward)
	ep.length++
	if !t.Terminal {
		return
	}
	if done, ok := s.episodes.Pop(t.ClientID); ok {
		s.sink.LogEpisode(done.length, done.reward)
		s.log.Debug().
			Int32("client", t.ClientID).
			Int("length", done.length).
			Float64("reward", done.reward).
			Msg("episode finished")
	}
}
