package weights

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"plato-learn/experience"
	"plato-learn/learner"
)

// UpdatesHeader carries the snapshot's update counter so a client can
// decide whether to discard its current policy.
const UpdatesHeader = "X-Model-Updates"

// Server publishes the most recently completed policy snapshot over
// HTTP. It only ever reads the snapshot slot, so it can never stall an
// export.
type Server struct {
	slot   *learner.Slot
	memory *experience.Memory
	srv    *http.Server
	log    zerolog.Logger
}

func New(addr string, slot *learner.Slot, memory *experience.Memory, logger zerolog.Logger) *Server {
	s := &Server{
		slot:   slot,
		memory: memory,
		log:    logger.With().Str("component", "weights").Logger(),
	}
	s.srv = &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/weights", s.handleWeights)
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	mux.HandleFunc("/stats", s.handleStats)
	return mux
}

func (s *Server) handleWeights(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	p, ok := s.slot.Latest()
	if !ok {
		http.Error(w, "no snapshot exported yet", http.StatusServiceUnavailable)
		return
	}
	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("Content-Length", strconv.Itoa(len(p.Blob)))
	w.Header().Set(UpdatesHeader, strconv.FormatInt(p.Updates, 10))
	w.Header().Set("Cache-Control", "no-cache, no-store, must-revalidate")
	if _, err := w.Write(p.Blob); err != nil {
		s.log.Debug().Err(err).Msg("client dropped during snapshot download")
	}
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var updates int64
	if p, ok := s.slot.Latest(); ok {
		updates = p.Updates
	}
	payload := map[string]any{
		"updates":         updates,
		"buffer_size":     s.memory.Size(),
		"buffer_capacity": s.memory.Capacity(),
	}
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		w.WriteHeader(http.StatusInternalServerError)
	}
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.srv.Shutdown(shutdownCtx)
	}()
	s.log.Info().Str("addr", s.srv.Addr).Msg("serving snapshots")
	if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
