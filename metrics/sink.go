package metrics

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"gonum.org/v1/gonum/stat"

	"plato-learn/common/safemap"
)

const rewardWindow = 100

// Sink appends scalar time series, keyed by training step, to one CSV
// file per series. Append-only; nothing in the service reads it back.
type Sink struct {
	dir    string
	series safemap.Safemap[string, *seriesFile]
	openMu sync.Mutex
	log    zerolog.Logger

	epMu          sync.Mutex
	episodeCount  int64
	recentRewards []float64
}

type seriesFile struct {
	mu sync.Mutex
	f  *os.File
}

func NewSink(dir string, logger zerolog.Logger) (*Sink, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("sink: create %s: %w", dir, err)
	}
	return &Sink{
		dir:    dir,
		series: safemap.New[string, *seriesFile](),
		log:    logger.With().Str("component", "metrics").Logger(),
	}, nil
}

// Log appends one (step, value) point to the named series. A write
// failure is logged and dropped; metrics must never stop the service.
func (s *Sink) Log(name string, step int64, value float64) {
	sf, err := s.open(name)
	if err != nil {
		s.log.Warn().Err(err).Str("series", name).Msg("dropping metric point")
		return
	}
	sf.mu.Lock()
	_, err = fmt.Fprintf(sf.f, "%d,%g\n", step, value)
	sf.mu.Unlock()
	if err != nil {
		s.log.Warn().Err(err).Str("series", name).Msg("dropping metric point")
	}
}

// LogUpdate records the per-training-step series.
func (s *Sink) LogUpdate(step int64, loss, avgReward, avgQ float64, bufferSize int, stepTime time.Duration) {
	s.Log("loss", step, loss)
	s.Log("batch_reward", step, avgReward)
	s.Log("batch_q", step, avgQ)
	s.Log("buffer_size", step, float64(bufferSize))
	s.Log("step_seconds", step, stepTime.Seconds())
}

// LogEpisode records one finished episode and a running mean of the
// last episode rewards.
func (s *Sink) LogEpisode(length int, reward float64) {
	s.epMu.Lock()
	s.episodeCount++
	ep := s.episodeCount
	s.recentRewards = append(s.recentRewards, reward)
	if len(s.recentRewards) > rewardWindow {
		s.recentRewards = s.recentRewards[len(s.recentRewards)-rewardWindow:]
	}
	mean := stat.Mean(s.recentRewards, nil)
	s.epMu.Unlock()

	s.Log("episode_reward", ep, reward)
	s.Log("episode_length", ep, float64(length))
	s.Log("episode_reward_mean", ep, mean)
}

func (s *Sink) open(name string) (*seriesFile, error) {
	if sf, ok := s.series.Get(name); ok {
		return sf, nil
	}
	s.openMu.Lock()
	defer s.openMu.Unlock()
	if sf, ok := s.series.Get(name); ok {
		return sf, nil
	}
	f, err := os.OpenFile(filepath.Join(s.dir, name+".csv"),
		os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, err
	}
	sf := &seriesFile{f: f}
	s.series.Set(name, sf)
	return sf, nil
}

func (s *Sink) Close() {
	for _, name := range s.series.Keys() {
		if sf, ok := s.series.Get(name); ok {
			sf.mu.Lock()
			sf.f.Close()
			sf.mu.Unlock()
		}
	}
}
