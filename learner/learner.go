package learner

import (
	"context"
	"errors"
	"fmt"
	"math"
	"os"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"gonum.org/v1/gonum/stat"
	G "gorgonia.org/gorgonia"
	"gorgonia.org/tensor"

	"plato-learn/common/bench"
	"plato-learn/experience"
	"plato-learn/metrics"
)

// ErrStepSkipped marks a training step aborted without a weight
// update; the service keeps running.
var ErrStepSkipped = errors.New("training step skipped")

type Config struct {
	StateDims     int
	ActionDims    int
	HiddenDims    int
	BatchSize     int
	Gamma         float64
	LearningRate  float64
	SaveFrequency int
	WeightsFile   string
	UpdateLogFile string
	PollInterval  time.Duration
	RunID         string
}

// Learner owns the value network and optimizer. It cycles between
// waiting for data, drawing a minibatch, applying one optimizer step
// and, every SaveFrequency steps, exporting a snapshot.
type Learner struct {
	cfg    Config
	memory *experience.Memory
	slot   *Slot
	sink   *metrics.Sink
	log    zerolog.Logger

	// trainNet learns the weights; predNet produces the TD target from
	// the same weights, re-synced after every step. There is no
	// separate target network.
	trainNet *QNetwork
	predNet  *QNetwork
	trainVM  G.VM
	solver   G.Solver

	nextStateValues *G.Node
	selectedActions *G.Node
	rewards         *G.Node
	discounts       *G.Node
	lossVal         G.Value

	updates atomic.Int64
}

func New(cfg Config, memory *experience.Memory, slot *Slot, sink *metrics.Sink, logger zerolog.Logger) (*Learner, error) {
	if cfg.BatchSize <= 0 {
		return nil, fmt.Errorf("learner: batch size must be > 0, got %d", cfg.BatchSize)
	}
	if cfg.Gamma < 0 || cfg.Gamma >= 1 {
		return nil, fmt.Errorf("learner: gamma must be in [0,1), got %v", cfg.Gamma)
	}

	trainNet, err := NewQNetwork(cfg.StateDims, cfg.ActionDims, cfg.HiddenDims, cfg.BatchSize)
	if err != nil {
		return nil, err
	}
	predNet, err := NewQNetwork(cfg.StateDims, cfg.ActionDims, cfg.HiddenDims, cfg.BatchSize)
	if err != nil {
		return nil, err
	}
	if err := predNet.CopyFrom(trainNet); err != nil {
		return nil, err
	}

	l := &Learner{
		cfg:      cfg,
		memory:   memory,
		slot:     slot,
		sink:     sink,
		log:      logger.With().Str("component", "learner").Logger(),
		trainNet: trainNet,
		predNet:  predNet,
	}
	if err := l.buildTrainGraph(); err != nil {
		return nil, err
	}
	return l, nil
}

// buildTrainGraph extends the train network's graph with the TD update
// target r + gamma*max[Q(s',a')] and the mean squared TD error.
func (l *Learner) buildTrainGraph() error {
	g := l.trainNet.Graph()
	n, a := l.cfg.BatchSize, l.cfg.ActionDims

	l.nextStateValues = G.NewMatrix(g, tensor.Float64,
		G.WithShape(n, a), G.WithName("nextStateValues"))
	l.rewards = G.NewVector(g, tensor.Float64,
		G.WithShape(n), G.WithName("rewards"))
	l.discounts = G.NewVector(g, tensor.Float64,
		G.WithShape(n), G.WithName("discounts"))
	l.selectedActions = G.NewMatrix(g, tensor.Float64,
		G.WithShape(n, a), G.WithName("selectedActions"))

	updateTarget := G.Must(G.Max(l.nextStateValues, 1))
	updateTarget = G.Must(G.HadamardProd(updateTarget, l.discounts))
	updateTarget = G.Must(G.Add(updateTarget, l.rewards))

	selectedValue := G.Must(G.HadamardProd(l.trainNet.Prediction(), l.selectedActions))
	selectedValue = G.Must(G.Sum(selectedValue, 1))

	losses := G.Must(G.Sub(updateTarget, selectedValue))
	losses = G.Must(G.Square(losses))
	cost := G.Must(G.Mean(losses))
	G.Read(cost, &l.lossVal)

	if _, err := G.Grad(cost, l.trainNet.Learnables()...); err != nil {
		return fmt.Errorf("learner: gradient: %w", err)
	}

	l.trainVM = G.NewTapeMachine(g, G.BindDualValues(l.trainNet.Learnables()...))
	l.solver = G.NewAdamSolver(
		G.WithLearnRate(l.cfg.LearningRate),
		G.WithBatchSize(float64(l.cfg.BatchSize)),
		G.WithClip(1.0),
	)
	return nil
}

// Updates returns the number of completed training steps.
func (l *Learner) Updates() int64 {
	return l.updates.Load()
}

// Restore loads a persisted snapshot from the configured weights file,
// if one exists, and republishes it. A file that fails validation is a
// startup error.
func (l *Learner) Restore() error {
	snap, blob, err := ReadSnapshotFile(l.cfg.WeightsFile)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return err
	}
	if err := snap.Validate(l.cfg.StateDims, l.cfg.ActionDims, l.cfg.HiddenDims); err != nil {
		return fmt.Errorf("restore %s: %w", l.cfg.WeightsFile, err)
	}
	if err := l.trainNet.SetParameters(snap.Layers); err != nil {
		return fmt.Errorf("restore %s: %w", l.cfg.WeightsFile, err)
	}
	if err := l.predNet.CopyFrom(l.trainNet); err != nil {
		return err
	}
	l.updates.Store(snap.Updates)
	l.slot.Publish(&Published{
		Updates:   snap.Updates,
		Blob:      blob,
		CreatedAt: snap.CreatedAt,
	})
	l.log.Info().Int64("updates", snap.Updates).Msg("restored network from snapshot")
	return nil
}

// Run drives the waiting/training/exporting cycle until ctx is
// cancelled. No training error stops the loop.
func (l *Learner) Run(ctx context.Context) error {
	poll := l.cfg.PollInterval
	if poll <= 0 {
		poll = 50 * time.Millisecond
	}
	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}
		if l.memory.Size() < l.cfg.BatchSize {
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(poll):
			}
			continue
		}
		if err := l.Step(); err != nil {
			switch {
			case errors.Is(err, experience.ErrNotReady):
			case errors.Is(err, ErrStepSkipped):
				l.log.Warn().Err(err).Msg("skipped training step")
			default:
				l.log.Error().Err(err).Msg("training step failed")
			}
		}
	}
}

type stepStats struct {
	updates    int64
	loss       float64
	meanReward float64
	meanQ      float64
}

// Step performs one complete training step: sample, TD update,
// metrics, and possibly an export.
func (l *Learner) Step() error {
	var st stepStats
	dur, err := bench.Measure(func() error {
		var serr error
		st, serr = l.trainOnce()
		return serr
	})
	if err != nil {
		return err
	}
	l.sink.LogUpdate(st.updates, st.loss, st.meanReward, st.meanQ, l.memory.Size(), dur)

	if l.cfg.SaveFrequency > 0 && st.updates%int64(l.cfg.SaveFrequency) == 0 {
		if err := l.Export(); err != nil {
			// Training continues in memory; nothing is lost.
			l.log.Error().Err(err).Msg("snapshot export failed")
			l.sink.Log("export_failures", st.updates, 1)
		}
	}
	return nil
}

func (l *Learner) trainOnce() (stepStats, error) {
	batch, err := l.memory.Sample(l.cfg.BatchSize)
	if err != nil {
		return stepStats{}, err
	}

	n, k, a := l.cfg.BatchSize, l.cfg.StateDims, l.cfg.ActionDims
	states := make([]float64, n*k)
	nextStates := make([]float64, n*k)
	oneHot := make([]float64, n*a)
	rewards := make([]float64, n)
	discounts := make([]float64, n)
	for i, tr := range batch {
		if len(tr.StartState) != k || len(tr.EndState) != k || int(tr.Action) >= a {
			return stepStats{}, fmt.Errorf("malformed transition in batch: %w", ErrStepSkipped)
		}
		for j, v := range tr.StartState {
			states[i*k+j] = float64(v)
		}
		for j, v := range tr.EndState {
			nextStates[i*k+j] = float64(v)
		}
		oneHot[i*a+int(tr.Action)] = 1
		rewards[i] = float64(tr.Reward)
		if !tr.Terminal {
			discounts[i] = l.cfg.Gamma
		}
	}

	// Q(s', .) from the current weights; terminal rows are zeroed by
	// their discount.
	nextVals, err := l.predNet.Predict(nextStates)
	if err != nil {
		return stepStats{}, fmt.Errorf("next state values: %v: %w", err, ErrStepSkipped)
	}

	if err := G.Let(l.nextStateValues, tensor.New(tensor.WithShape(n, a), tensor.WithBacking(nextVals))); err != nil {
		return stepStats{}, err
	}
	if err := G.Let(l.selectedActions, tensor.New(tensor.WithShape(n, a), tensor.WithBacking(oneHot))); err != nil {
		return stepStats{}, err
	}
	if err := G.Let(l.rewards, tensor.New(tensor.WithShape(n), tensor.WithBacking(rewards))); err != nil {
		return stepStats{}, err
	}
	if err := G.Let(l.discounts, tensor.New(tensor.WithShape(n), tensor.WithBacking(discounts))); err != nil {
		return stepStats{}, err
	}
	if err := l.trainNet.SetInput(states); err != nil {
		return stepStats{}, err
	}

	if err := l.trainVM.RunAll(); err != nil {
		l.trainVM.Reset()
		return stepStats{}, fmt.Errorf("forward/backward pass: %v: %w", err, ErrStepSkipped)
	}
	loss := l.lossVal.Data().(float64)
	meanQ := stat.Mean(l.trainNet.OutputData(), nil)
	if math.IsNaN(loss) || math.IsInf(loss, 0) {
		l.trainVM.Reset()
		return stepStats{}, fmt.Errorf("non-finite loss %v: %w", loss, ErrStepSkipped)
	}
	if err := l.solver.Step(l.trainNet.Model()); err != nil {
		l.trainVM.Reset()
		return stepStats{}, fmt.Errorf("optimizer: %v: %w", err, ErrStepSkipped)
	}
	l.trainVM.Reset()

	updates := l.updates.Add(1)
	if err := l.predNet.CopyFrom(l.trainNet); err != nil {
		return stepStats{}, fmt.Errorf("sync prediction net: %w", err)
	}

	return stepStats{
		updates:    updates,
		loss:       loss,
		meanReward: stat.Mean(rewards, nil),
		meanQ:      meanQ,
	}, nil
}

// Export serializes the current parameters, publishes them for the
// weight server, and persists them atomically. The in-memory slot is
// updated even when the disk write fails.
func (l *Learner) Export() error {
	snap := &Snapshot{
		FormatVersion: SnapshotFormatVersion,
		RunID:         l.cfg.RunID,
		Updates:       l.updates.Load(),
		StateDims:     l.cfg.StateDims,
		ActionDims:    l.cfg.ActionDims,
		HiddenDims:    l.cfg.HiddenDims,
		Layers:        l.trainNet.Parameters(),
		CreatedAt:     time.Now(),
	}
	blob, err := snap.Encode()
	if err != nil {
		return err
	}
	l.slot.Publish(&Published{
		Updates:   snap.Updates,
		Blob:      blob,
		CreatedAt: snap.CreatedAt,
	})
	if err := WriteSnapshotFile(l.cfg.WeightsFile, blob); err != nil {
		return err
	}
	if err := l.appendUpdateLog(snap.Updates); err != nil {
		return err
	}
	l.log.Info().Int64("updates", snap.Updates).Msg("exported snapshot")
	return nil
}

func (l *Learner) appendUpdateLog(updates int64) error {
	if l.cfg.UpdateLogFile == "" {
		return nil
	}
	f, err := os.OpenFile(l.cfg.UpdateLogFile, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("update log: %w", err)
	}
	defer f.Close()
	if _, err := fmt.Fprintf(f, "%d\n", updates); err != nil {
		return fmt.Errorf("update log: %w", err)
	}
	return nil
}
