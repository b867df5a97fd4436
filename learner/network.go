package learner

import (
	"fmt"

	G "gorgonia.org/gorgonia"
	"gorgonia.org/tensor"
)

// qlayer is one fully connected layer: x*W + b, optionally rectified.
type qlayer struct {
	weights *G.Node
	bias    *G.Node
	relu    bool
}

// QNetwork is the value-estimation network: a fixed two-hidden-layer
// MLP mapping a batch of K-dimensional states to per-action values.
type QNetwork struct {
	g          *G.ExprGraph
	layers     []*qlayer
	input      *G.Node
	prediction *G.Node
	predVal    G.Value

	stateDims  int
	actionDims int
	hiddenDims int
	batchSize  int

	learnables G.Nodes
	model      []G.ValueGrad
	vm         G.VM
}

func NewQNetwork(stateDims, actionDims, hiddenDims, batchSize int) (*QNetwork, error) {
	if stateDims <= 0 || actionDims <= 0 || hiddenDims <= 0 || batchSize <= 0 {
		return nil, fmt.Errorf("qnetwork: dims must be > 0 (state=%d action=%d hidden=%d batch=%d)",
			stateDims, actionDims, hiddenDims, batchSize)
	}

	g := G.NewGraph()
	input := G.NewMatrix(g, tensor.Float64,
		G.WithShape(batchSize, stateDims),
		G.WithName("states"),
		G.WithInit(G.Zeroes()),
	)

	q := &QNetwork{
		g:          g,
		input:      input,
		stateDims:  stateDims,
		actionDims: actionDims,
		hiddenDims: hiddenDims,
		batchSize:  batchSize,
	}

	sizes := [][2]int{
		{stateDims, hiddenDims},
		{hiddenDims, hiddenDims},
		{hiddenDims, actionDims},
	}
	for i, s := range sizes {
		w := G.NewMatrix(g, tensor.Float64,
			G.WithShape(s[0], s[1]),
			G.WithName(fmt.Sprintf("w%d", i)),
			G.WithInit(G.GlorotN(1.0)),
		)
		b := G.NewMatrix(g, tensor.Float64,
			G.WithShape(1, s[1]),
			G.WithName(fmt.Sprintf("b%d", i)),
			G.WithInit(G.Zeroes()),
		)
		q.layers = append(q.layers, &qlayer{weights: w, bias: b, relu: i < len(sizes)-1})
	}

	if err := q.fwd(); err != nil {
		return nil, err
	}
	return q, nil
}

// fwd adds the forward pass to the graph and registers the prediction
// read-out.
func (q *QNetwork) fwd() error {
	x := q.input
	var err error
	for i, l := range q.layers {
		if x, err = G.Mul(x, l.weights); err != nil {
			return fmt.Errorf("fwd: layer %d weights: %w", i, err)
		}
		// Broadcast the bias weights along the batch dimension
		if x, err = G.BroadcastAdd(x, l.bias, nil, []byte{0}); err != nil {
			return fmt.Errorf("fwd: layer %d bias: %w", i, err)
		}
		if l.relu {
			if x, err = G.Rectify(x); err != nil {
				return fmt.Errorf("fwd: layer %d activation: %w", i, err)
			}
		}
	}
	q.prediction = x
	G.Read(q.prediction, &q.predVal)
	return nil
}

func (q *QNetwork) Graph() *G.ExprGraph {
	return q.g
}

// Prediction returns the graph node holding the per-action values.
func (q *QNetwork) Prediction() *G.Node {
	return q.prediction
}

// SetInput binds a flattened (batch x K) state matrix to the input node.
func (q *QNetwork) SetInput(states []float64) error {
	if len(states) != q.batchSize*q.stateDims {
		return fmt.Errorf("setinput: want %d values, have %d",
			q.batchSize*q.stateDims, len(states))
	}
	t := tensor.New(
		tensor.WithShape(q.batchSize, q.stateDims),
		tensor.WithBacking(states),
	)
	return G.Let(q.input, t)
}

// Predict runs the forward pass on its own VM and returns a copy of
// the (batch x actions) value matrix, flattened row-major.
func (q *QNetwork) Predict(states []float64) ([]float64, error) {
	if q.vm == nil {
		q.vm = G.NewTapeMachine(q.g)
	}
	if err := q.SetInput(states); err != nil {
		return nil, err
	}
	if err := q.vm.RunAll(); err != nil {
		q.vm.Reset()
		return nil, fmt.Errorf("predict: %w", err)
	}
	out := q.predVal.Data().([]float64)
	res := make([]float64, len(out))
	copy(res, out)
	q.vm.Reset()
	return res, nil
}

// OutputData returns a copy of the values produced by the most recent
// forward pass.
func (q *QNetwork) OutputData() []float64 {
	if q.predVal == nil {
		return nil
	}
	out := q.predVal.Data().([]float64)
	res := make([]float64, len(out))
	copy(res, out)
	return res
}

func (q *QNetwork) Learnables() G.Nodes {
	if q.learnables == nil {
		for _, l := range q.layers {
			q.learnables = append(q.learnables, l.weights, l.bias)
		}
	}
	return q.learnables
}

func (q *QNetwork) Model() []G.ValueGrad {
	if q.model == nil {
		for _, n := range q.Learnables() {
			q.model = append(q.model, n)
		}
	}
	return q.model
}

// CopyFrom sets this network's weights equal to src's.
func (q *QNetwork) CopyFrom(src *QNetwork) error {
	srcNodes := src.Learnables()
	dstNodes := q.Learnables()
	if len(srcNodes) != len(dstNodes) {
		return fmt.Errorf("copyfrom: %d learnables, want %d", len(srcNodes), len(dstNodes))
	}
	for i, dst := range dstNodes {
		clone := srcNodes[i].Clone()
		if err := G.Let(dst, clone.(*G.Node).Value()); err != nil {
			return fmt.Errorf("copyfrom: %s: %w", dst.Name(), err)
		}
	}
	return nil
}

// Parameters extracts a deep copy of all layer parameters in learnable
// order.
func (q *QNetwork) Parameters() []LayerParams {
	params := make([]LayerParams, 0, len(q.Learnables()))
	for _, n := range q.Learnables() {
		dense := n.Value().(*tensor.Dense)
		data := dense.Data().([]float64)
		cp := make([]float64, len(data))
		copy(cp, data)
		params = append(params, LayerParams{
			Name:  n.Name(),
			Shape: append([]int{}, dense.Shape()...),
			Data:  cp,
		})
	}
	return params
}

// SetParameters loads previously extracted parameters. Layer order,
// names and shapes must match exactly; a mismatch is an error, never a
// best-effort partial load.
func (q *QNetwork) SetParameters(params []LayerParams) error {
	learn := q.Learnables()
	if len(params) != len(learn) {
		return fmt.Errorf("setparameters: %d layers, want %d", len(params), len(learn))
	}
	for i, n := range learn {
		p := params[i]
		if p.Name != n.Name() {
			return fmt.Errorf("setparameters: layer %d is %q, want %q", i, p.Name, n.Name())
		}
		shape := n.Shape()
		if len(p.Shape) != len(shape) {
			return fmt.Errorf("setparameters: %s rank %d, want %d", p.Name, len(p.Shape), len(shape))
		}
		elems := 1
		for j, d := range p.Shape {
			if d != shape[j] {
				return fmt.Errorf("setparameters: %s shape %v, want %v", p.Name, p.Shape, shape)
			}
			elems *= d
		}
		if len(p.Data) != elems {
			return fmt.Errorf("setparameters: %s has %d values for shape %v", p.Name, len(p.Data), p.Shape)
		}
		data := make([]float64, len(p.Data))
		copy(data, p.Data)
		t := tensor.New(tensor.WithShape(p.Shape...), tensor.WithBacking(data))
		if err := G.Let(n, t); err != nil {
			return fmt.Errorf("setparameters: %s: %w", p.Name, err)
		}
	}
	return nil
}
