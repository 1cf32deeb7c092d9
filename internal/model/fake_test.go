package model

import (
	"github.com/pingcap/errors"
	"go.uber.org/atomic"
)

// fakeBackend is an instrumented in-memory backend. Every tensor it hands
// out is counted in live until released.
type fakeBackend struct {
	runtime   Runtime
	available bool
	loadErr   error

	inputs  map[string]Shape
	outputs map[string]Shape
	// order of inputs as reported by InputNames
	inputOrder []string

	execErr    error
	releaseErr error

	live     *atomic.Int64
	loads    int
	networks []*fakeNetwork
}

func newFakeBackend(rt Runtime, available bool) *fakeBackend {
	return &fakeBackend{
		runtime:    rt,
		available:  available,
		inputs:     map[string]Shape{"input": {4}},
		inputOrder: []string{"input"},
		outputs:    map[string]Shape{"doa": {2}},
		live:       atomic.NewInt64(0),
	}
}

func (b *fakeBackend) Runtime() Runtime { return b.runtime }

func (b *fakeBackend) Available() bool { return b.available }

func (b *fakeBackend) Load(model []byte) (Network, error) {
	b.loads++
	if b.loadErr != nil {
		return nil, b.loadErr
	}
	n := &fakeNetwork{backend: b, model: model}
	b.networks = append(b.networks, n)
	return n, nil
}

type fakeNetwork struct {
	backend  *fakeBackend
	model    []byte
	released int
	// executed holds the input values seen by each Execute call.
	executed [][]float32
}

func (n *fakeNetwork) InputNames() []string {
	return append([]string(nil), n.backend.inputOrder...)
}

func (n *fakeNetwork) InputShape(name string) (Shape, bool) {
	s, ok := n.backend.inputs[name]
	return s, ok
}

func (n *fakeNetwork) NewTensor(shape Shape) (Tensor, error) {
	n.backend.live.Inc()
	return &fakeTensor{shape: shape, data: make([]float32, shape.Size()), backend: n.backend}, nil
}

func (n *fakeNetwork) Execute(inputs map[string]Tensor) (map[string]Tensor, error) {
	for _, t := range inputs {
		n.executed = append(n.executed, append([]float32(nil), t.(*fakeTensor).data...))
	}
	if n.backend.execErr != nil {
		return nil, n.backend.execErr
	}
	out := make(map[string]Tensor, len(n.backend.outputs))
	for name, shape := range n.backend.outputs {
		t, _ := n.NewTensor(shape)
		ft := t.(*fakeTensor)
		for i := range ft.data {
			ft.data[i] = float32(i) + 0.5
		}
		out[name] = t
	}
	return out, nil
}

func (n *fakeNetwork) Release() error {
	n.released++
	return nil
}

type fakeTensor struct {
	shape    Shape
	data     []float32
	backend  *fakeBackend
	released int
}

func (t *fakeTensor) Shape() Shape { return t.shape }

func (t *fakeTensor) Size() int { return len(t.data) }

func (t *fakeTensor) Write(src []float32, offset int) error {
	if offset < 0 || offset+len(src) > len(t.data) {
		return errors.Errorf("write of %d values at %d overflows %d", len(src), offset, len(t.data))
	}
	copy(t.data[offset:], src)
	return nil
}

func (t *fakeTensor) Read(dst []float32) int {
	return copy(dst, t.data)
}

func (t *fakeTensor) Release() error {
	t.released++
	t.backend.live.Dec()
	return t.backend.releaseErr
}
