package onnx

import (
	"github.com/Brownie44l1/doa-infer/internal/model"
	"github.com/pingcap/errors"
	ort "github.com/yalue/onnxruntime_go"
	"go.uber.org/zap"
)

type network struct {
	session     *ort.DynamicAdvancedSession
	inputNames  []string
	inputShapes map[string]model.Shape
	outputNames []string
	logger      *zap.Logger
}

func (n *network) InputNames() []string {
	return append([]string(nil), n.inputNames...)
}

func (n *network) InputShape(name string) (model.Shape, bool) {
	s, ok := n.inputShapes[name]
	return s, ok
}

func (n *network) NewTensor(shape model.Shape) (model.Tensor, error) {
	t, err := ort.NewEmptyTensor[float32](ort.NewShape(shape...))
	if err != nil {
		return nil, errors.Annotate(err, "failed to create tensor")
	}
	return &tensor{t: t}, nil
}

// Execute runs the session. Output tensors are allocated by ONNX Runtime.
func (n *network) Execute(inputs map[string]model.Tensor) (map[string]model.Tensor, error) {
	in := make([]ort.Value, len(n.inputNames))
	for i, name := range n.inputNames {
		t, ok := inputs[name].(*tensor)
		if !ok {
			return nil, errors.Errorf("missing input: %s", name)
		}
		in[i] = t.t
	}

	out := make([]ort.Value, len(n.outputNames))
	if err := n.session.Run(in, out); err != nil {
		n.destroy(out)
		return nil, errors.Annotate(err, "inference failed")
	}

	result := make(map[string]model.Tensor, len(out))
	for i, name := range n.outputNames {
		t, ok := out[i].(*ort.Tensor[float32])
		if !ok {
			n.destroy(out)
			return nil, errors.Errorf("unexpected output type for %s", name)
		}
		result[name] = &tensor{t: t}
	}
	return result, nil
}

func (n *network) destroy(values []ort.Value) {
	for _, v := range values {
		if v == nil {
			continue
		}
		if err := v.Destroy(); err != nil {
			n.logger.Warn("destroy output failed", zap.Error(err))
		}
	}
}

func (n *network) Release() error {
	if n.session == nil {
		return nil
	}
	err := n.session.Destroy()
	n.session = nil
	return errors.Trace(err)
}

// tensor adapts an ONNX Runtime float32 tensor.
type tensor struct {
	t *ort.Tensor[float32]
}

func (t *tensor) Shape() model.Shape {
	return model.Shape(t.t.GetShape())
}

func (t *tensor) Size() int {
	return len(t.t.GetData())
}

func (t *tensor) Write(src []float32, offset int) error {
	data := t.t.GetData()
	if offset < 0 || offset+len(src) > len(data) {
		return errors.Errorf("write of %d values at offset %d exceeds tensor size %d", len(src), offset, len(data))
	}
	copy(data[offset:], src)
	return nil
}

func (t *tensor) Read(dst []float32) int {
	return copy(dst, t.t.GetData())
}

func (t *tensor) Release() error {
	return errors.Trace(t.t.Destroy())
}
