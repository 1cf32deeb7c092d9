package model

import (
	"fmt"
	"strings"
)

// Runtime names an execution backend, e.g. "cuda" or "cpu".
type Runtime string

func (r Runtime) String() string {
	return string(r)
}

// Shape holds tensor dimensions, outermost first.
type Shape []int64

// Size returns the number of elements described by s.
func (s Shape) Size() int {
	if len(s) == 0 {
		return 0
	}
	n := int64(1)
	for _, d := range s {
		n *= d
	}
	return int(n)
}

// Static reports whether every dimension is fixed and positive.
func (s Shape) Static() bool {
	if len(s) == 0 {
		return false
	}
	for _, d := range s {
		if d <= 0 {
			return false
		}
	}
	return true
}

func (s Shape) String() string {
	parts := make([]string, len(s))
	for i, d := range s {
		parts[i] = fmt.Sprint(d)
	}
	return "[" + strings.Join(parts, " ") + "]"
}

// Tensor is a float32 buffer that may live in accelerator memory. It must
// be released explicitly.
type Tensor interface {
	Shape() Shape
	// Size is the element count.
	Size() int
	// Write copies src into the tensor starting at element offset.
	Write(src []float32, offset int) error
	// Read copies the tensor contents into dst and returns the number of
	// elements copied.
	Read(dst []float32) int
	Release() error
}

// Network is a model loaded on one backend.
type Network interface {
	InputNames() []string
	// InputShape returns the declared shape of the named input.
	InputShape(name string) (Shape, bool)
	NewTensor(shape Shape) (Tensor, error)
	// Execute runs one forward pass. The returned tensors are owned by the
	// caller. On error no output tensor is left allocated.
	Execute(inputs map[string]Tensor) (map[string]Tensor, error)
	Release() error
}

// Backend is one candidate execution target.
type Backend interface {
	Runtime() Runtime
	// Available reports whether the runtime can be used on this device.
	Available() bool
	// Load builds a network from the serialized model.
	Load(model []byte) (Network, error)
}

// Outputs maps output tensor names to their decoded values.
type Outputs map[string][]float32

// Names returns the output names in no particular order.
func (o Outputs) Names() []string {
	names := make([]string, 0, len(o))
	for name := range o {
		names = append(names, name)
	}
	return names
}

// Argmax returns the index and value of the largest element of the named
// output, or -1 when the output is missing or empty.
func (o Outputs) Argmax(name string) (int, float32) {
	data := o[name]
	if len(data) == 0 {
		return -1, 0
	}
	maxIdx := 0
	maxVal := data[0]
	for i, val := range data {
		if val > maxVal {
			maxVal = val
			maxIdx = i
		}
	}
	return maxIdx, maxVal
}
