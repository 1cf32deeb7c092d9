// Package onnx runs networks on ONNX Runtime. Each runtime maps to one
// ONNX Runtime execution provider; "cpu" uses the default provider.
package onnx

import (
	"strconv"
	"strings"
	"sync"

	"github.com/Brownie44l1/doa-infer/internal/model"
	"github.com/pingcap/errors"
	ort "github.com/yalue/onnxruntime_go"
	"go.uber.org/zap"
)

// Supported runtimes.
const (
	TensorRT model.Runtime = "tensorrt"
	CUDA     model.Runtime = "cuda"
	CoreML   model.Runtime = "coreml"
	DirectML model.Runtime = "directml"
	OpenVINO model.Runtime = "openvino"
	CPU      model.Runtime = "cpu"
)

// Runtimes lists every supported runtime, fastest first.
var Runtimes = []model.Runtime{TensorRT, CUDA, CoreML, DirectML, OpenVINO, CPU}

// ParseRuntime resolves a runtime name. Matching is case-insensitive and
// "gpu" is accepted as an alias for cuda.
func ParseRuntime(name string) (model.Runtime, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	if name == "gpu" {
		return CUDA, nil
	}
	for _, rt := range Runtimes {
		if string(rt) == name {
			return rt, nil
		}
	}
	return "", errors.Errorf("unknown runtime %q, expected one of %v", name, Runtimes)
}

var envMu sync.Mutex

// InitEnvironment loads the ONNX Runtime shared library and initializes the
// process-wide environment. An empty libraryPath keeps the library default.
func InitEnvironment(libraryPath string) error {
	envMu.Lock()
	defer envMu.Unlock()
	if ort.IsInitialized() {
		return nil
	}
	if libraryPath != "" {
		ort.SetSharedLibraryPath(libraryPath)
	}
	if err := ort.InitializeEnvironment(); err != nil {
		return errors.Annotate(err, "failed to initialize ONNX environment")
	}
	return nil
}

// DestroyEnvironment tears down the environment set up by InitEnvironment.
func DestroyEnvironment() error {
	envMu.Lock()
	defer envMu.Unlock()
	if !ort.IsInitialized() {
		return nil
	}
	return errors.Trace(ort.DestroyEnvironment())
}

// Options tune execution providers.
type Options struct {
	// DeviceID selects the accelerator for cuda, tensorrt and directml.
	DeviceID int
	// OpenVINODevice is the OpenVINO device_type, e.g. "CPU", "GPU" or "NPU".
	OpenVINODevice string
	Logger         *zap.Logger
}

// Backend implements model.Backend for one runtime.
type Backend struct {
	runtime model.Runtime
	opts    Options
	logger  *zap.Logger

	checkOnce sync.Once
	available bool
}

var _ model.Backend = (*Backend)(nil)

// New returns a backend for rt.
func New(rt model.Runtime, opts Options) (*Backend, error) {
	if _, err := ParseRuntime(string(rt)); err != nil {
		return nil, err
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Backend{
		runtime: rt,
		opts:    opts,
		logger:  logger.Named("onnx").With(zap.Stringer("runtime", rt)),
	}, nil
}

// NewOrder builds one backend per runtime name, keeping the order.
func NewOrder(names []string, opts Options) ([]model.Backend, error) {
	order := make([]model.Backend, 0, len(names))
	for _, name := range names {
		rt, err := ParseRuntime(name)
		if err != nil {
			return nil, err
		}
		b, err := New(rt, opts)
		if err != nil {
			return nil, err
		}
		order = append(order, b)
	}
	return order, nil
}

func (b *Backend) Runtime() model.Runtime {
	return b.runtime
}

// Available reports whether the execution provider can be attached to a
// session. The result of the first check is cached.
func (b *Backend) Available() bool {
	if !ort.IsInitialized() {
		return false
	}
	b.checkOnce.Do(func() {
		so, err := b.sessionOptions()
		if err != nil {
			b.logger.Debug("execution provider unavailable", zap.Error(err))
			return
		}
		if err := so.Destroy(); err != nil {
			b.logger.Warn("destroy session options failed", zap.Error(err))
		}
		b.available = true
	})
	return b.available
}

func (b *Backend) sessionOptions() (*ort.SessionOptions, error) {
	so, err := ort.NewSessionOptions()
	if err != nil {
		return nil, errors.Annotate(err, "failed to create session options")
	}
	if err := b.appendProvider(so); err != nil {
		so.Destroy()
		return nil, errors.Annotatef(err, "failed to append %s execution provider", b.runtime)
	}
	return so, nil
}

func (b *Backend) appendProvider(so *ort.SessionOptions) error {
	switch b.runtime {
	case CPU:
		return nil
	case CUDA:
		cudaOpts, err := ort.NewCUDAProviderOptions()
		if err != nil {
			return err
		}
		defer cudaOpts.Destroy()
		if err := cudaOpts.Update(map[string]string{"device_id": strconv.Itoa(b.opts.DeviceID)}); err != nil {
			return err
		}
		return so.AppendExecutionProviderCUDA(cudaOpts)
	case TensorRT:
		trtOpts, err := ort.NewTensorRTProviderOptions()
		if err != nil {
			return err
		}
		defer trtOpts.Destroy()
		if err := trtOpts.Update(map[string]string{"device_id": strconv.Itoa(b.opts.DeviceID)}); err != nil {
			return err
		}
		return so.AppendExecutionProviderTensorRT(trtOpts)
	case CoreML:
		return so.AppendExecutionProviderCoreML(0)
	case DirectML:
		return so.AppendExecutionProviderDirectML(b.opts.DeviceID)
	case OpenVINO:
		device := b.opts.OpenVINODevice
		if device == "" {
			device = "CPU"
		}
		return so.AppendExecutionProviderOpenVINO(map[string]string{"device_type": device})
	}
	return errors.Errorf("unsupported runtime %q", b.runtime)
}

// Load builds a session for the serialized ONNX model. Every input and
// output must be a float32 tensor.
func (b *Backend) Load(data []byte) (model.Network, error) {
	if !ort.IsInitialized() {
		return nil, &model.Error{Kind: model.KindConfiguration, Op: "load", Err: errors.New("ONNX environment is not initialized")}
	}
	inputs, outputs, err := ort.GetInputOutputInfoWithONNXData(data)
	if err != nil {
		return nil, &model.Error{Kind: model.KindConfiguration, Op: "load", Err: errors.Annotate(err, "failed to read model inputs and outputs")}
	}

	n := &network{
		inputShapes: make(map[string]model.Shape, len(inputs)),
		logger:      b.logger,
	}
	for _, info := range inputs {
		if err := checkFloatTensor(info); err != nil {
			return nil, err
		}
		n.inputNames = append(n.inputNames, info.Name)
		n.inputShapes[info.Name] = model.Shape(info.Dimensions)
	}
	for _, info := range outputs {
		if err := checkFloatTensor(info); err != nil {
			return nil, err
		}
		n.outputNames = append(n.outputNames, info.Name)
	}

	so, err := b.sessionOptions()
	if err != nil {
		return nil, errors.Trace(err)
	}
	defer so.Destroy()

	session, err := ort.NewDynamicAdvancedSessionWithONNXData(data, n.inputNames, n.outputNames, so)
	if err != nil {
		return nil, errors.Annotate(err, "failed to create ONNX session")
	}
	n.session = session
	b.logger.Debug("session created",
		zap.Strings("inputs", n.inputNames),
		zap.Strings("outputs", n.outputNames))
	return n, nil
}

func checkFloatTensor(info ort.InputOutputInfo) error {
	if info.OrtValueType != ort.ONNXTypeTensor || info.DataType != ort.TensorElementDataTypeFloat {
		return &model.Error{
			Kind: model.KindConfiguration,
			Op:   "load",
			Err:  errors.Errorf("%q is not a float32 tensor (value type %v, element type %v)", info.Name, info.OrtValueType, info.DataType),
		}
	}
	return nil
}
