package model

import (
	"encoding/binary"
	"path/filepath"
	"time"

	"github.com/Brownie44l1/doa-infer/internal/rawbuf"
	"github.com/pingcap/errors"
	"github.com/spf13/afero"
	"go.uber.org/zap"
)

// Config configures an Engine. The zero value is usable.
type Config struct {
	// Fs is where model and input files are read from. Defaults to the OS
	// filesystem.
	Fs afero.Fs
	// Logger defaults to a no-op logger.
	Logger *zap.Logger
	// Metrics may be nil.
	Metrics *Metrics
	// ByteOrder of raw input files. Defaults to big endian.
	ByteOrder binary.ByteOrder
	// AllowLengthMismatch writes the overlap of the decoded input and the
	// input tensor instead of failing with KindInput.
	AllowLengthMismatch bool
	// SwallowErrors makes Initialize and Run log failures and return nil.
	SwallowErrors bool
}

// Engine owns one loaded network and drives inference on it. An Engine is
// not safe for concurrent use.
type Engine struct {
	cfg    Config
	fs     afero.Fs
	logger *zap.Logger

	network    Network
	runtime    Runtime
	inputName  string
	inputShape Shape
}

// NewEngine returns an engine with no network loaded.
func NewEngine(cfg Config) *Engine {
	if cfg.Fs == nil {
		cfg.Fs = afero.NewOsFs()
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.ByteOrder == nil {
		cfg.ByteOrder = binary.BigEndian
	}
	return &Engine{
		cfg:    cfg,
		fs:     cfg.Fs,
		logger: cfg.Logger.Named("engine"),
	}
}

// Initialize loads modelDir/modelFile on the first available backend of
// order and binds the network's single input. Any previously loaded network
// is released first. On failure the engine is left unusable.
func (e *Engine) Initialize(modelDir, modelFile string, order []Backend) error {
	return e.boundary("initialize", e.initialize(filepath.Join(modelDir, modelFile), order))
}

func (e *Engine) initialize(path string, order []Backend) error {
	if err := e.Close(); err != nil {
		e.logger.Warn("release previous network failed", zap.Error(err))
	}

	e.logger.Debug("load model", zap.String("path", path))
	data, err := afero.ReadFile(e.fs, path)
	if err != nil {
		return newError(KindIO, "initialize", errors.Annotatef(err, "read model %s", path))
	}

	backend, err := e.selectBackend(order)
	if err != nil {
		return err
	}

	network, err := backend.Load(data)
	if err != nil {
		kind := KindOf(err)
		if kind == KindUnknown {
			kind = KindConfiguration
		}
		return newError(kind, "initialize", errors.Annotatef(err, "build network on %s", backend.Runtime()))
	}

	names := network.InputNames()
	if len(names) != 1 {
		e.releaseNetwork(network)
		return newError(KindConfiguration, "initialize",
			errors.Errorf("network must expose exactly one input tensor, got %d %v", len(names), names))
	}
	shape, ok := network.InputShape(names[0])
	if !ok || !shape.Static() {
		e.releaseNetwork(network)
		return newError(KindConfiguration, "initialize",
			errors.Errorf("input %q has no static shape: %v", names[0], shape))
	}

	e.network = network
	e.runtime = backend.Runtime()
	e.inputName = names[0]
	e.inputShape = shape
	e.cfg.Metrics.backendSelected(e.runtime)
	e.logger.Info("network ready",
		zap.Stringer("runtime", e.runtime),
		zap.String("input", e.inputName),
		zap.Stringer("shape", e.inputShape))
	return nil
}

func (e *Engine) selectBackend(order []Backend) (Backend, error) {
	tried := make([]Runtime, 0, len(order))
	for _, b := range order {
		if b == nil {
			continue
		}
		if b.Available() {
			e.logger.Debug("runtime selected", zap.Stringer("runtime", b.Runtime()))
			return b, nil
		}
		e.logger.Debug("runtime unavailable", zap.Stringer("runtime", b.Runtime()))
		tried = append(tried, b.Runtime())
	}
	return nil, newError(KindConfiguration, "initialize",
		errors.Errorf("no available runtime in order %v", tried))
}

func (e *Engine) releaseNetwork(n Network) {
	if err := n.Release(); err != nil {
		e.logger.Warn("release network failed", zap.Error(err))
	}
}

// Run decodes inputDir/inputFile into the input tensor, executes the
// network and returns every output. All tensors created by the call are
// released before it returns.
func (e *Engine) Run(inputDir, inputFile string) (Outputs, error) {
	start := time.Now()
	outputs, err := e.run(filepath.Join(inputDir, inputFile))
	e.cfg.Metrics.observeRun(start, err)
	if err != nil {
		return nil, e.boundary("run", err)
	}
	return outputs, nil
}

func (e *Engine) run(path string) (Outputs, error) {
	if e.network == nil {
		return nil, newError(KindConfiguration, "run", errors.New("engine is not initialized"))
	}

	scope := NewScope(e.cfg.Metrics)
	defer func() {
		if err := scope.Release(); err != nil {
			e.logger.Warn("release tensors failed", zap.Error(err))
		}
	}()

	input, err := e.network.NewTensor(e.inputShape)
	if err != nil {
		return nil, newError(KindExecution, "run", errors.Annotatef(err, "allocate input %v", e.inputShape))
	}
	if err := scope.Track(input); err != nil {
		return nil, newError(KindExecution, "run", err)
	}

	data, err := rawbuf.Decode(e.fs, path, e.cfg.ByteOrder)
	if err != nil {
		return nil, newError(KindIO, "run", errors.Annotatef(err, "decode input %s", path))
	}
	e.logger.Debug("input decoded", zap.String("path", path), zap.Int("elements", len(data)))

	if len(data) != input.Size() {
		e.logger.Warn("input length does not match tensor",
			zap.String("input", e.inputName),
			zap.Int("decoded", len(data)),
			zap.Int("expected", input.Size()))
		if !e.cfg.AllowLengthMismatch {
			return nil, newError(KindInput, "run",
				errors.Errorf("decoded %d values, input %q expects %d", len(data), e.inputName, input.Size()))
		}
		if len(data) > input.Size() {
			data = data[:input.Size()]
		}
	}
	if err := input.Write(data, 0); err != nil {
		return nil, newError(KindExecution, "run", errors.Annotatef(err, "write input %q", e.inputName))
	}

	outputs, err := e.network.Execute(map[string]Tensor{e.inputName: input})
	if err != nil {
		return nil, newError(KindExecution, "run", errors.Annotate(err, "execute network"))
	}
	if err := scope.TrackAll(outputs); err != nil {
		return nil, newError(KindExecution, "run", err)
	}

	result := make(Outputs, len(outputs))
	for name, t := range outputs {
		if t == nil {
			continue
		}
		buf := make([]float32, t.Size())
		t.Read(buf)
		result[name] = buf
		e.logger.Debug("output read", zap.String("name", name), zap.Stringer("shape", t.Shape()))
	}
	return result, nil
}

// boundary logs err and, in SwallowErrors mode, drops it.
func (e *Engine) boundary(op string, err error) error {
	if err == nil {
		return nil
	}
	e.logger.Error("inference engine failure",
		zap.String("op", op),
		zap.Stringer("kind", KindOf(err)),
		zap.Error(err))
	if e.cfg.SwallowErrors {
		return nil
	}
	return err
}

// Ready reports whether a network is loaded.
func (e *Engine) Ready() bool {
	return e.network != nil
}

// Runtime returns the runtime the network was built on.
func (e *Engine) Runtime() Runtime {
	return e.runtime
}

// InputName returns the input binding.
func (e *Engine) InputName() string {
	return e.inputName
}

// InputShape returns the declared shape of the input binding.
func (e *Engine) InputShape() Shape {
	return e.inputShape
}

// Close releases the network. It is safe to call more than once.
func (e *Engine) Close() error {
	if e.network == nil {
		return nil
	}
	err := e.network.Release()
	e.network = nil
	e.runtime = ""
	e.inputName = ""
	e.inputShape = nil
	return errors.Trace(err)
}
