package main

import (
	"encoding/binary"
	"path/filepath"
	"sort"
	"strings"

	"github.com/Brownie44l1/doa-infer/internal/backend/onnx"
	"github.com/Brownie44l1/doa-infer/internal/config"
	"github.com/Brownie44l1/doa-infer/internal/model"
	"github.com/Brownie44l1/doa-infer/internal/provision"
	"github.com/Brownie44l1/doa-infer/internal/rawbuf"
	"github.com/pingcap/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"go.uber.org/zap"
)

type runFlags struct {
	cacheDir     string
	assetsDir    string
	modelFile    string
	inputFile    string
	outputDir    string
	runtimeOrder []string
	byteOrder    string
	allowLength  bool
	swallow      bool
	ortLibrary   string
	deviceID     int
	metricsFile  string
}

func newRunCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Load the model and run one inference on the raw input file",
		Args:  cobra.NoArgs,
	}
	f := bindRunFlags(cmd.Flags())
	cmd.RunE = func(cmd *cobra.Command, _ []string) error {
		f.apply(cmd.Flags(), a.cfg)
		if err := a.cfg.Validate(); err != nil {
			return err
		}
		return runInference(afero.NewOsFs(), a.cfg, a.logger.Named("cli"))
	}
	return cmd
}

func bindRunFlags(fl *pflag.FlagSet) *runFlags {
	f := &runFlags{}
	fl.StringVar(&f.cacheDir, "cache-dir", "", "directory holding the model and input files")
	fl.StringVar(&f.assetsDir, "assets-dir", "", "directory copied into the cache directory before running")
	fl.StringVarP(&f.modelFile, "model", "m", "", "model file name inside the cache directory")
	fl.StringVarP(&f.inputFile, "input", "i", "", "raw float32 input file name inside the cache directory")
	fl.StringVarP(&f.outputDir, "output-dir", "o", "", "write each output as <name>.raw into this directory")
	fl.StringSliceVar(&f.runtimeOrder, "runtime-order", nil, "runtimes to try in order, e.g. tensorrt,cuda,cpu")
	fl.StringVar(&f.byteOrder, "byte-order", "", "byte order of raw files: big, little, native")
	fl.BoolVar(&f.allowLength, "allow-length-mismatch", false, "tolerate inputs whose length differs from the input tensor")
	fl.BoolVar(&f.swallow, "swallow-errors", false, "log engine failures and exit successfully")
	fl.StringVar(&f.ortLibrary, "ort-library", "", "path to the onnxruntime shared library")
	fl.IntVar(&f.deviceID, "device-id", 0, "accelerator device id")
	fl.StringVar(&f.metricsFile, "metrics-file", "", "write prometheus metrics to this file on exit")
	return f
}

// apply overrides cfg with the flags set on the command line.
func (f *runFlags) apply(fs *pflag.FlagSet, cfg *config.Config) {
	set := func(name string, fn func()) {
		if fs.Changed(name) {
			fn()
		}
	}
	set("cache-dir", func() { cfg.CacheDir = f.cacheDir })
	set("assets-dir", func() { cfg.AssetsDir = f.assetsDir })
	set("model", func() { cfg.ModelFile = f.modelFile })
	set("input", func() { cfg.InputFile = f.inputFile })
	set("output-dir", func() { cfg.OutputDir = f.outputDir })
	set("runtime-order", func() { cfg.RuntimeOrder = f.runtimeOrder })
	set("byte-order", func() { cfg.ByteOrder = f.byteOrder })
	set("allow-length-mismatch", func() { cfg.AllowLengthMismatch = f.allowLength })
	set("swallow-errors", func() { cfg.SwallowErrors = f.swallow })
	set("ort-library", func() { cfg.ONNX.LibraryPath = f.ortLibrary })
	set("device-id", func() { cfg.ONNX.DeviceID = f.deviceID })
	set("metrics-file", func() { cfg.MetricsFile = f.metricsFile })
}

func runInference(fs afero.Fs, cfg *config.Config, logger *zap.Logger) error {
	if cfg.AssetsDir != "" {
		p := &provision.Provisioner{Src: fs, Dst: fs, Logger: logger}
		copied, err := p.Copy(cfg.AssetsDir, cfg.CacheDir)
		if err != nil {
			logger.Warn("asset provisioning incomplete", zap.Error(err))
		}
		logger.Info("assets provisioned", zap.Strings("files", copied), zap.String("cache_dir", cfg.CacheDir))
	}

	byteOrder, err := rawbuf.ParseByteOrder(cfg.ByteOrder)
	if err != nil {
		return err
	}

	if err := onnx.InitEnvironment(cfg.ONNX.LibraryPath); err != nil {
		return err
	}
	defer func() {
		if err := onnx.DestroyEnvironment(); err != nil {
			logger.Warn("destroy ONNX environment failed", zap.Error(err))
		}
	}()

	backends, err := onnx.NewOrder(cfg.RuntimeOrder, onnx.Options{
		DeviceID:       cfg.ONNX.DeviceID,
		OpenVINODevice: cfg.ONNX.OpenVINODevice,
		Logger:         logger,
	})
	if err != nil {
		return err
	}

	reg := prometheus.NewRegistry()
	engine := model.NewEngine(model.Config{
		Fs:                  fs,
		Logger:              logger,
		Metrics:             model.NewMetrics(reg),
		ByteOrder:           byteOrder,
		AllowLengthMismatch: cfg.AllowLengthMismatch,
		SwallowErrors:       cfg.SwallowErrors,
	})
	defer func() {
		if err := engine.Close(); err != nil {
			logger.Warn("release network failed", zap.Error(err))
		}
		if cfg.MetricsFile != "" {
			if err := prometheus.WriteToTextfile(cfg.MetricsFile, reg); err != nil {
				logger.Warn("write metrics failed", zap.String("path", cfg.MetricsFile), zap.Error(err))
			}
		}
	}()

	if err := engine.Initialize(cfg.CacheDir, cfg.ModelFile, backends); err != nil {
		return err
	}
	outputs, err := engine.Run(cfg.CacheDir, cfg.InputFile)
	if err != nil {
		return err
	}

	report(outputs, logger)
	if cfg.OutputDir != "" && len(outputs) > 0 {
		return saveOutputs(fs, cfg.OutputDir, outputs, byteOrder, logger)
	}
	return nil
}

func report(outputs model.Outputs, logger *zap.Logger) {
	names := outputs.Names()
	sort.Strings(names)
	for _, name := range names {
		idx, val := outputs.Argmax(name)
		logger.Info("output",
			zap.String("name", name),
			zap.Int("elements", len(outputs[name])),
			zap.Int("argmax", idx),
			zap.Float32("max", val))
	}
}

// saveOutputs writes each output to dir/<name>.raw. Nothing is written when
// two names map to the same file.
func saveOutputs(fs afero.Fs, dir string, outputs model.Outputs, order binary.ByteOrder, logger *zap.Logger) error {
	names := outputs.Names()
	sort.Strings(names)
	files := make(map[string]string, len(names))
	for _, name := range names {
		file := outputFileName(name)
		if other, ok := files[file]; ok {
			return errors.Errorf("outputs %q and %q both map to %s", other, name, file)
		}
		files[file] = name
	}

	if err := fs.MkdirAll(dir, 0o755); err != nil {
		return errors.Trace(err)
	}
	for _, name := range names {
		values := outputs[name]
		path := filepath.Join(dir, outputFileName(name))
		if err := rawbuf.Encode(fs, path, values, order); err != nil {
			return errors.Annotatef(err, "save output %q", name)
		}
		logger.Debug("output saved", zap.String("name", name), zap.String("path", path))
	}
	return nil
}

var outputNameReplacer = strings.NewReplacer("/", "_", "\\", "_", ":", "_", " ", "_")

// outputFileName maps a tensor name to a file name. Tensor names may contain
// path separators.
func outputFileName(name string) string {
	if name == "" {
		name = "output"
	}
	return outputNameReplacer.Replace(name) + ".raw"
}
