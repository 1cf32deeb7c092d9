// Package config holds the doa-infer settings. Values come from an optional
// TOML file and are overridden by command line flags.
package config

import (
	"strings"

	"github.com/Brownie44l1/doa-infer/internal/rawbuf"
	"github.com/BurntSushi/toml"
	"github.com/pingcap/errors"
)

// Config is the top-level configuration.
type Config struct {
	// CacheDir holds the model and input files.
	CacheDir string `toml:"cache-dir"`
	// AssetsDir, when set, is copied into CacheDir before inference.
	AssetsDir string `toml:"assets-dir"`
	ModelFile string `toml:"model-file"`
	InputFile string `toml:"input-file"`
	// OutputDir, when set, receives one <output>.raw file per output.
	OutputDir string `toml:"output-dir"`

	RuntimeOrder []string `toml:"runtime-order"`
	ByteOrder    string   `toml:"byte-order"`

	AllowLengthMismatch bool `toml:"allow-length-mismatch"`
	SwallowErrors       bool `toml:"swallow-errors"`

	ONNX        ONNX   `toml:"onnx"`
	Log         Log    `toml:"log"`
	MetricsFile string `toml:"metrics-file"`
}

// ONNX configures the ONNX Runtime backend.
type ONNX struct {
	LibraryPath    string `toml:"library-path"`
	DeviceID       int    `toml:"device-id"`
	OpenVINODevice string `toml:"openvino-device"`
}

// Log configures logging.
type Log struct {
	Level string `toml:"level"`
}

// Default returns the default configuration.
func Default() *Config {
	return &Config{
		CacheDir:     ".",
		ModelFile:    "doa_quantize.onnx",
		InputFile:    "data_0.raw",
		RuntimeOrder: []string{"cuda", "coreml", "cpu"},
		ByteOrder:    "big",
		Log: Log{
			Level: "info",
		},
	}
}

// Load reads the TOML file at path over the defaults. Unknown keys are
// rejected.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	md, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return nil, errors.Annotatef(err, "load config %s", path)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, 0, len(undecoded))
		for _, k := range undecoded {
			keys = append(keys, k.String())
		}
		return nil, errors.Errorf("config %s contains unknown keys: %s", path, strings.Join(keys, ", "))
	}
	return cfg, nil
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	if c.ModelFile == "" {
		return errors.New("model-file must be set")
	}
	if c.InputFile == "" {
		return errors.New("input-file must be set")
	}
	if len(c.RuntimeOrder) == 0 {
		return errors.New("runtime-order must list at least one runtime")
	}
	if _, err := rawbuf.ParseByteOrder(c.ByteOrder); err != nil {
		return err
	}
	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "error":
	default:
		return errors.Errorf("invalid log level %q", c.Log.Level)
	}
	return nil
}
