package main

import (
	"encoding/binary"
	"image"
	"image/color"
	"image/png"
	"testing"

	"github.com/Brownie44l1/doa-infer/internal/config"
	"github.com/Brownie44l1/doa-infer/internal/model"
	"github.com/Brownie44l1/doa-infer/internal/rawbuf"
	"github.com/spf13/afero"
	"github.com/spf13/pflag"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestRunFlagsOverrideConfig(t *testing.T) {
	fs := pflag.NewFlagSet("run", pflag.ContinueOnError)
	f := bindRunFlags(fs)
	require.NoError(t, fs.Parse([]string{
		"--model", "other.onnx",
		"--runtime-order", "openvino,cpu",
		"--allow-length-mismatch",
		"--device-id", "2",
	}))

	cfg := config.Default()
	cfg.InputFile = "from-file.raw"
	f.apply(fs, cfg)

	require.Equal(t, "other.onnx", cfg.ModelFile)
	require.Equal(t, "from-file.raw", cfg.InputFile)
	require.Equal(t, []string{"openvino", "cpu"}, cfg.RuntimeOrder)
	require.True(t, cfg.AllowLengthMismatch)
	require.Equal(t, 2, cfg.ONNX.DeviceID)
	require.Equal(t, "big", cfg.ByteOrder)
}

func TestOutputFileName(t *testing.T) {
	require.Equal(t, "doa.raw", outputFileName("doa"))
	require.Equal(t, "model_out_0.raw", outputFileName("model/out:0"))
	require.Equal(t, "output.raw", outputFileName(""))
}

func TestSaveOutputs(t *testing.T) {
	fs := afero.NewMemMapFs()
	outputs := model.Outputs{"angle/logits": {0.1, 0.9}, "energy": {3}}

	require.NoError(t, saveOutputs(fs, "/out", outputs, binary.LittleEndian, zap.NewNop()))

	got, err := rawbuf.Decode(fs, "/out/angle_logits.raw", binary.LittleEndian)
	require.NoError(t, err)
	require.Equal(t, []float32{0.1, 0.9}, got)
	got, err = rawbuf.Decode(fs, "/out/energy.raw", binary.LittleEndian)
	require.NoError(t, err)
	require.Equal(t, []float32{3}, got)
}

func TestSaveOutputsRejectsNameCollision(t *testing.T) {
	fs := afero.NewMemMapFs()
	outputs := model.Outputs{"a/b": {1}, "a_b": {2}}

	err := saveOutputs(fs, "/out", outputs, binary.BigEndian, zap.NewNop())
	require.ErrorContains(t, err, "a_b.raw")

	exists, err := afero.Exists(fs, "/out/a_b.raw")
	require.NoError(t, err)
	require.False(t, exists)
}

func TestPrepare(t *testing.T) {
	fs := afero.NewMemMapFs()
	img := image.NewRGBA(image.Rect(0, 0, 10, 10))
	for y := 0; y < 10; y++ {
		for x := 0; x < 10; x++ {
			img.Set(x, y, color.RGBA{G: 255, A: 255})
		}
	}
	f, err := fs.Create("/face.png")
	require.NoError(t, err)
	require.NoError(t, png.Encode(f, img))
	require.NoError(t, f.Close())

	require.NoError(t, prepare(fs, "/face.png", "/face.raw", 4, "big", zap.NewNop()))
	data, err := rawbuf.Decode(fs, "/face.raw", binary.BigEndian)
	require.NoError(t, err)
	require.Len(t, data, 3*4*4)
	require.InDelta(t, 0.0, data[0], 1e-3)
	require.InDelta(t, 1.0, data[16], 1e-3)

	require.Error(t, prepare(fs, "/missing.png", "/x.raw", 4, "big", zap.NewNop()))
	require.Error(t, prepare(fs, "/face.png", "/x.raw", 0, "big", zap.NewNop()))
	require.Error(t, prepare(fs, "/face.png", "/x.raw", 4, "sideways", zap.NewNop()))
}
