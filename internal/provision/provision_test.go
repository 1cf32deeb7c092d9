package provision

import (
	"os"
	"path/filepath"
	"sort"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestCopy(t *testing.T) {
	src := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(src, "/assets/doa_quantize.onnx", []byte("model"), 0o644))
	require.NoError(t, afero.WriteFile(src, "/assets/data_0.raw", []byte{0x3f, 0x80, 0, 0}, 0o644))
	require.NoError(t, src.MkdirAll("/assets/nested", 0o755))
	dst := afero.NewMemMapFs()

	p := &Provisioner{Src: src, Dst: dst, Logger: zap.NewNop()}
	copied, err := p.Copy("/assets", "/cache")
	require.NoError(t, err)
	sort.Strings(copied)
	require.Equal(t, []string{"data_0.raw", "doa_quantize.onnx"}, copied)

	data, err := afero.ReadFile(dst, "/cache/doa_quantize.onnx")
	require.NoError(t, err)
	require.Equal(t, []byte("model"), data)
	exists, err := afero.DirExists(dst, "/cache/nested")
	require.NoError(t, err)
	require.False(t, exists)
}

func TestCopyListingFailure(t *testing.T) {
	core, logs := observer.New(zap.ErrorLevel)
	dst := afero.NewMemMapFs()
	p := &Provisioner{Src: afero.NewMemMapFs(), Dst: dst, Logger: zap.New(core)}

	copied, err := p.Copy("/missing", "/cache")
	require.Error(t, err)
	require.Empty(t, copied)
	require.Equal(t, 1, logs.FilterMessage("failed to get asset file list").Len())

	exists, err := afero.DirExists(dst, "/cache")
	require.NoError(t, err)
	require.False(t, exists)
}

func TestCopyContinuesAfterFileFailure(t *testing.T) {
	srcDir, dstDir := t.TempDir(), t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(srcDir, "doa_quantize.onnx"), []byte("model"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(srcDir, "data_0.raw"), []byte{0x3f, 0x80, 0, 0}, 0o644))
	// a directory in the way makes creating the destination file fail
	require.NoError(t, os.Mkdir(filepath.Join(dstDir, "data_0.raw"), 0o755))

	core, logs := observer.New(zap.ErrorLevel)
	fs := afero.NewOsFs()
	p := &Provisioner{Src: fs, Dst: fs, Logger: zap.New(core)}

	copied, err := p.Copy(srcDir, dstDir)
	require.Error(t, err)
	require.Equal(t, []string{"doa_quantize.onnx"}, copied)

	data, err := os.ReadFile(filepath.Join(dstDir, "doa_quantize.onnx"))
	require.NoError(t, err)
	require.Equal(t, []byte("model"), data)

	failures := logs.FilterMessage("failed to copy asset file").AllUntimed()
	require.Len(t, failures, 1)
	require.Equal(t, "data_0.raw", failures[0].ContextMap()["file"])
}
