// Package provision copies bundled assets (models, raw inputs) into the
// writable cache directory the engine reads from.
package provision

import (
	"io"
	"path/filepath"

	"github.com/pingcap/errors"
	"github.com/spf13/afero"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// Provisioner copies every regular file of an asset directory into a cache
// directory.
type Provisioner struct {
	Src    afero.Fs
	Dst    afero.Fs
	Logger *zap.Logger
}

// Copy copies the files of srcDir into dstDir and returns the names copied.
// When srcDir cannot be listed nothing is copied. A file that fails to copy
// is logged and skipped; the failures are returned together.
func (p *Provisioner) Copy(srcDir, dstDir string) ([]string, error) {
	logger := p.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("provision")

	entries, err := afero.ReadDir(p.Src, srcDir)
	if err != nil {
		logger.Error("failed to get asset file list", zap.String("dir", srcDir), zap.Error(err))
		return nil, errors.Annotatef(err, "list assets in %s", srcDir)
	}
	if err := p.Dst.MkdirAll(dstDir, 0o755); err != nil {
		logger.Error("failed to create cache dir", zap.String("dir", dstDir), zap.Error(err))
		return nil, errors.Trace(err)
	}

	var (
		copied []string
		errs   error
	)
	for _, entry := range entries {
		if !entry.Mode().IsRegular() {
			continue
		}
		name := entry.Name()
		logger.Debug("copying asset file", zap.String("file", name), zap.String("cache_dir", dstDir))
		if err := p.copyFile(filepath.Join(srcDir, name), filepath.Join(dstDir, name)); err != nil {
			logger.Error("failed to copy asset file", zap.String("file", name), zap.Error(err))
			errs = multierr.Append(errs, err)
			continue
		}
		copied = append(copied, name)
	}
	return copied, errs
}

func (p *Provisioner) copyFile(src, dst string) (err error) {
	in, err := p.Src.Open(src)
	if err != nil {
		return errors.Trace(err)
	}
	defer in.Close()

	out, err := p.Dst.Create(dst)
	if err != nil {
		return errors.Trace(err)
	}
	defer func() {
		err = multierr.Append(err, errors.Trace(out.Close()))
	}()

	_, err = io.Copy(out, in)
	return errors.Annotatef(err, "copy %s", src)
}
