package main

import (
	"github.com/Brownie44l1/doa-infer/internal/preprocess"
	"github.com/Brownie44l1/doa-infer/internal/rawbuf"
	"github.com/pingcap/errors"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func newPrepareCmd(a *app) *cobra.Command {
	var (
		size      uint
		byteOrder string
	)
	cmd := &cobra.Command{
		Use:   "prepare <image> <output.raw>",
		Short: "Convert a JPEG or PNG image into a planar RGB raw float32 file",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if !cmd.Flags().Changed("byte-order") {
				byteOrder = a.cfg.ByteOrder
			}
			return prepare(afero.NewOsFs(), args[0], args[1], size, byteOrder, a.logger.Named("cli"))
		},
	}
	cmd.Flags().UintVar(&size, "size", 224, "width and height the image is resized to")
	cmd.Flags().StringVar(&byteOrder, "byte-order", "big", "byte order of the raw file: big, little, native")
	return cmd
}

func prepare(fs afero.Fs, imagePath, outPath string, size uint, byteOrder string, logger *zap.Logger) error {
	if size == 0 {
		return errors.New("size must be positive")
	}
	order, err := rawbuf.ParseByteOrder(byteOrder)
	if err != nil {
		return err
	}

	f, err := fs.Open(imagePath)
	if err != nil {
		return errors.Trace(err)
	}
	defer f.Close()

	img, format, err := preprocess.Decode(f)
	if err != nil {
		return err
	}
	logger.Debug("image decoded",
		zap.String("format", format),
		zap.Int("width", img.Bounds().Dx()),
		zap.Int("height", img.Bounds().Dy()))

	data := preprocess.Planar(img, size)
	if err := rawbuf.Encode(fs, outPath, data, order); err != nil {
		return err
	}
	logger.Info("raw input written",
		zap.String("path", outPath),
		zap.Int("elements", len(data)),
		zap.Uint("size", size))
	return nil
}
