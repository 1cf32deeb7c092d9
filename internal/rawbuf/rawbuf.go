// Package rawbuf reads and writes headerless files of sequential IEEE-754
// float32 values.
package rawbuf

import (
	"bufio"
	"encoding/binary"
	"io"
	"math"
	"strings"

	"github.com/pingcap/errors"
	"github.com/spf13/afero"
)

// ElementSize is the encoded size of one value in bytes.
const ElementSize = 4

// ParseByteOrder maps "big", "little" and "native" to a byte order.
func ParseByteOrder(s string) (binary.ByteOrder, error) {
	switch strings.ToLower(s) {
	case "", "big":
		return binary.BigEndian, nil
	case "little":
		return binary.LittleEndian, nil
	case "native":
		return binary.NativeEndian, nil
	}
	return nil, errors.Errorf("unknown byte order %q", s)
}

// Decode reads the whole file at path. The element count is the file size
// divided by ElementSize; a trailing partial element is ignored.
func Decode(fs afero.Fs, path string, order binary.ByteOrder) ([]float32, error) {
	f, err := fs.Open(path)
	if err != nil {
		return nil, errors.Trace(err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, errors.Trace(err)
	}
	return read(f, int(info.Size()/ElementSize), order)
}

func read(r io.Reader, n int, order binary.ByteOrder) ([]float32, error) {
	out := make([]float32, n)
	br := bufio.NewReader(r)
	var buf [ElementSize]byte
	for i := range out {
		if _, err := io.ReadFull(br, buf[:]); err != nil {
			return nil, errors.Annotatef(err, "read element %d of %d", i, n)
		}
		out[i] = math.Float32frombits(order.Uint32(buf[:]))
	}
	return out, nil
}

// Encode writes values to path, replacing any existing file.
func Encode(fs afero.Fs, path string, values []float32, order binary.ByteOrder) error {
	f, err := fs.Create(path)
	if err != nil {
		return errors.Trace(err)
	}
	bw := bufio.NewWriter(f)
	var buf [ElementSize]byte
	for _, v := range values {
		order.PutUint32(buf[:], math.Float32bits(v))
		if _, err := bw.Write(buf[:]); err != nil {
			f.Close()
			return errors.Trace(err)
		}
	}
	if err := bw.Flush(); err != nil {
		f.Close()
		return errors.Trace(err)
	}
	return errors.Trace(f.Close())
}
