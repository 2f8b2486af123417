package sortstream

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/klauspost/compress/zstd"

	"github.com/hupe1980/obtree/internal/fs"
	"github.com/hupe1980/obtree/tuple"
)

// Run records, inside a zstd stream:
//
//	uvarint  length<<1 | fixed
//	[length] tuple data
const runBufferSize = 256 << 10

type runWriter struct {
	f   fs.File
	bw  *bufio.Writer
	enc *zstd.Encoder
	n   int
	tmp [binary.MaxVarintLen64]byte
}

func createRun(fsys fs.FileSystem, path string) (*runWriter, error) {
	f, err := fsys.OpenFile(path, os.O_CREATE|os.O_RDWR|os.O_TRUNC, 0o600)
	if err != nil {
		return nil, err
	}
	bw := bufio.NewWriterSize(f, runBufferSize)
	enc, err := zstd.NewWriter(bw, zstd.WithEncoderLevel(zstd.SpeedFastest), zstd.WithEncoderConcurrency(1))
	if err != nil {
		_ = f.Close()
		return nil, err
	}
	return &runWriter{f: f, bw: bw, enc: enc}, nil
}

func (w *runWriter) write(t tuple.Tuple) error {
	v := uint64(len(t.Data)) << 1
	if t.Fixed {
		v |= 1
	}
	n := binary.PutUvarint(w.tmp[:], v)
	if _, err := w.enc.Write(w.tmp[:n]); err != nil {
		return err
	}
	if _, err := w.enc.Write(t.Data); err != nil {
		return err
	}
	w.n++
	return nil
}

func (w *runWriter) close() error {
	err := w.enc.Close()
	if err == nil {
		err = w.bw.Flush()
	}
	if cerr := w.f.Close(); err == nil {
		err = cerr
	}
	return err
}

type runReader struct {
	f   fs.File
	dec *zstd.Decoder
	br  *bufio.Reader
}

func openRun(fsys fs.FileSystem, path string) (*runReader, error) {
	f, err := fsys.OpenFile(path, os.O_RDONLY, 0)
	if err != nil {
		return nil, err
	}
	dec, err := zstd.NewReader(bufio.NewReaderSize(f, runBufferSize), zstd.WithDecoderConcurrency(1))
	if err != nil {
		_ = f.Close()
		return nil, err
	}
	return &runReader{f: f, dec: dec, br: bufio.NewReader(dec)}, nil
}

func (r *runReader) next() (tuple.Tuple, bool, error) {
	v, err := binary.ReadUvarint(r.br)
	if errors.Is(err, io.EOF) {
		return tuple.Tuple{}, false, nil
	}
	if err != nil {
		return tuple.Tuple{}, false, fmt.Errorf("%w: %v", ErrCorruptRun, err)
	}
	data := make([]byte, v>>1)
	if _, err := io.ReadFull(r.br, data); err != nil {
		return tuple.Tuple{}, false, fmt.Errorf("%w: %v", ErrCorruptRun, err)
	}
	return tuple.Tuple{Data: data, Fixed: v&1 != 0}, true, nil
}

func (r *runReader) close() error {
	r.dec.Close()
	return r.f.Close()
}
