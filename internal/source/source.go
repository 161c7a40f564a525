// Package source opens MRT dump files, transparently decompressing the
// gzip, bzip2 and zstd archives route collectors publish.
package source

import (
	"bufio"
	"bytes"
	"compress/bzip2"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
)

type Compression int

const (
	None Compression = iota
	Gzip
	Bzip2
	Zstd
)

func (c Compression) String() string {
	switch c {
	case Gzip:
		return "gzip"
	case Bzip2:
		return "bzip2"
	case Zstd:
		return "zstd"
	default:
		return "none"
	}
}

var (
	gzipMagic  = []byte{0x1f, 0x8b}
	bzip2Magic = []byte{'B', 'Z', 'h'}
	zstdMagic  = []byte{0x28, 0xb5, 0x2f, 0xfd}
)

const bufferSize = 1 << 20

// Detect peeks at the start of br and reports its compression. It never consumes input.
func Detect(br *bufio.Reader) (Compression, error) {
	head, err := br.Peek(len(zstdMagic))
	if err != nil && !errors.Is(err, io.EOF) {
		return None, err
	}
	switch {
	case bytes.HasPrefix(head, zstdMagic):
		return Zstd, nil
	case bytes.HasPrefix(head, gzipMagic):
		return Gzip, nil
	case bytes.HasPrefix(head, bzip2Magic):
		return Bzip2, nil
	}
	return None, nil
}

// Stream is a decompressed MRT byte stream.
type Stream struct {
	io.Reader
	Compression Compression
	closers     []func() error
}

func (s *Stream) Close() error {
	var errs []error
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// NewReader wraps r with the decompressor matching its leading bytes.
// Closing the returned Stream does not close r.
func NewReader(r io.Reader) (*Stream, error) {
	br := bufio.NewReaderSize(r, bufferSize)
	c, err := Detect(br)
	if err != nil {
		return nil, fmt.Errorf("source: detecting compression: %w", err)
	}
	s := &Stream{Compression: c}
	switch c {
	case Gzip:
		zr, err := gzip.NewReader(br)
		if err != nil {
			return nil, fmt.Errorf("source: gzip: %w", err)
		}
		s.Reader = zr
		s.closers = append(s.closers, zr.Close)
	case Bzip2:
		s.Reader = bzip2.NewReader(br)
	case Zstd:
		zr, err := zstd.NewReader(br)
		if err != nil {
			return nil, fmt.Errorf("source: zstd: %w", err)
		}
		s.Reader = zr
		s.closers = append(s.closers, func() error { zr.Close(); return nil })
	default:
		s.Reader = br
	}
	return s, nil
}

// Open opens the dump at path. "-" reads standard input.
func Open(path string) (*Stream, error) {
	if path == "-" {
		return NewReader(os.Stdin)
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("source: %w", err)
	}
	s, err := NewReader(f)
	if err != nil {
		f.Close()
		return nil, err
	}
	s.closers = append([]func() error{f.Close}, s.closers...)
	return s, nil
}
