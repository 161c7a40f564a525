package mrt

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net/netip"
)

// largeRead is the size above which payloads are grown incrementally so a
// bogus length on a short stream fails before allocating the whole buffer.
const largeRead = 1 << 16

// decoder is the stream cursor. It reads exactly the bytes it is asked for,
// counts them, and optionally captures them for Reader.Raw. While a payload
// is decoded every read goes through lim, so no layout can run past the
// length its header declares.
type decoder struct {
	src     io.Reader
	r       io.Reader // src, or &lim inside a payload
	lim     io.LimitedReader
	limited bool
	typ     Type
	payload uint32
	n       int64 // payload bytes consumed for the current record
	capture bool
	raw     []byte
	scratch [16]byte
}

func (d *decoder) reset() {
	d.n = 0
	d.raw = d.raw[:0]
	d.r = d.src
	d.limited = false
}

// limit bounds the reads that follow to the payload of a record of type typ.
func (d *decoder) limit(typ Type, payload uint32) {
	d.n = 0
	d.typ, d.payload = typ, payload
	d.lim = io.LimitedReader{R: d.src, N: int64(payload)}
	d.r = &d.lim
	d.limited = true
}

// overrun reports a layout that needs more bytes than the payload declares.
func (d *decoder) overrun(need int64) error {
	return &LengthError{What: fmt.Sprintf("%s record", d.typ), Declared: d.payload, Need: need}
}

// short converts an end of stream inside a record. Hitting the declared
// payload length is a LengthError; running out of input is ErrTruncated.
// missing is how many more bytes the failed read wanted.
func (d *decoder) short(err error, missing int64) error {
	if !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrUnexpectedEOF) {
		return err
	}
	if d.limited && d.lim.N == 0 {
		return d.overrun(d.n + missing)
	}
	return truncated(err)
}

func (d *decoder) read(b []byte) error {
	k, err := d.fill(b)
	if err != nil {
		return d.short(err, int64(len(b)-k))
	}
	return nil
}

// fill is io.ReadFull plus accounting. Errors are returned unconverted so
// the header reader can tell a clean end of stream from a short read.
func (d *decoder) fill(b []byte) (int, error) {
	k, err := io.ReadFull(d.r, b)
	d.n += int64(k)
	if d.capture {
		d.raw = append(d.raw, b[:k]...)
	}
	return k, err
}

// truncated converts end-of-stream inside a record into ErrTruncated.
func truncated(err error) error {
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return fmt.Errorf("%w: %w", ErrTruncated, io.ErrUnexpectedEOF)
	}
	return err
}

func (d *decoder) u8() (uint8, error) {
	if err := d.read(d.scratch[:1]); err != nil {
		return 0, err
	}
	return d.scratch[0], nil
}

func (d *decoder) u16() (uint16, error) {
	if err := d.read(d.scratch[:2]); err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint16(d.scratch[:2]), nil
}

func (d *decoder) u32() (uint32, error) {
	if err := d.read(d.scratch[:4]); err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint32(d.scratch[:4]), nil
}

// as reads a 2- or 4-byte AS number.
func (d *decoder) as(as4 bool) (uint32, error) {
	if as4 {
		return d.u32()
	}
	v, err := d.u16()
	return uint32(v), err
}

// addr reads a 4- or 16-byte address sized by afi.
func (d *decoder) addr(afi AFI) (netip.Addr, error) {
	if afi == AFIIPv6 {
		if err := d.read(d.scratch[:16]); err != nil {
			return netip.Addr{}, err
		}
		return netip.AddrFrom16(d.scratch), nil
	}
	if err := d.read(d.scratch[:4]); err != nil {
		return netip.Addr{}, err
	}
	return netip.AddrFrom4([4]byte(d.scratch[:4])), nil
}

// afi reads a 2-byte AFI code and resolves it.
func (d *decoder) afi() (AFI, error) {
	code, err := d.u16()
	if err != nil {
		return 0, err
	}
	return ParseAFI(code)
}

// bytes reads n bytes into a freshly allocated slice owned by the caller.
func (d *decoder) bytes(n int) ([]byte, error) {
	if d.limited && int64(n) > d.lim.N {
		return nil, d.overrun(d.n + int64(n))
	}
	if n <= largeRead {
		b := make([]byte, n)
		if err := d.read(b); err != nil {
			return nil, err
		}
		return b, nil
	}

	var buf bytes.Buffer
	k, err := io.CopyN(&buf, d.r, int64(n))
	d.n += k
	if d.capture {
		d.raw = append(d.raw, buf.Bytes()...)
	}
	if err != nil {
		return nil, d.short(err, int64(n)-k)
	}
	return buf.Bytes(), nil
}

// cstring reads a NUL-terminated string; the terminator is consumed but not returned.
func (d *decoder) cstring() ([]byte, error) {
	s := []byte{}
	for {
		c, err := d.u8()
		if err != nil {
			return nil, err
		}
		if c == 0 {
			return s, nil
		}
		s = append(s, c)
	}
}

// prefix reads ceil(bits/8) bytes of a prefix whose family allows at most max bits.
func (d *decoder) prefix(bits uint8, max int) ([]byte, error) {
	if int(bits) > max {
		return nil, &LengthError{What: "prefix", Declared: uint32(bits), Need: int64(max)}
	}
	return d.bytes((int(bits) + 7) / 8)
}

// remaining derives the length of a trailing blob from the payload length
// and the size of the fixed fields before it.
func remaining(what string, payload uint32, fixed int) (int, error) {
	if int64(payload) < int64(fixed) {
		return 0, &LengthError{What: what, Declared: payload, Need: int64(fixed)}
	}
	return int(int64(payload) - int64(fixed)), nil
}
