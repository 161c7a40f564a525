package mrt

import (
	"encoding/binary"
	"fmt"
	"io"
)

// Reader decodes a sequence of MRT records from a byte stream.
//
// Reader never reads past the end of the record it is decoding, so the
// underlying stream is positioned exactly at the next header after every
// successful Next. It does not buffer; wrap slow sources in a bufio.Reader.
// A Reader is not safe for concurrent use.
type Reader struct {
	d         decoder
	maxLength uint32
	records   int64
	err       error
}

// ReaderOption configures a Reader.
type ReaderOption func(*Reader)

// WithRawCapture makes the Reader keep the wire bytes of the last record,
// available through Raw.
func WithRawCapture() ReaderOption {
	return func(r *Reader) { r.d.capture = true }
}

// WithMaxRecordLength rejects any header whose length field exceeds n before
// its payload is read. Since no payload read goes past its header length,
// n also bounds what a single record can allocate. Zero means no limit.
func WithMaxRecordLength(n uint32) ReaderOption {
	return func(r *Reader) { r.maxLength = n }
}

// NewReader returns a Reader consuming r.
func NewReader(r io.Reader, opts ...ReaderOption) *Reader {
	rd := &Reader{d: decoder{src: r, r: r}}
	for _, o := range opts {
		o(rd)
	}
	return rd
}

// Read decodes exactly one record from r. It returns io.EOF when r is
// exhausted at a record boundary. Calling it repeatedly on the same stream
// walks the records in order.
func Read(r io.Reader) (*Header, Record, error) {
	return NewReader(r).Next()
}

// Next decodes the next record. It returns io.EOF, unwrapped, when the stream
// ends cleanly between records. Any other error is fatal: the stream position
// is lost and every later call returns the same error.
func (r *Reader) Next() (*Header, Record, error) {
	if r.err != nil {
		return nil, nil, r.err
	}
	h, rec, err := r.next()
	if err != nil {
		r.err = err
		return nil, nil, err
	}
	r.records++
	return h, rec, nil
}

// Records returns the number of records decoded so far.
func (r *Reader) Records() int64 {
	return r.records
}

// Raw returns a copy of the header and payload bytes of the record most
// recently returned by Next. It is nil unless the Reader was built with
// WithRawCapture.
func (r *Reader) Raw() []byte {
	if !r.d.capture || r.err != nil {
		return nil
	}
	return append([]byte(nil), r.d.raw...)
}

func (r *Reader) next() (*Header, Record, error) {
	d := &r.d
	d.reset()

	var buf [HeaderSize]byte
	k, err := d.fill(buf[:])
	if err != nil {
		if k == 0 && err == io.EOF {
			return nil, nil, io.EOF
		}
		return nil, nil, fmt.Errorf("header: %w", truncated(err))
	}

	h := &Header{
		Timestamp: binary.BigEndian.Uint32(buf[0:4]),
		Type:      Type(binary.BigEndian.Uint16(buf[4:6])),
		Subtype:   binary.BigEndian.Uint16(buf[6:8]),
		Length:    binary.BigEndian.Uint32(buf[8:12]),
	}
	if r.maxLength > 0 && h.Length > r.maxLength {
		return nil, nil, &LengthError{What: "record", Declared: h.Length, Need: int64(r.maxLength)}
	}
	payload, err := h.payloadLength()
	if err != nil {
		return nil, nil, err
	}
	if h.Type.HasExtendedTimestamp() {
		if h.Microseconds, err = d.u32(); err != nil {
			return nil, nil, fmt.Errorf("header: %w", err)
		}
	}

	d.limit(h.Type, payload)
	rec, err := decodePayload(d, h, payload)
	if err != nil {
		return nil, nil, err
	}
	if d.n != int64(payload) {
		return nil, nil, d.overrun(d.n)
	}
	return h, rec, nil
}

// decodePayload routes one record payload to its decoder by record type.
func decodePayload(d *decoder, h *Header, payload uint32) (Record, error) {
	var (
		rec Record
		err error
	)
	switch h.Type {
	case TypeNull, TypeStart, TypeDie, TypeIAmDead, TypePeerDown, TypeIDRP:
		return &Empty{}, nil
	case TypeBGP, TypeBGP4Plus, TypeBGP4Plus01:
		rec, err = decodeBGP(d, h, payload)
	case TypeRIP:
		rec, err = decodeRIP(d, payload)
	case TypeRIPng:
		rec, err = decodeRIPng(d, payload)
	case TypeOSPFv2:
		rec, err = decodeOSPFv2(d, payload)
	case TypeTableDump:
		rec, err = decodeTableDump(d, h)
	case TypeTableDumpV2:
		rec, err = decodeTableDumpV2(d, h)
	case TypeBGP4MP, TypeBGP4MPET:
		rec, err = decodeBGP4MP(d, h, payload)
	case TypeISIS, TypeISISET:
		rec, err = decodeISIS(d, payload)
	case TypeOSPFv3, TypeOSPFv3ET:
		rec, err = decodeOSPFv3(d, payload)
	default:
		return nil, &InvalidTagError{Field: "record type", Value: uint32(h.Type)}
	}
	if err != nil {
		return nil, err
	}
	return rec, nil
}
