package mrt

import (
	"bytes"
	"encoding/binary"
	"net/netip"
)

// buildRecord frames payload with a 12-byte header whose length is len(payload).
func buildRecord(ts uint32, typ Type, sub uint16, payload []byte) []byte {
	b := make([]byte, 0, HeaderSize+len(payload))
	b = binary.BigEndian.AppendUint32(b, ts)
	b = binary.BigEndian.AppendUint16(b, uint16(typ))
	b = binary.BigEndian.AppendUint16(b, sub)
	b = binary.BigEndian.AppendUint32(b, uint32(len(payload)))
	return append(b, payload...)
}

// buildETRecord frames payload with an extended header. The length field
// counts the microsecond field.
func buildETRecord(ts, micro uint32, typ Type, sub uint16, payload []byte) []byte {
	b := make([]byte, 0, ExtendedHeaderSize+len(payload))
	b = binary.BigEndian.AppendUint32(b, ts)
	b = binary.BigEndian.AppendUint16(b, uint16(typ))
	b = binary.BigEndian.AppendUint16(b, sub)
	b = binary.BigEndian.AppendUint32(b, uint32(len(payload)+4))
	b = binary.BigEndian.AppendUint32(b, micro)
	return append(b, payload...)
}

// withLength overwrites the header length field of a framed record.
func withLength(rec []byte, n uint32) []byte {
	out := append([]byte(nil), rec...)
	binary.BigEndian.PutUint32(out[8:12], n)
	return out
}

// wire is a small big-endian byte builder for test fixtures.
type wire struct {
	bytes.Buffer
}

func (p *wire) u8(v uint8) *wire {
	p.WriteByte(v)
	return p
}

func (p *wire) u16(v uint16) *wire {
	p.Write(binary.BigEndian.AppendUint16(nil, v))
	return p
}

func (p *wire) u32(v uint32) *wire {
	p.Write(binary.BigEndian.AppendUint32(nil, v))
	return p
}

func (p *wire) addr(s string) *wire {
	p.Write(netip.MustParseAddr(s).AsSlice())
	return p
}

func (p *wire) raw(b ...byte) *wire {
	p.Write(b)
	return p
}

// buildBGP4MPMessage builds a BGP4MP MESSAGE payload with IPv4 addresses.
func buildBGP4MPMessage(peerAS, localAS uint16, peer, local string, msg []byte) []byte {
	var p wire
	p.u16(peerAS).u16(localAS).u16(0).u16(uint16(AFIIPv4)).addr(peer).addr(local).raw(msg...)
	return p.Bytes()
}

func mustAddr(s string) netip.Addr {
	return netip.MustParseAddr(s)
}
