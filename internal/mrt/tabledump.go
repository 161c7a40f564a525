package mrt

import (
	"fmt"
	"net/netip"
	"strings"
)

// TableDump is a legacy TABLE_DUMP (type 12) RIB entry. The subtype selects
// the address family of Prefix and PeerAddress.
type TableDump struct {
	ViewNumber     uint16
	SequenceNumber uint16
	Prefix         netip.Addr
	PrefixLength   uint8
	Status         uint8
	OriginatedTime uint32
	PeerAddress    netip.Addr
	PeerAS         uint16
	Attributes     []byte
}

func (*TableDump) isRecord() {}

// Network returns the entry's prefix as a masked netip.Prefix.
func (t *TableDump) Network() (netip.Prefix, error) {
	return t.Prefix.Prefix(int(t.PrefixLength))
}

// TableDumpV2 is a TABLE_DUMP_V2 (type 13) record.
type TableDumpV2 struct {
	Subtype uint16
	Body    TableDumpV2Body
}

func (*TableDumpV2) isRecord() {}

// TableDumpV2Body is one of *PeerIndexTable, *RIBAFI or *RIBGeneric.
type TableDumpV2Body interface {
	isTableDumpV2Body()
}

// PeerIndexTable lists the peers referenced by index from the RIB records
// that follow it in the same dump.
type PeerIndexTable struct {
	CollectorID uint32
	ViewName    string // invalid UTF-8 replaced with U+FFFD
	Peers       []PeerEntry
}

// Peer type flags.
const (
	PeerTypeIPv6 uint8 = 1 << 0
	PeerTypeAS4  uint8 = 1 << 1
)

// PeerEntry is one peer of a PeerIndexTable.
type PeerEntry struct {
	PeerType uint8
	BGPID    uint32
	Address  netip.Addr
	AS       uint32
}

func (p *PeerEntry) IPv6() bool { return p.PeerType&PeerTypeIPv6 != 0 }
func (p *PeerEntry) AS4() bool  { return p.PeerType&PeerTypeAS4 != 0 }

// RIBEntry is one route to the prefix of its enclosing RIB record.
// PathID is set only in the ADDPATH subtypes.
type RIBEntry struct {
	PeerIndex      uint16
	OriginatedTime uint32
	PathID         uint32
	Attributes     []byte
}

// RIBAFI is one of the AFI/SAFI-specific RIB subtypes (2–5, 8–11).
type RIBAFI struct {
	SequenceNumber uint32
	AFI            AFI
	Multicast      bool
	PrefixLength   uint8
	Prefix         []byte // ceil(PrefixLength/8) bytes
	AddPath        bool
	Entries        []RIBEntry
}

// Network returns the prefix as a masked netip.Prefix.
func (r *RIBAFI) Network() (netip.Prefix, error) {
	return prefixFromBytes(r.AFI, r.PrefixLength, r.Prefix)
}

// RIBGeneric is RIB_GENERIC (6) or RIB_GENERIC_ADDPATH (12).
type RIBGeneric struct {
	SequenceNumber uint32
	AFI            AFI
	SAFI           uint8
	// NLRIPrefixLength is the bit length byte that precedes NLRI for IPv4
	// with SAFIMPLSVPN. Zero otherwise.
	NLRIPrefixLength uint8
	NLRI             []byte
	AddPath          bool
	Entries          []RIBEntry
}

func (*PeerIndexTable) isTableDumpV2Body() {}
func (*RIBAFI) isTableDumpV2Body()         {}
func (*RIBGeneric) isTableDumpV2Body()     {}

// prefixFromBytes widens a byte-rounded prefix to a full address.
func prefixFromBytes(afi AFI, bits uint8, b []byte) (netip.Prefix, error) {
	var full [16]byte
	copy(full[:afi.Width()], b)
	var a netip.Addr
	if afi == AFIIPv6 {
		a = netip.AddrFrom16(full)
	} else {
		a = netip.AddrFrom4([4]byte(full[:4]))
	}
	return a.Prefix(int(bits))
}

// ribAFISubtypes maps the AFI-specific RIB subtypes to their family and flags.
var ribAFISubtypes = map[uint16]struct {
	afi                AFI
	multicast, addPath bool
}{
	TableDumpV2SubRIBIPv4Unicast:          {afi: AFIIPv4},
	TableDumpV2SubRIBIPv4Multicast:        {afi: AFIIPv4, multicast: true},
	TableDumpV2SubRIBIPv6Unicast:          {afi: AFIIPv6},
	TableDumpV2SubRIBIPv6Multicast:        {afi: AFIIPv6, multicast: true},
	TableDumpV2SubRIBIPv4UnicastAddPath:   {afi: AFIIPv4, addPath: true},
	TableDumpV2SubRIBIPv4MulticastAddPath: {afi: AFIIPv4, multicast: true, addPath: true},
	TableDumpV2SubRIBIPv6UnicastAddPath:   {afi: AFIIPv6, addPath: true},
	TableDumpV2SubRIBIPv6MulticastAddPath: {afi: AFIIPv6, multicast: true, addPath: true},
}

func decodeTableDump(d *decoder, h *Header) (*TableDump, error) {
	var afi AFI
	switch h.Subtype {
	case TableDumpSubIPv4:
		afi = AFIIPv4
	case TableDumpSubIPv6:
		afi = AFIIPv6
	default:
		return nil, &InvalidTagError{Field: "table_dump subtype", Value: uint32(h.Subtype)}
	}

	t := &TableDump{}
	if err := t.decode(d, afi); err != nil {
		return nil, fmt.Errorf("table_dump: %w", err)
	}
	return t, nil
}

func (t *TableDump) decode(d *decoder, afi AFI) error {
	var err error
	if t.ViewNumber, err = d.u16(); err != nil {
		return err
	}
	if t.SequenceNumber, err = d.u16(); err != nil {
		return err
	}
	if t.Prefix, err = d.addr(afi); err != nil {
		return err
	}
	if t.PrefixLength, err = d.u8(); err != nil {
		return err
	}
	if t.Status, err = d.u8(); err != nil {
		return err
	}
	if t.OriginatedTime, err = d.u32(); err != nil {
		return err
	}
	if t.PeerAddress, err = d.addr(afi); err != nil {
		return err
	}
	if t.PeerAS, err = d.u16(); err != nil {
		return err
	}
	n, err := d.u16()
	if err != nil {
		return err
	}
	t.Attributes, err = d.bytes(int(n))
	return err
}

func decodeTableDumpV2(d *decoder, h *Header) (*TableDumpV2, error) {
	rec := &TableDumpV2{Subtype: h.Subtype}

	var err error
	if s, ok := ribAFISubtypes[h.Subtype]; ok {
		r := &RIBAFI{AFI: s.afi, Multicast: s.multicast, AddPath: s.addPath}
		err = r.decode(d)
		rec.Body = r
	} else {
		switch h.Subtype {
		case TableDumpV2SubPeerIndexTable:
			rec.Body, err = decodePeerIndexTable(d)
		case TableDumpV2SubRIBGeneric, TableDumpV2SubRIBGenericAddPath:
			r := &RIBGeneric{AddPath: h.Subtype == TableDumpV2SubRIBGenericAddPath}
			err = r.decode(d)
			rec.Body = r
		default:
			return nil, &InvalidTagError{Field: "table_dump_v2 subtype", Value: uint32(h.Subtype)}
		}
	}
	if err != nil {
		return nil, fmt.Errorf("table_dump_v2 subtype %d: %w", h.Subtype, err)
	}
	return rec, nil
}

func decodePeerIndexTable(d *decoder) (*PeerIndexTable, error) {
	t := &PeerIndexTable{}
	var err error
	if t.CollectorID, err = d.u32(); err != nil {
		return nil, err
	}
	nameLen, err := d.u16()
	if err != nil {
		return nil, err
	}
	name, err := d.bytes(int(nameLen))
	if err != nil {
		return nil, err
	}
	t.ViewName = strings.ToValidUTF8(string(name), "�")

	count, err := d.u16()
	if err != nil {
		return nil, err
	}
	t.Peers = make([]PeerEntry, 0, count)
	for i := 0; i < int(count); i++ {
		var p PeerEntry
		if err := p.decode(d); err != nil {
			return nil, fmt.Errorf("peer %d: %w", i, err)
		}
		t.Peers = append(t.Peers, p)
	}
	return t, nil
}

func (p *PeerEntry) decode(d *decoder) error {
	var err error
	if p.PeerType, err = d.u8(); err != nil {
		return err
	}
	if p.BGPID, err = d.u32(); err != nil {
		return err
	}
	afi := AFIIPv4
	if p.IPv6() {
		afi = AFIIPv6
	}
	if p.Address, err = d.addr(afi); err != nil {
		return err
	}
	p.AS, err = d.as(p.AS4())
	return err
}

func (r *RIBAFI) decode(d *decoder) error {
	var err error
	if r.SequenceNumber, err = d.u32(); err != nil {
		return err
	}
	if r.PrefixLength, err = d.u8(); err != nil {
		return err
	}
	if r.Prefix, err = d.prefix(r.PrefixLength, r.AFI.Bits()); err != nil {
		return err
	}
	r.Entries, err = decodeRIBEntries(d, r.AddPath)
	return err
}

func (r *RIBGeneric) decode(d *decoder) error {
	var err error
	if r.SequenceNumber, err = d.u32(); err != nil {
		return err
	}
	if r.AFI, err = d.afi(); err != nil {
		return err
	}
	if r.SAFI, err = d.u8(); err != nil {
		return err
	}

	switch {
	case r.AFI == AFIIPv4 && r.SAFI == SAFIMPLSVPN:
		if r.NLRIPrefixLength, err = d.u8(); err != nil {
			return err
		}
		r.NLRI, err = d.bytes((int(r.NLRIPrefixLength) + 7) / 8)
	default:
		r.NLRI, err = d.bytes(r.AFI.Width())
	}
	if err != nil {
		return err
	}
	r.Entries, err = decodeRIBEntries(d, r.AddPath)
	return err
}

func decodeRIBEntries(d *decoder, addPath bool) ([]RIBEntry, error) {
	count, err := d.u16()
	if err != nil {
		return nil, err
	}
	entries := make([]RIBEntry, 0, count)
	for i := 0; i < int(count); i++ {
		var e RIBEntry
		if err := e.decode(d, addPath); err != nil {
			return nil, fmt.Errorf("rib entry %d: %w", i, err)
		}
		entries = append(entries, e)
	}
	return entries, nil
}

func (e *RIBEntry) decode(d *decoder, addPath bool) error {
	var err error
	if e.PeerIndex, err = d.u16(); err != nil {
		return err
	}
	if e.OriginatedTime, err = d.u32(); err != nil {
		return err
	}
	if addPath {
		if e.PathID, err = d.u32(); err != nil {
			return err
		}
	}
	n, err := d.u16()
	if err != nil {
		return err
	}
	e.Attributes, err = d.bytes(int(n))
	return err
}
