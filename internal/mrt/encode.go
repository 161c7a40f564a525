package mrt

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"net/netip"
)

// AppendRecord appends the wire encoding of rec to dst using h for the
// timestamp, type and subtype. The length field is computed from the encoded
// payload; h.Length is ignored. The record must be one that h.Type decodes to.
func AppendRecord(dst []byte, h *Header, rec Record) ([]byte, error) {
	start := len(dst)
	dst = binary.BigEndian.AppendUint32(dst, h.Timestamp)
	dst = binary.BigEndian.AppendUint16(dst, uint16(h.Type))
	dst = binary.BigEndian.AppendUint16(dst, h.Subtype)
	dst = binary.BigEndian.AppendUint32(dst, 0) // patched below
	if h.Type.HasExtendedTimestamp() {
		dst = binary.BigEndian.AppendUint32(dst, h.Microseconds)
	}
	body := len(dst)

	e := encoder{b: dst}
	if err := e.record(h, rec); err != nil {
		return dst[:start], fmt.Errorf("mrt: encode %s subtype %d: %w", h.Type, h.Subtype, err)
	}
	dst = e.b

	n := len(dst) - body
	if h.Type.HasExtendedTimestamp() {
		n += 4
	}
	if uint64(n) > math.MaxUint32 {
		return dst[:start], fmt.Errorf("mrt: encode %s: payload of %d bytes is too long", h.Type, n)
	}
	binary.BigEndian.PutUint32(dst[start+8:start+12], uint32(n))
	return dst, nil
}

// Marshal returns the wire encoding of one record.
func Marshal(h *Header, rec Record) ([]byte, error) {
	return AppendRecord(nil, h, rec)
}

type encoder struct {
	b []byte
}

var errWrongRecord = errors.New("record does not match header type")

func (e *encoder) u8(v uint8)   { e.b = append(e.b, v) }
func (e *encoder) u16(v uint16) { e.b = binary.BigEndian.AppendUint16(e.b, v) }
func (e *encoder) u32(v uint32) { e.b = binary.BigEndian.AppendUint32(e.b, v) }
func (e *encoder) raw(b []byte) { e.b = append(e.b, b...) }

func (e *encoder) as(v uint32, as4 bool) error {
	if as4 {
		e.u32(v)
		return nil
	}
	if v > math.MaxUint16 {
		return fmt.Errorf("AS %d does not fit in 2 bytes", v)
	}
	e.u16(uint16(v))
	return nil
}

func (e *encoder) addr(afi AFI, a netip.Addr) error {
	switch {
	case afi == AFIIPv4 && a.Is4():
		b := a.As4()
		e.raw(b[:])
	case afi == AFIIPv6 && a.Is6():
		b := a.As16()
		e.raw(b[:])
	default:
		return fmt.Errorf("address %v is not %s", a, afi)
	}
	return nil
}

// blob16 writes a u16 length followed by b.
func (e *encoder) blob16(what string, b []byte) error {
	if len(b) > math.MaxUint16 {
		return fmt.Errorf("%s of %d bytes is too long", what, len(b))
	}
	e.u16(uint16(len(b)))
	e.raw(b)
	return nil
}

func (e *encoder) prefix(bits uint8, b []byte) error {
	if want := (int(bits) + 7) / 8; len(b) != want {
		return fmt.Errorf("prefix /%d needs %d bytes, have %d", bits, want, len(b))
	}
	e.raw(b)
	return nil
}

func (e *encoder) record(h *Header, rec Record) error {
	switch r := rec.(type) {
	case *Empty:
		switch h.Type {
		case TypeNull, TypeStart, TypeDie, TypeIAmDead, TypePeerDown, TypeIDRP:
			return nil
		}
	case *BGP:
		if h.Type == TypeBGP || h.Type == TypeBGP4Plus || h.Type == TypeBGP4Plus01 {
			return e.bgp(h, r)
		}
	case *BGP4MP:
		if h.Type == TypeBGP4MP || h.Type == TypeBGP4MPET {
			return e.bgp4mp(h, r)
		}
	case *RIP:
		if h.Type == TypeRIP {
			return e.addressPair(AFIIPv4, r.Remote, r.Local, r.Message)
		}
	case *RIPng:
		if h.Type == TypeRIPng {
			return e.addressPair(AFIIPv6, r.Remote, r.Local, r.Message)
		}
	case *OSPFv2:
		if h.Type == TypeOSPFv2 {
			return e.addressPair(AFIIPv4, r.Remote, r.Local, r.Message)
		}
	case *OSPFv3:
		if h.Type == TypeOSPFv3 || h.Type == TypeOSPFv3ET {
			e.u16(uint16(r.AFI))
			return e.addressPair(r.AFI, r.Remote, r.Local, r.Message)
		}
	case *ISIS:
		if h.Type == TypeISIS || h.Type == TypeISISET {
			e.raw(r.PDU)
			return nil
		}
	case *TableDump:
		if h.Type == TypeTableDump {
			return e.tableDump(h, r)
		}
	case *TableDumpV2:
		if h.Type == TypeTableDumpV2 {
			return e.tableDumpV2(h, r)
		}
	}
	return fmt.Errorf("%w: %T", errWrongRecord, rec)
}

func (e *encoder) addressPair(afi AFI, remote, local netip.Addr, msg []byte) error {
	if err := e.addr(afi, remote); err != nil {
		return err
	}
	if err := e.addr(afi, local); err != nil {
		return err
	}
	e.raw(msg)
	return nil
}

func (e *encoder) sync(s *Sync) error {
	for _, c := range s.Filename {
		if c == 0 {
			return errors.New("filename contains NUL")
		}
	}
	e.u16(s.ViewNumber)
	e.raw(s.Filename)
	e.u8(0)
	return nil
}

func (e *encoder) bgp(h *Header, r *BGP) error {
	if r.Subtype != h.Subtype {
		return fmt.Errorf("record subtype %d", r.Subtype)
	}
	afi := legacyAFI(h.Type)
	switch body := r.Body.(type) {
	case nil:
		if h.Subtype == BGPSubNull || h.Subtype == BGPSubPrefUpdate {
			return nil
		}
	case *BGPMessage:
		switch h.Subtype {
		case BGPSubUpdate, BGPSubOpen, BGPSubNotify, BGPSubKeepalive:
			e.u16(body.PeerAS)
			if err := e.addr(afi, body.PeerAddress); err != nil {
				return err
			}
			e.u16(body.LocalAS)
			if err := e.addr(afi, body.LocalAddress); err != nil {
				return err
			}
			e.raw(body.Message)
			return nil
		}
	case *BGPStateChange:
		if h.Subtype == BGPSubStateChange {
			e.u16(body.PeerAS)
			if err := e.addr(afi, body.PeerAddress); err != nil {
				return err
			}
			e.u16(uint16(body.OldState))
			e.u16(uint16(body.NewState))
			return nil
		}
	case *Sync:
		if h.Subtype == BGPSubSync {
			return e.sync(body)
		}
	}
	return fmt.Errorf("%w: %T", errWrongRecord, r.Body)
}

func (e *encoder) peering(p *Peering, as4 bool) error {
	if p.AS4 != as4 {
		return fmt.Errorf("peering AS4=%t, subtype requires %t", p.AS4, as4)
	}
	if err := e.as(p.PeerAS, as4); err != nil {
		return err
	}
	if err := e.as(p.LocalAS, as4); err != nil {
		return err
	}
	e.u16(p.Interface)
	e.u16(uint16(p.AFI))
	if err := e.addr(p.AFI, p.PeerAddress); err != nil {
		return err
	}
	return e.addr(p.AFI, p.LocalAddress)
}

func (e *encoder) bgp4mp(h *Header, r *BGP4MP) error {
	if r.Subtype != h.Subtype {
		return fmt.Errorf("record subtype %d", r.Subtype)
	}
	switch body := r.Body.(type) {
	case *BGP4MPMessage:
		if f, ok := bgp4mpMessages[h.Subtype]; ok {
			if err := e.peering(&body.Peering, f.as4); err != nil {
				return err
			}
			e.raw(body.Message)
			return nil
		}
	case *BGP4MPStateChange:
		if h.Subtype == BGP4MPSubStateChange || h.Subtype == BGP4MPSubStateChangeAS4 {
			if err := e.peering(&body.Peering, h.Subtype == BGP4MPSubStateChangeAS4); err != nil {
				return err
			}
			e.u16(uint16(body.OldState))
			e.u16(uint16(body.NewState))
			return nil
		}
	case *Sync:
		if h.Subtype == BGP4MPSubSnapshot {
			return e.sync(body)
		}
	case *BGP4MPEntry:
		if h.Subtype == BGP4MPSubEntry {
			return e.bgp4mpEntry(body)
		}
	}
	return fmt.Errorf("%w: %T", errWrongRecord, r.Body)
}

func (e *encoder) bgp4mpEntry(b *BGP4MPEntry) error {
	if err := e.peering(&b.Peering, false); err != nil {
		return err
	}
	e.u16(b.ViewNumber)
	e.u16(b.Status)
	e.u32(b.TimeLastChange)
	e.u16(uint16(b.EntryAFI))
	e.u8(b.SAFI)
	if len(b.NextHop) > math.MaxUint8 {
		return fmt.Errorf("next hop of %d bytes is too long", len(b.NextHop))
	}
	e.u8(uint8(len(b.NextHop)))
	e.raw(b.NextHop)
	e.u8(b.PrefixLength)
	if err := e.prefix(b.PrefixLength, b.Prefix); err != nil {
		return err
	}
	return e.blob16("attributes", b.Attributes)
}

func (e *encoder) tableDump(h *Header, t *TableDump) error {
	afi, err := ParseAFI(h.Subtype)
	if err != nil {
		return err
	}
	e.u16(t.ViewNumber)
	e.u16(t.SequenceNumber)
	if err := e.addr(afi, t.Prefix); err != nil {
		return err
	}
	e.u8(t.PrefixLength)
	e.u8(t.Status)
	e.u32(t.OriginatedTime)
	if err := e.addr(afi, t.PeerAddress); err != nil {
		return err
	}
	e.u16(t.PeerAS)
	return e.blob16("attributes", t.Attributes)
}

func (e *encoder) tableDumpV2(h *Header, t *TableDumpV2) error {
	if t.Subtype != h.Subtype {
		return fmt.Errorf("record subtype %d", t.Subtype)
	}
	switch body := t.Body.(type) {
	case *PeerIndexTable:
		if h.Subtype == TableDumpV2SubPeerIndexTable {
			return e.peerIndexTable(body)
		}
	case *RIBAFI:
		if s, ok := ribAFISubtypes[h.Subtype]; ok {
			e.u32(body.SequenceNumber)
			e.u8(body.PrefixLength)
			if err := e.prefix(body.PrefixLength, body.Prefix); err != nil {
				return err
			}
			return e.ribEntries(body.Entries, s.addPath)
		}
	case *RIBGeneric:
		if h.Subtype == TableDumpV2SubRIBGeneric || h.Subtype == TableDumpV2SubRIBGenericAddPath {
			return e.ribGeneric(body, h.Subtype == TableDumpV2SubRIBGenericAddPath)
		}
	}
	return fmt.Errorf("%w: %T", errWrongRecord, t.Body)
}

func (e *encoder) peerIndexTable(t *PeerIndexTable) error {
	e.u32(t.CollectorID)
	if err := e.blob16("view name", []byte(t.ViewName)); err != nil {
		return err
	}
	if len(t.Peers) > math.MaxUint16 {
		return fmt.Errorf("%d peers do not fit in a peer index table", len(t.Peers))
	}
	e.u16(uint16(len(t.Peers)))
	for i := range t.Peers {
		p := &t.Peers[i]
		e.u8(p.PeerType)
		e.u32(p.BGPID)
		afi := AFIIPv4
		if p.IPv6() {
			afi = AFIIPv6
		}
		if err := e.addr(afi, p.Address); err != nil {
			return fmt.Errorf("peer %d: %w", i, err)
		}
		if err := e.as(p.AS, p.AS4()); err != nil {
			return fmt.Errorf("peer %d: %w", i, err)
		}
	}
	return nil
}

func (e *encoder) ribGeneric(r *RIBGeneric, addPath bool) error {
	if _, err := ParseAFI(uint16(r.AFI)); err != nil {
		return err
	}
	e.u32(r.SequenceNumber)
	e.u16(uint16(r.AFI))
	e.u8(r.SAFI)
	if r.AFI == AFIIPv4 && r.SAFI == SAFIMPLSVPN {
		e.u8(r.NLRIPrefixLength)
		if err := e.prefix(r.NLRIPrefixLength, r.NLRI); err != nil {
			return err
		}
	} else {
		if len(r.NLRI) != r.AFI.Width() {
			return fmt.Errorf("%s NLRI needs %d bytes, have %d", r.AFI, r.AFI.Width(), len(r.NLRI))
		}
		e.raw(r.NLRI)
	}
	return e.ribEntries(r.Entries, addPath)
}

func (e *encoder) ribEntries(entries []RIBEntry, addPath bool) error {
	if len(entries) > math.MaxUint16 {
		return fmt.Errorf("%d RIB entries do not fit in one record", len(entries))
	}
	e.u16(uint16(len(entries)))
	for i := range entries {
		en := &entries[i]
		e.u16(en.PeerIndex)
		e.u32(en.OriginatedTime)
		if addPath {
			e.u32(en.PathID)
		}
		if err := e.blob16("attributes", en.Attributes); err != nil {
			return fmt.Errorf("rib entry %d: %w", i, err)
		}
	}
	return nil
}
