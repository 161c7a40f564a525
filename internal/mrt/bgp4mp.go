package mrt

import (
	"fmt"
	"net/netip"
)

// BGP4MP is a BGP4MP (type 16) or BGP4MP_ET (type 17) record.
type BGP4MP struct {
	Subtype uint16
	Body    BGP4MPBody
}

func (*BGP4MP) isRecord() {}

// BGP4MPBody is one of *BGP4MPStateChange, *BGP4MPMessage, *BGP4MPEntry or *Sync.
type BGP4MPBody interface {
	isBGP4MPBody()
}

// Peering is the prefix shared by every BGP4MP subtype except SNAPSHOT.
type Peering struct {
	PeerAS       uint32
	LocalAS      uint32
	AS4          bool // AS numbers were 4 bytes on the wire
	Interface    uint16
	AFI          AFI
	PeerAddress  netip.Addr
	LocalAddress netip.Addr
}

// size is the number of wire bytes the peering prefix occupies.
func (p *Peering) size() int {
	return fixedPeeringSize(p.AS4) + 2*p.AFI.Width()
}

// fixedPeeringSize covers peer_as, local_as, interface and afi.
func fixedPeeringSize(as4 bool) int {
	if as4 {
		return 12
	}
	return 8
}

// BGP4MPStateChange is a peer FSM transition (STATE_CHANGE, STATE_CHANGE_AS4).
type BGP4MPStateChange struct {
	Peering
	OldState State
	NewState State
}

// BGP4MPMessage carries one opaque BGP message (MESSAGE and its AS4, LOCAL
// and ADDPATH variants). ADD-PATH changes only how Message must be parsed.
type BGP4MPMessage struct {
	Peering
	Local   bool
	AddPath bool
	Message []byte
}

// BGP4MPEntry is the obsolete inline RIB entry.
type BGP4MPEntry struct {
	Peering
	ViewNumber     uint16
	Status         uint16
	TimeLastChange uint32
	EntryAFI       AFI
	SAFI           uint8
	NextHop        []byte
	PrefixLength   uint8
	Prefix         []byte // ceil(PrefixLength/8) bytes
	Attributes     []byte
}

// Network returns the entry's prefix.
func (e *BGP4MPEntry) Network() (netip.Prefix, error) {
	return prefixFromBytes(e.EntryAFI, e.PrefixLength, e.Prefix)
}

func (*BGP4MPStateChange) isBGP4MPBody() {}
func (*BGP4MPMessage) isBGP4MPBody()     {}
func (*BGP4MPEntry) isBGP4MPBody()       {}
func (*Sync) isBGP4MPBody()              {}

// messageFlags describes how a BGP4MP message subtype is framed.
type messageFlags struct {
	as4, local, addPath bool
}

var bgp4mpMessages = map[uint16]messageFlags{
	BGP4MPSubMessage:                {},
	BGP4MPSubMessageAS4:             {as4: true},
	BGP4MPSubMessageLocal:           {local: true},
	BGP4MPSubMessageAS4Local:        {as4: true, local: true},
	BGP4MPSubMessageAddPath:         {addPath: true},
	BGP4MPSubMessageAS4AddPath:      {as4: true, addPath: true},
	BGP4MPSubMessageLocalAddPath:    {local: true, addPath: true},
	BGP4MPSubMessageAS4LocalAddPath: {as4: true, local: true, addPath: true},
}

func decodeBGP4MP(d *decoder, h *Header, payload uint32) (*BGP4MP, error) {
	rec := &BGP4MP{Subtype: h.Subtype}

	var err error
	if f, ok := bgp4mpMessages[h.Subtype]; ok {
		rec.Body, err = decodeBGP4MPMessage(d, f, payload)
	} else {
		switch h.Subtype {
		case BGP4MPSubStateChange:
			rec.Body, err = decodeBGP4MPStateChange(d, false)
		case BGP4MPSubStateChangeAS4:
			rec.Body, err = decodeBGP4MPStateChange(d, true)
		case BGP4MPSubSnapshot:
			rec.Body, err = decodeSync(d)
		case BGP4MPSubEntry:
			rec.Body, err = decodeBGP4MPEntry(d)
		default:
			return nil, &InvalidTagError{Field: "bgp4mp subtype", Value: uint32(h.Subtype)}
		}
	}
	if err != nil {
		return nil, fmt.Errorf("bgp4mp subtype %d: %w", h.Subtype, err)
	}
	return rec, nil
}

func decodePeering(d *decoder, as4 bool) (Peering, error) {
	var p Peering
	var err error
	p.AS4 = as4
	if p.PeerAS, err = d.as(as4); err != nil {
		return p, err
	}
	if p.LocalAS, err = d.as(as4); err != nil {
		return p, err
	}
	if p.Interface, err = d.u16(); err != nil {
		return p, err
	}
	if p.AFI, err = d.afi(); err != nil {
		return p, err
	}
	if p.PeerAddress, err = d.addr(p.AFI); err != nil {
		return p, err
	}
	if p.LocalAddress, err = d.addr(p.AFI); err != nil {
		return p, err
	}
	return p, nil
}

func decodeBGP4MPMessage(d *decoder, f messageFlags, payload uint32) (*BGP4MPMessage, error) {
	p, err := decodePeering(d, f.as4)
	if err != nil {
		return nil, err
	}
	n, err := remaining("bgp4mp message", payload, p.size())
	if err != nil {
		return nil, err
	}
	m := &BGP4MPMessage{Peering: p, Local: f.local, AddPath: f.addPath}
	if m.Message, err = d.bytes(n); err != nil {
		return nil, err
	}
	return m, nil
}

func decodeBGP4MPStateChange(d *decoder, as4 bool) (*BGP4MPStateChange, error) {
	p, err := decodePeering(d, as4)
	if err != nil {
		return nil, err
	}
	old, err := d.u16()
	if err != nil {
		return nil, err
	}
	cur, err := d.u16()
	if err != nil {
		return nil, err
	}
	return &BGP4MPStateChange{Peering: p, OldState: State(old), NewState: State(cur)}, nil
}

func decodeBGP4MPEntry(d *decoder) (*BGP4MPEntry, error) {
	p, err := decodePeering(d, false)
	if err != nil {
		return nil, err
	}
	e := &BGP4MPEntry{Peering: p}
	if e.ViewNumber, err = d.u16(); err != nil {
		return nil, err
	}
	if e.Status, err = d.u16(); err != nil {
		return nil, err
	}
	if e.TimeLastChange, err = d.u32(); err != nil {
		return nil, err
	}
	if e.EntryAFI, err = d.afi(); err != nil {
		return nil, err
	}
	if e.SAFI, err = d.u8(); err != nil {
		return nil, err
	}
	nhLen, err := d.u8()
	if err != nil {
		return nil, err
	}
	if e.NextHop, err = d.bytes(int(nhLen)); err != nil {
		return nil, err
	}
	if e.PrefixLength, err = d.u8(); err != nil {
		return nil, err
	}
	if e.Prefix, err = d.prefix(e.PrefixLength, e.EntryAFI.Bits()); err != nil {
		return nil, err
	}
	attrLen, err := d.u16()
	if err != nil {
		return nil, err
	}
	if e.Attributes, err = d.bytes(int(attrLen)); err != nil {
		return nil, err
	}
	return e, nil
}
