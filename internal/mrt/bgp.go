package mrt

import (
	"fmt"
	"net/netip"
)

// BGP is a deprecated BGP (type 5), BGP4PLUS (9) or BGP4PLUS_01 (10) record.
// Type 5 carries IPv4 addresses, the BGP4PLUS types IPv6 addresses.
type BGP struct {
	Subtype uint16
	AFI     AFI
	Body    BGPBody // nil for NULL and PREF_UPDATE
}

func (*BGP) isRecord() {}

// BGPBody is one of *BGPMessage, *BGPStateChange or *Sync.
type BGPBody interface {
	isBGPBody()
}

// BGPMessage is the shared layout of UPDATE, OPEN, NOTIFY and KEEPALIVE.
type BGPMessage struct {
	PeerAS       uint16
	PeerAddress  netip.Addr
	LocalAS      uint16
	LocalAddress netip.Addr
	Message      []byte
}

// BGPStateChange is a legacy FSM transition of a peer.
type BGPStateChange struct {
	PeerAS      uint16
	PeerAddress netip.Addr
	OldState    State
	NewState    State
}

// Sync names an external RIB snapshot file. It is the body of both the
// legacy BGP SYNC subtype and BGP4MP SNAPSHOT.
type Sync struct {
	ViewNumber uint16
	Filename   []byte // without the NUL terminator
}

func (*BGPMessage) isBGPBody()     {}
func (*BGPStateChange) isBGPBody() {}
func (*Sync) isBGPBody()           {}

// legacyAFI returns the address family implied by a legacy BGP record type.
func legacyAFI(t Type) AFI {
	if t == TypeBGP {
		return AFIIPv4
	}
	return AFIIPv6
}

func decodeBGP(d *decoder, h *Header, payload uint32) (*BGP, error) {
	rec := &BGP{Subtype: h.Subtype, AFI: legacyAFI(h.Type)}

	var err error
	switch h.Subtype {
	case BGPSubNull, BGPSubPrefUpdate:
	case BGPSubUpdate, BGPSubOpen, BGPSubNotify, BGPSubKeepalive:
		rec.Body, err = decodeBGPMessage(d, rec.AFI, payload)
	case BGPSubStateChange:
		rec.Body, err = decodeBGPStateChange(d, rec.AFI)
	case BGPSubSync:
		rec.Body, err = decodeSync(d)
	default:
		return nil, &InvalidTagError{Field: fmt.Sprintf("%s subtype", h.Type), Value: uint32(h.Subtype)}
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w", h.Type, err)
	}
	return rec, nil
}

func decodeBGPMessage(d *decoder, afi AFI, payload uint32) (*BGPMessage, error) {
	// peer_as(2) + peer_ip + local_as(2) + local_ip
	n, err := remaining("bgp message", payload, 4+2*afi.Width())
	if err != nil {
		return nil, err
	}

	m := &BGPMessage{}
	if m.PeerAS, err = d.u16(); err != nil {
		return nil, err
	}
	if m.PeerAddress, err = d.addr(afi); err != nil {
		return nil, err
	}
	if m.LocalAS, err = d.u16(); err != nil {
		return nil, err
	}
	if m.LocalAddress, err = d.addr(afi); err != nil {
		return nil, err
	}
	if m.Message, err = d.bytes(n); err != nil {
		return nil, err
	}
	return m, nil
}

func decodeBGPStateChange(d *decoder, afi AFI) (*BGPStateChange, error) {
	sc := &BGPStateChange{}
	var err error
	if sc.PeerAS, err = d.u16(); err != nil {
		return nil, err
	}
	if sc.PeerAddress, err = d.addr(afi); err != nil {
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
	sc.OldState, sc.NewState = State(old), State(cur)
	return sc, nil
}

func decodeSync(d *decoder) (*Sync, error) {
	view, err := d.u16()
	if err != nil {
		return nil, err
	}
	name, err := d.cstring()
	if err != nil {
		return nil, err
	}
	return &Sync{ViewNumber: view, Filename: name}, nil
}
