package mrt

import (
	"fmt"
	"net/netip"
)

// RIP is a deprecated RIP (type 6) record with IPv4 addresses.
type RIP struct {
	Remote  netip.Addr
	Local   netip.Addr
	Message []byte
}

// RIPng is a deprecated RIPNG (type 8) record with IPv6 addresses.
type RIPng struct {
	Remote  netip.Addr
	Local   netip.Addr
	Message []byte
}

// OSPFv2 is an OSPFv2 (type 11) record with IPv4 addresses.
type OSPFv2 struct {
	Remote  netip.Addr
	Local   netip.Addr
	Message []byte
}

// OSPFv3 is an OSPFv3 (type 48) or OSPFv3_ET (type 49) record. The address
// family is explicit on the wire.
type OSPFv3 struct {
	AFI     AFI
	Remote  netip.Addr
	Local   netip.Addr
	Message []byte
}

// ISIS is an ISIS (type 32) or ISIS_ET (type 33) record; the whole payload is the PDU.
type ISIS struct {
	PDU []byte
}

func (*RIP) isRecord()    {}
func (*RIPng) isRecord()  {}
func (*OSPFv2) isRecord() {}
func (*OSPFv3) isRecord() {}
func (*ISIS) isRecord()   {}

// decodeAddressPair reads remote and local addresses of one family followed
// by an opaque message filling the rest of the payload.
func decodeAddressPair(d *decoder, what string, afi AFI, payload, fixed uint32) (remote, local netip.Addr, msg []byte, err error) {
	n, err := remaining(what, payload, int(fixed)+2*afi.Width())
	if err != nil {
		return
	}
	if remote, err = d.addr(afi); err != nil {
		return
	}
	if local, err = d.addr(afi); err != nil {
		return
	}
	msg, err = d.bytes(n)
	return
}

func decodeRIP(d *decoder, payload uint32) (*RIP, error) {
	remote, local, msg, err := decodeAddressPair(d, "rip message", AFIIPv4, payload, 0)
	if err != nil {
		return nil, fmt.Errorf("rip: %w", err)
	}
	return &RIP{Remote: remote, Local: local, Message: msg}, nil
}

func decodeRIPng(d *decoder, payload uint32) (*RIPng, error) {
	remote, local, msg, err := decodeAddressPair(d, "ripng message", AFIIPv6, payload, 0)
	if err != nil {
		return nil, fmt.Errorf("ripng: %w", err)
	}
	return &RIPng{Remote: remote, Local: local, Message: msg}, nil
}

func decodeOSPFv2(d *decoder, payload uint32) (*OSPFv2, error) {
	remote, local, msg, err := decodeAddressPair(d, "ospfv2 message", AFIIPv4, payload, 0)
	if err != nil {
		return nil, fmt.Errorf("ospfv2: %w", err)
	}
	return &OSPFv2{Remote: remote, Local: local, Message: msg}, nil
}

func decodeOSPFv3(d *decoder, payload uint32) (*OSPFv3, error) {
	afi, err := d.afi()
	if err != nil {
		return nil, fmt.Errorf("ospfv3: %w", err)
	}
	remote, local, msg, err := decodeAddressPair(d, "ospfv3 message", afi, payload, 2)
	if err != nil {
		return nil, fmt.Errorf("ospfv3: %w", err)
	}
	return &OSPFv3{AFI: afi, Remote: remote, Local: local, Message: msg}, nil
}

func decodeISIS(d *decoder, payload uint32) (*ISIS, error) {
	pdu, err := d.bytes(int(payload))
	if err != nil {
		return nil, fmt.Errorf("isis: %w", err)
	}
	return &ISIS{PDU: pdu}, nil
}
