package mrt

import (
	"fmt"
	"time"
)

// Type is the MRT record type from the common header (RFC 6396 §4).
type Type uint16

// MRT record type codes. Types below 11 are deprecated but still decoded.
const (
	TypeNull        Type = 0
	TypeStart       Type = 1
	TypeDie         Type = 2
	TypeIAmDead     Type = 3
	TypePeerDown    Type = 4
	TypeBGP         Type = 5
	TypeRIP         Type = 6
	TypeIDRP        Type = 7
	TypeRIPng       Type = 8
	TypeBGP4Plus    Type = 9
	TypeBGP4Plus01  Type = 10
	TypeOSPFv2      Type = 11
	TypeTableDump   Type = 12
	TypeTableDumpV2 Type = 13
	TypeBGP4MP      Type = 16
	TypeBGP4MPET    Type = 17
	TypeISIS        Type = 32
	TypeISISET      Type = 33
	TypeOSPFv3      Type = 48
	TypeOSPFv3ET    Type = 49
)

var typeNames = map[Type]string{
	TypeNull:        "NULL",
	TypeStart:       "START",
	TypeDie:         "DIE",
	TypeIAmDead:     "I_AM_DEAD",
	TypePeerDown:    "PEER_DOWN",
	TypeBGP:         "BGP",
	TypeRIP:         "RIP",
	TypeIDRP:        "IDRP",
	TypeRIPng:       "RIPNG",
	TypeBGP4Plus:    "BGP4PLUS",
	TypeBGP4Plus01:  "BGP4PLUS_01",
	TypeOSPFv2:      "OSPFv2",
	TypeTableDump:   "TABLE_DUMP",
	TypeTableDumpV2: "TABLE_DUMP_V2",
	TypeBGP4MP:      "BGP4MP",
	TypeBGP4MPET:    "BGP4MP_ET",
	TypeISIS:        "ISIS",
	TypeISISET:      "ISIS_ET",
	TypeOSPFv3:      "OSPFv3",
	TypeOSPFv3ET:    "OSPFv3_ET",
}

func (t Type) String() string {
	if s, ok := typeNames[t]; ok {
		return s
	}
	return fmt.Sprintf("UNKNOWN(%d)", uint16(t))
}

// HasExtendedTimestamp reports whether a microsecond field follows the common header.
func (t Type) HasExtendedTimestamp() bool {
	switch t {
	case TypeBGP4MPET, TypeISISET, TypeOSPFv3ET:
		return true
	default:
		return false
	}
}

// Legacy BGP, BGP4PLUS and BGP4PLUS_01 subtypes (RFC 6396 Appendix B).
const (
	BGPSubNull        uint16 = 0
	BGPSubUpdate      uint16 = 1
	BGPSubPrefUpdate  uint16 = 2
	BGPSubStateChange uint16 = 3
	BGPSubSync        uint16 = 4
	BGPSubOpen        uint16 = 5
	BGPSubNotify      uint16 = 6
	BGPSubKeepalive   uint16 = 7
)

// BGP4MP and BGP4MP_ET subtypes (RFC 6396 §4.4, RFC 8050 §3).
const (
	BGP4MPSubStateChange            uint16 = 0
	BGP4MPSubMessage                uint16 = 1
	BGP4MPSubEntry                  uint16 = 2
	BGP4MPSubSnapshot               uint16 = 3
	BGP4MPSubMessageAS4             uint16 = 4
	BGP4MPSubStateChangeAS4         uint16 = 5
	BGP4MPSubMessageLocal           uint16 = 6
	BGP4MPSubMessageAS4Local        uint16 = 7
	BGP4MPSubMessageAddPath         uint16 = 8
	BGP4MPSubMessageAS4AddPath      uint16 = 9
	BGP4MPSubMessageLocalAddPath    uint16 = 10
	BGP4MPSubMessageAS4LocalAddPath uint16 = 11
)

// TABLE_DUMP subtypes double as the AFI of the entry.
const (
	TableDumpSubIPv4 uint16 = 1
	TableDumpSubIPv6 uint16 = 2
)

// TABLE_DUMP_V2 subtypes (RFC 6396 §4.3, RFC 8050 §4).
// Subtype 7 (GEO_PEER_TABLE) is not decoded.
const (
	TableDumpV2SubPeerIndexTable          uint16 = 1
	TableDumpV2SubRIBIPv4Unicast          uint16 = 2
	TableDumpV2SubRIBIPv4Multicast        uint16 = 3
	TableDumpV2SubRIBIPv6Unicast          uint16 = 4
	TableDumpV2SubRIBIPv6Multicast        uint16 = 5
	TableDumpV2SubRIBGeneric              uint16 = 6
	TableDumpV2SubRIBIPv4UnicastAddPath   uint16 = 8
	TableDumpV2SubRIBIPv4MulticastAddPath uint16 = 9
	TableDumpV2SubRIBIPv6UnicastAddPath   uint16 = 10
	TableDumpV2SubRIBIPv6MulticastAddPath uint16 = 11
	TableDumpV2SubRIBGenericAddPath       uint16 = 12
)

// SAFIMPLSVPN is the MPLS-labeled VPN SAFI whose RIB_GENERIC NLRI carries a length prefix.
const SAFIMPLSVPN uint8 = 128

// State is a BGP finite state machine state (RFC 4271 §8).
type State uint16

const (
	StateIdle        State = 1
	StateConnect     State = 2
	StateActive      State = 3
	StateOpenSent    State = 4
	StateOpenConfirm State = 5
	StateEstablished State = 6
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "Idle"
	case StateConnect:
		return "Connect"
	case StateActive:
		return "Active"
	case StateOpenSent:
		return "OpenSent"
	case StateOpenConfirm:
		return "OpenConfirm"
	case StateEstablished:
		return "Established"
	default:
		return fmt.Sprintf("Unknown(%d)", uint16(s))
	}
}

// Header sizes.
const (
	HeaderSize         = 12 // timestamp(4) + type(2) + subtype(2) + length(4)
	ExtendedHeaderSize = 16 // HeaderSize + microseconds(4)
)

// Header is the common header preceding every MRT record.
type Header struct {
	Timestamp    uint32 // UNIX seconds
	Microseconds uint32 // zero unless Type has an extended timestamp
	Type         Type
	Subtype      uint16
	Length       uint32 // as found on the wire; for _ET types it includes the microsecond field
}

// Time returns the record timestamp in UTC, including the microsecond
// extension when present.
func (h *Header) Time() time.Time {
	return time.Unix(int64(h.Timestamp), int64(h.Microseconds)*int64(time.Microsecond)).UTC()
}

// payloadLength returns the number of bytes following the (possibly extended) header.
func (h *Header) payloadLength() (uint32, error) {
	if !h.Type.HasExtendedTimestamp() {
		return h.Length, nil
	}
	if h.Length < 4 {
		return 0, &LengthError{What: "extended header", Declared: h.Length, Need: 4}
	}
	return h.Length - 4, nil
}

// Record is one decoded MRT record. The concrete value is one of
// *Empty, *BGP, *RIP, *RIPng, *OSPFv2, *OSPFv3, *ISIS, *TableDump,
// *TableDumpV2 or *BGP4MP; the Header says which record type produced it.
type Record interface {
	isRecord()
}

// Empty is the record for types that carry no payload:
// NULL, START, DIE, I_AM_DEAD, PEER_DOWN and IDRP.
type Empty struct{}

func (*Empty) isRecord() {}
