package archive

import (
	"errors"
	"fmt"
	"net/netip"
	"time"

	"github.com/route-beacon/mrt-ingester/internal/mrt"
)

// Kind classifies an archived row.
type Kind string

const (
	KindControl     Kind = "control"      // NULL, START, DIE, I_AM_DEAD, PEER_DOWN, IDRP
	KindMessage     Kind = "message"      // a BGP message seen on a peering
	KindStateChange Kind = "state_change" // a BGP FSM transition
	KindSync        Kind = "sync"         // BGP SYNC / BGP4MP SNAPSHOT
	KindRIBEntry    Kind = "rib_entry"    // one route of a RIB dump
	KindPeerIndex   Kind = "peer_index"   // a TABLE_DUMP_V2 peer index table
	KindPeer        Kind = "peer"         // one entry of a peer index table
	KindProtocol    Kind = "protocol"     // RIP, RIPng, OSPF and IS-IS payloads
)

// ErrUnknownPeer is returned when a RIB entry refers to a peer index that the
// most recent PEER_INDEX_TABLE of the stream does not have.
var ErrUnknownPeer = errors.New("archive: unknown peer index")

// Row is one row of mrt_events. A record flattens to one or more rows.
type Row struct {
	EventID        []byte       `json:"-"`
	Ordinal        int          `json:"ordinal"`
	Collector      string       `json:"collector"`
	Source         string       `json:"source"`
	RecordTime     time.Time    `json:"record_time"`
	RecordType     string       `json:"record_type"`
	Subtype        uint16       `json:"subtype"`
	Kind           Kind         `json:"kind"`
	PeerAddress    netip.Addr   `json:"peer_address,omitzero"`
	PeerAS         uint32       `json:"peer_as,omitempty"`
	PeerBGPID      uint32       `json:"peer_bgp_id,omitempty"`
	LocalAddress   netip.Addr   `json:"local_address,omitzero"`
	LocalAS        uint32       `json:"local_as,omitempty"`
	AFI            uint16       `json:"afi,omitempty"`
	SAFI           uint8        `json:"safi,omitempty"`
	Prefix         netip.Prefix `json:"prefix,omitzero"`
	PathID         uint32       `json:"path_id,omitempty"`
	NextHop        netip.Addr   `json:"next_hop,omitzero"`
	OriginatedTime time.Time    `json:"originated_time,omitzero"`
	OldState       uint16       `json:"old_state,omitempty"`
	NewState       uint16       `json:"new_state,omitempty"`
	Attributes     []byte       `json:"attributes,omitempty"`
	Message        []byte       `json:"message,omitempty"`
	Raw            []byte       `json:"-"` // set on the first row of a record only
}

// Flattener turns decoded records of a single stream into rows. It keeps the
// stream's last PEER_INDEX_TABLE so RIB entries can name their peer.
// A Flattener is not safe for concurrent use.
type Flattener struct {
	collector string
	source    string
	peers     []mrt.PeerEntry
	havePeers bool
}

func NewFlattener(collector, source string) *Flattener {
	return &Flattener{collector: collector, source: source}
}

func (f *Flattener) Collector() string { return f.collector }

// Peers returns the peers of the last PEER_INDEX_TABLE seen.
func (f *Flattener) Peers() []mrt.PeerEntry { return f.peers }

// Flatten converts one record. raw is the record's wire bytes; it feeds the
// event IDs and is attached to the first row.
func (f *Flattener) Flatten(h *mrt.Header, rec mrt.Record, raw []byte) ([]*Row, error) {
	base := Row{
		Collector:  f.collector,
		Source:     f.source,
		RecordTime: h.Time(),
		RecordType: h.Type.String(),
		Subtype:    h.Subtype,
	}

	var rows []*Row
	add := func(kind Kind) *Row {
		r := base
		r.Kind = kind
		rows = append(rows, &r)
		return &r
	}

	switch v := rec.(type) {
	case *mrt.Empty:
		add(KindControl)
	case *mrt.BGP:
		flattenBGP(v, add)
	case *mrt.BGP4MP:
		if err := flattenBGP4MP(v, add); err != nil {
			return nil, err
		}
	case *mrt.TableDump:
		r := add(KindRIBEntry)
		r.AFI = uint16(tableDumpAFI(h.Subtype))
		r.SAFI = 1
		r.PeerAddress = v.PeerAddress
		r.PeerAS = uint32(v.PeerAS)
		r.OriginatedTime = unixTime(v.OriginatedTime)
		r.Attributes = v.Attributes
		p, err := v.Network()
		if err != nil {
			return nil, fmt.Errorf("archive: table_dump prefix: %w", err)
		}
		r.Prefix = p
	case *mrt.TableDumpV2:
		if err := f.flattenTableDumpV2(v, add); err != nil {
			return nil, err
		}
	case *mrt.RIP:
		protocolRow(add, uint16(mrt.AFIIPv4), v.Remote, v.Local, v.Message)
	case *mrt.RIPng:
		protocolRow(add, uint16(mrt.AFIIPv6), v.Remote, v.Local, v.Message)
	case *mrt.OSPFv2:
		protocolRow(add, uint16(mrt.AFIIPv4), v.Remote, v.Local, v.Message)
	case *mrt.OSPFv3:
		protocolRow(add, uint16(v.AFI), v.Remote, v.Local, v.Message)
	case *mrt.ISIS:
		add(KindProtocol).Message = v.PDU
	default:
		return nil, fmt.Errorf("archive: unsupported record %T", rec)
	}

	for i, r := range rows {
		r.Ordinal = i
		r.EventID = ComputeEventID(raw, i)
	}
	if len(rows) > 0 {
		rows[0].Raw = raw
	}
	return rows, nil
}

func flattenBGP(v *mrt.BGP, add func(Kind) *Row) {
	switch b := v.Body.(type) {
	case *mrt.BGPMessage:
		r := add(KindMessage)
		r.AFI = uint16(v.AFI)
		r.PeerAddress, r.PeerAS = b.PeerAddress, uint32(b.PeerAS)
		r.LocalAddress, r.LocalAS = b.LocalAddress, uint32(b.LocalAS)
		r.Message = b.Message
	case *mrt.BGPStateChange:
		r := add(KindStateChange)
		r.AFI = uint16(v.AFI)
		r.PeerAddress, r.PeerAS = b.PeerAddress, uint32(b.PeerAS)
		r.OldState, r.NewState = uint16(b.OldState), uint16(b.NewState)
	case *mrt.Sync:
		add(KindSync).Message = b.Filename
	default:
		// NULL and PREF_UPDATE carry nothing.
		add(KindControl)
	}
}

func flattenBGP4MP(v *mrt.BGP4MP, add func(Kind) *Row) error {
	peering := func(r *Row, p *mrt.Peering) {
		r.AFI = uint16(p.AFI)
		r.PeerAddress, r.PeerAS = p.PeerAddress, p.PeerAS
		r.LocalAddress, r.LocalAS = p.LocalAddress, p.LocalAS
	}
	switch b := v.Body.(type) {
	case *mrt.BGP4MPMessage:
		r := add(KindMessage)
		peering(r, &b.Peering)
		r.Message = b.Message
	case *mrt.BGP4MPStateChange:
		r := add(KindStateChange)
		peering(r, &b.Peering)
		r.OldState, r.NewState = uint16(b.OldState), uint16(b.NewState)
	case *mrt.BGP4MPEntry:
		r := add(KindRIBEntry)
		peering(r, &b.Peering)
		r.AFI = uint16(b.EntryAFI)
		r.SAFI = b.SAFI
		r.NextHop = nextHop(b.EntryAFI, b.NextHop)
		r.OriginatedTime = unixTime(b.TimeLastChange)
		r.Attributes = b.Attributes
		p, err := b.Network()
		if err != nil {
			return fmt.Errorf("archive: bgp4mp entry prefix: %w", err)
		}
		r.Prefix = p
	case *mrt.Sync:
		add(KindSync).Message = b.Filename
	default:
		return fmt.Errorf("archive: unsupported bgp4mp body %T", v.Body)
	}
	return nil
}

func (f *Flattener) flattenTableDumpV2(v *mrt.TableDumpV2, add func(Kind) *Row) error {
	switch b := v.Body.(type) {
	case *mrt.PeerIndexTable:
		f.peers = b.Peers
		f.havePeers = true
		idx := add(KindPeerIndex)
		idx.PeerBGPID = b.CollectorID
		idx.Message = []byte(b.ViewName)
		for _, p := range b.Peers {
			r := add(KindPeer)
			r.PeerAddress, r.PeerAS, r.PeerBGPID = p.Address, p.AS, p.BGPID
		}
	case *mrt.RIBAFI:
		prefix, err := b.Network()
		if err != nil {
			return fmt.Errorf("archive: rib prefix: %w", err)
		}
		safi := uint8(1)
		if b.Multicast {
			safi = 2
		}
		return f.ribEntries(b.Entries, add, func(r *Row) {
			r.AFI, r.SAFI, r.Prefix = uint16(b.AFI), safi, prefix
		})
	case *mrt.RIBGeneric:
		return f.ribEntries(b.Entries, add, func(r *Row) {
			r.AFI, r.SAFI, r.Message = uint16(b.AFI), b.SAFI, b.NLRI
		})
	default:
		return fmt.Errorf("archive: unsupported table_dump_v2 body %T", v.Body)
	}
	return nil
}

func (f *Flattener) ribEntries(entries []mrt.RIBEntry, add func(Kind) *Row, fill func(*Row)) error {
	if len(entries) == 0 {
		fill(add(KindRIBEntry))
		return nil
	}
	for _, e := range entries {
		if int(e.PeerIndex) >= len(f.peers) {
			return fmt.Errorf("%w: %d (peer index table has %d peers, seen=%t)",
				ErrUnknownPeer, e.PeerIndex, len(f.peers), f.havePeers)
		}
		p := f.peers[e.PeerIndex]
		r := add(KindRIBEntry)
		fill(r)
		r.PeerAddress, r.PeerAS, r.PeerBGPID = p.Address, p.AS, p.BGPID
		r.PathID = e.PathID
		r.OriginatedTime = unixTime(e.OriginatedTime)
		r.Attributes = e.Attributes
	}
	return nil
}

func protocolRow(add func(Kind) *Row, afi uint16, remote, local netip.Addr, msg []byte) {
	r := add(KindProtocol)
	r.AFI = afi
	r.PeerAddress, r.LocalAddress = remote, local
	r.Message = msg
}

func tableDumpAFI(subtype uint16) mrt.AFI {
	if subtype == mrt.TableDumpSubIPv6 {
		return mrt.AFIIPv6
	}
	return mrt.AFIIPv4
}

// nextHop extracts the (first) next hop address; IPv6 entries may carry a
// global and a link-local address back to back.
func nextHop(afi mrt.AFI, b []byte) netip.Addr {
	w := afi.Width()
	if len(b) < w {
		return netip.Addr{}
	}
	a, _ := netip.AddrFromSlice(b[:w])
	return a
}

func unixTime(sec uint32) time.Time {
	return time.Unix(int64(sec), 0).UTC()
}
