package mrt

import (
	"bytes"
	"net/netip"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestTableDump_IPv4(t *testing.T) {
	var p wire
	p.u16(0).u16(42).addr("203.0.113.0").u8(24).u8(1).u32(1500000000).addr("192.0.2.9").u16(64512)
	p.u16(3).raw(0x40, 0x01, 0x00)

	_, rec, err := Read(bytes.NewReader(buildRecord(0, TypeTableDump, TableDumpSubIPv4, p.Bytes())))
	require.NoError(t, err)
	td := rec.(*TableDump)
	require.Equal(t, &TableDump{
		SequenceNumber: 42,
		Prefix:         mustAddr("203.0.113.0"),
		PrefixLength:   24,
		Status:         1,
		OriginatedTime: 1500000000,
		PeerAddress:    mustAddr("192.0.2.9"),
		PeerAS:         64512,
		Attributes:     []byte{0x40, 0x01, 0x00},
	}, td)

	network, err := td.Network()
	require.NoError(t, err)
	require.Equal(t, netip.MustParsePrefix("203.0.113.0/24"), network)
}

func TestTableDump_IPv6(t *testing.T) {
	var p wire
	p.u16(0).u16(1).addr("2001:db8::").u8(32).u8(1).u32(0).addr("2001:db8::9").u16(64512).u16(0)

	_, rec, err := Read(bytes.NewReader(buildRecord(0, TypeTableDump, TableDumpSubIPv6, p.Bytes())))
	require.NoError(t, err)
	td := rec.(*TableDump)
	require.Equal(t, mustAddr("2001:db8::"), td.Prefix)
	require.Equal(t, mustAddr("2001:db8::9"), td.PeerAddress)
	require.Empty(t, td.Attributes)
}

func TestTableDump_SubtypeIsNotAnAFI(t *testing.T) {
	_, _, err := Read(bytes.NewReader(buildRecord(0, TypeTableDump, 3, nil)))
	var tagErr *InvalidTagError
	require.ErrorAs(t, err, &tagErr)
	require.Equal(t, uint32(3), tagErr.Value)
}

func TestPeerIndexTable_Empty(t *testing.T) {
	var p wire
	p.u32(0xC0000201).u16(0).u16(0)

	_, rec, err := Read(bytes.NewReader(buildRecord(0, TypeTableDumpV2, TableDumpV2SubPeerIndexTable, p.Bytes())))
	require.NoError(t, err)
	pit := rec.(*TableDumpV2).Body.(*PeerIndexTable)
	require.Equal(t, uint32(0xC0000201), pit.CollectorID)
	require.Equal(t, "", pit.ViewName)
	require.Empty(t, pit.Peers)
}

func TestPeerIndexTable_PeerTypeBits(t *testing.T) {
	var p wire
	p.u32(1).u16(4).raw([]byte("main")...).u16(4)
	p.u8(0).u32(1).addr("192.0.2.1").u16(65001)                            // IPv4, 2-byte AS
	p.u8(PeerTypeAS4).u32(2).addr("192.0.2.2").u32(4200000000)             // IPv4, 4-byte AS
	p.u8(PeerTypeIPv6).u32(3).addr("2001:db8::3").u16(65003)               // IPv6, 2-byte AS
	p.u8(PeerTypeIPv6 | PeerTypeAS4).u32(4).addr("2001:db8::4").u32(65536) // IPv6, 4-byte AS

	_, rec, err := Read(bytes.NewReader(buildRecord(0, TypeTableDumpV2, TableDumpV2SubPeerIndexTable, p.Bytes())))
	require.NoError(t, err)
	pit := rec.(*TableDumpV2).Body.(*PeerIndexTable)
	require.Equal(t, "main", pit.ViewName)
	require.Equal(t, []PeerEntry{
		{PeerType: 0, BGPID: 1, Address: mustAddr("192.0.2.1"), AS: 65001},
		{PeerType: PeerTypeAS4, BGPID: 2, Address: mustAddr("192.0.2.2"), AS: 4200000000},
		{PeerType: PeerTypeIPv6, BGPID: 3, Address: mustAddr("2001:db8::3"), AS: 65003},
		{PeerType: PeerTypeIPv6 | PeerTypeAS4, BGPID: 4, Address: mustAddr("2001:db8::4"), AS: 65536},
	}, pit.Peers)
	require.True(t, pit.Peers[3].IPv6())
	require.True(t, pit.Peers[3].AS4())
	require.False(t, pit.Peers[0].IPv6())
}

func TestPeerIndexTable_HighBitsIgnored(t *testing.T) {
	var p wire
	p.u32(1).u16(0).u16(1)
	p.u8(0xFC).u32(1).addr("192.0.2.1").u16(65001)

	_, rec, err := Read(bytes.NewReader(buildRecord(0, TypeTableDumpV2, TableDumpV2SubPeerIndexTable, p.Bytes())))
	require.NoError(t, err)
	peer := rec.(*TableDumpV2).Body.(*PeerIndexTable).Peers[0]
	require.Equal(t, mustAddr("192.0.2.1"), peer.Address)
	require.Equal(t, uint32(65001), peer.AS)
}

func TestPeerIndexTable_InvalidUTF8ViewName(t *testing.T) {
	var p wire
	p.u32(1).u16(3).raw('a', 0xFF, 'b').u16(0)

	_, rec, err := Read(bytes.NewReader(buildRecord(0, TypeTableDumpV2, TableDumpV2SubPeerIndexTable, p.Bytes())))
	require.NoError(t, err)
	require.Equal(t, "a�b", rec.(*TableDumpV2).Body.(*PeerIndexTable).ViewName)
}

func buildRIBEntry(p *wire, peer uint16, pathID *uint32, attrs ...byte) {
	p.u16(peer).u32(1600000000)
	if pathID != nil {
		p.u32(*pathID)
	}
	p.u16(uint16(len(attrs))).raw(attrs...)
}

func TestRIBAFI_IPv4Unicast(t *testing.T) {
	var p wire
	p.u32(7).u8(22).raw(198, 51, 100).u16(2)
	buildRIBEntry(&p, 0, nil, 0x40, 0x01, 0x01, 0x00)
	buildRIBEntry(&p, 3, nil)

	_, rec, err := Read(bytes.NewReader(buildRecord(0, TypeTableDumpV2, TableDumpV2SubRIBIPv4Unicast, p.Bytes())))
	require.NoError(t, err)
	rib := rec.(*TableDumpV2).Body.(*RIBAFI)
	require.Equal(t, uint32(7), rib.SequenceNumber)
	require.Equal(t, AFIIPv4, rib.AFI)
	require.False(t, rib.AddPath)
	require.Equal(t, []byte{198, 51, 100}, rib.Prefix)
	require.Len(t, rib.Entries, 2)
	require.Equal(t, uint16(3), rib.Entries[1].PeerIndex)
	require.Equal(t, []byte{0x40, 0x01, 0x01, 0x00}, rib.Entries[0].Attributes)

	network, err := rib.Network()
	require.NoError(t, err)
	require.Equal(t, netip.MustParsePrefix("198.51.100.0/22"), network)
}

func TestRIBAFI_IPv6MulticastAddPath(t *testing.T) {
	id := uint32(99)
	var p wire
	p.u32(1).u8(48).raw(0x20, 0x01, 0x0d, 0xb8, 0x00, 0x01).u16(1)
	buildRIBEntry(&p, 5, &id, 0xAA)

	_, rec, err := Read(bytes.NewReader(buildRecord(0, TypeTableDumpV2, TableDumpV2SubRIBIPv6MulticastAddPath, p.Bytes())))
	require.NoError(t, err)
	rib := rec.(*TableDumpV2).Body.(*RIBAFI)
	require.Equal(t, AFIIPv6, rib.AFI)
	require.True(t, rib.Multicast)
	require.True(t, rib.AddPath)
	require.Equal(t, RIBEntry{PeerIndex: 5, OriginatedTime: 1600000000, PathID: 99, Attributes: []byte{0xAA}}, rib.Entries[0])

	network, err := rib.Network()
	require.NoError(t, err)
	require.Equal(t, netip.MustParsePrefix("2001:db8:1::/48"), network)
}

func TestRIBAFI_PrefixLengthTooLong(t *testing.T) {
	var p wire
	p.u32(1).u8(33).raw(1, 2, 3, 4, 5).u16(0)
	_, _, err := Read(bytes.NewReader(buildRecord(0, TypeTableDumpV2, TableDumpV2SubRIBIPv4Unicast, p.Bytes())))
	var lenErr *LengthError
	require.ErrorAs(t, err, &lenErr)
	require.Equal(t, "prefix", lenErr.What)
	require.Equal(t, uint32(33), lenErr.Declared)
	require.Equal(t, int64(32), lenErr.Need)
}

func TestRIBGeneric_NLRIWidth(t *testing.T) {
	tests := []struct {
		name    string
		afi     AFI
		safi    uint8
		nlri    []byte
		lenByte *uint8
	}{
		{name: "ipv4 unicast", afi: AFIIPv4, safi: 1, nlri: []byte{10, 1, 2, 0}},
		{name: "ipv4 vpn", afi: AFIIPv4, safi: SAFIMPLSVPN, nlri: []byte{1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12, 13}, lenByte: ptr(uint8(100))},
		{name: "ipv6 any safi", afi: AFIIPv6, safi: SAFIMPLSVPN, nlri: bytes.Repeat([]byte{0x20}, 16)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var p wire
			p.u32(11).u16(uint16(tt.afi)).u8(tt.safi)
			if tt.lenByte != nil {
				p.u8(*tt.lenByte)
			}
			p.raw(tt.nlri...).u16(1)
			buildRIBEntry(&p, 0, nil, 0x01)

			_, rec, err := Read(bytes.NewReader(buildRecord(0, TypeTableDumpV2, TableDumpV2SubRIBGeneric, p.Bytes())))
			require.NoError(t, err)
			rib := rec.(*TableDumpV2).Body.(*RIBGeneric)
			require.Equal(t, tt.afi, rib.AFI)
			require.Equal(t, tt.safi, rib.SAFI)
			require.Equal(t, tt.nlri, rib.NLRI)
			if tt.lenByte != nil {
				require.Equal(t, *tt.lenByte, rib.NLRIPrefixLength)
			}
			require.Len(t, rib.Entries, 1)
		})
	}
}

func TestRIBGeneric_AddPath(t *testing.T) {
	id := uint32(7)
	var p wire
	p.u32(1).u16(uint16(AFIIPv4)).u8(2).raw(224, 0, 0, 0).u16(1)
	buildRIBEntry(&p, 1, &id)

	_, rec, err := Read(bytes.NewReader(buildRecord(0, TypeTableDumpV2, TableDumpV2SubRIBGenericAddPath, p.Bytes())))
	require.NoError(t, err)
	rib := rec.(*TableDumpV2).Body.(*RIBGeneric)
	require.True(t, rib.AddPath)
	require.Equal(t, uint32(7), rib.Entries[0].PathID)
}

func TestRIBGeneric_InvalidAFI(t *testing.T) {
	var p wire
	p.u32(1).u16(25).u8(1)
	_, _, err := Read(bytes.NewReader(buildRecord(0, TypeTableDumpV2, TableDumpV2SubRIBGeneric, p.Bytes())))
	var tagErr *InvalidTagError
	require.ErrorAs(t, err, &tagErr)
	require.Equal(t, uint32(25), tagErr.Value)
}

func TestTableDumpV2_UnknownSubtype(t *testing.T) {
	for _, sub := range []uint16{0, 7, 13} {
		_, _, err := Read(bytes.NewReader(buildRecord(0, TypeTableDumpV2, sub, nil)))
		var tagErr *InvalidTagError
		require.ErrorAs(t, err, &tagErr)
		require.Equal(t, "table_dump_v2 subtype", tagErr.Field)
		require.Equal(t, uint32(sub), tagErr.Value)
	}
}

func ptr[T any](v T) *T { return &v }
