package mrt

import (
	"bytes"
	"net/netip"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBGP4MP_MessageAS4IPv6(t *testing.T) {
	var p wire
	p.u32(4200000001).u32(4200000002).u16(7).u16(uint16(AFIIPv6)).
		addr("2001:db8::1").addr("2001:db8::2").raw(0xFF, 0xFF, 0x00)
	require.Equal(t, 12+32+3, p.Len())

	_, rec, err := Read(bytes.NewReader(buildRecord(0, TypeBGP4MP, BGP4MPSubMessageAS4, p.Bytes())))
	require.NoError(t, err)
	m := rec.(*BGP4MP).Body.(*BGP4MPMessage)
	require.Equal(t, Peering{
		PeerAS:       4200000001,
		LocalAS:      4200000002,
		AS4:          true,
		Interface:    7,
		AFI:          AFIIPv6,
		PeerAddress:  mustAddr("2001:db8::1"),
		LocalAddress: mustAddr("2001:db8::2"),
	}, m.Peering)
	require.Equal(t, []byte{0xFF, 0xFF, 0x00}, m.Message)
	require.False(t, m.Local)
	require.False(t, m.AddPath)
}

func TestBGP4MP_MessageVariants(t *testing.T) {
	tests := []struct {
		sub            uint16
		as4            bool
		local, addPath bool
	}{
		{BGP4MPSubMessage, false, false, false},
		{BGP4MPSubMessageAS4, true, false, false},
		{BGP4MPSubMessageLocal, false, true, false},
		{BGP4MPSubMessageAS4Local, true, true, false},
		{BGP4MPSubMessageAddPath, false, false, true},
		{BGP4MPSubMessageAS4AddPath, true, false, true},
		{BGP4MPSubMessageLocalAddPath, false, true, true},
		{BGP4MPSubMessageAS4LocalAddPath, true, true, true},
	}
	for _, tt := range tests {
		var p wire
		if tt.as4 {
			p.u32(65536).u32(65537)
		} else {
			p.u16(100).u16(200)
		}
		p.u16(0).u16(uint16(AFIIPv4)).addr("10.0.0.1").addr("10.0.0.2").raw(1, 2, 3, 4, 5)

		_, rec, err := Read(bytes.NewReader(buildRecord(0, TypeBGP4MP, tt.sub, p.Bytes())))
		require.NoError(t, err, "subtype %d", tt.sub)
		m := rec.(*BGP4MP).Body.(*BGP4MPMessage)
		require.Equal(t, tt.as4, m.AS4, "subtype %d", tt.sub)
		require.Equal(t, tt.local, m.Local, "subtype %d", tt.sub)
		require.Equal(t, tt.addPath, m.AddPath, "subtype %d", tt.sub)
		require.Equal(t, []byte{1, 2, 3, 4, 5}, m.Message, "subtype %d", tt.sub)
	}
}

func TestBGP4MP_NegativeMessageLength(t *testing.T) {
	// AS4 IPv4 prefix needs 20 bytes; declare 18 so the derived length is -2
	var p wire
	p.u32(1).u32(2).u16(0).u16(uint16(AFIIPv4)).addr("10.0.0.1").addr("10.0.0.2")
	in := withLength(buildRecord(0, TypeBGP4MP, BGP4MPSubMessageAS4, p.Bytes()), 18)

	_, _, err := Read(bytes.NewReader(in))
	var lenErr *LengthError
	require.ErrorAs(t, err, &lenErr)
	require.Equal(t, uint32(18), lenErr.Declared)
	require.Equal(t, int64(20), lenErr.Need)
}

func TestBGP4MP_StateChange(t *testing.T) {
	var p wire
	p.u16(100).u16(200).u16(1).u16(uint16(AFIIPv4)).addr("10.0.0.1").addr("10.0.0.2").
		u16(uint16(StateActive)).u16(uint16(StateIdle))

	_, rec, err := Read(bytes.NewReader(buildRecord(0, TypeBGP4MP, BGP4MPSubStateChange, p.Bytes())))
	require.NoError(t, err)
	sc := rec.(*BGP4MP).Body.(*BGP4MPStateChange)
	require.Equal(t, uint32(100), sc.PeerAS)
	require.False(t, sc.AS4)
	require.Equal(t, StateActive, sc.OldState)
	require.Equal(t, StateIdle, sc.NewState)
}

func TestBGP4MP_StateChangeAS4(t *testing.T) {
	var p wire
	p.u32(4200000000).u32(200).u16(1).u16(uint16(AFIIPv6)).addr("2001:db8::1").addr("2001:db8::2").
		u16(uint16(StateOpenSent)).u16(uint16(StateOpenConfirm))

	_, rec, err := Read(bytes.NewReader(buildRecord(0, TypeBGP4MP, BGP4MPSubStateChangeAS4, p.Bytes())))
	require.NoError(t, err)
	sc := rec.(*BGP4MP).Body.(*BGP4MPStateChange)
	require.Equal(t, uint32(4200000000), sc.PeerAS)
	require.True(t, sc.AS4)
	require.Equal(t, mustAddr("2001:db8::2"), sc.LocalAddress)
}

func TestBGP4MP_Snapshot(t *testing.T) {
	var p wire
	p.u16(0).raw([]byte("bview.gz")...).u8(0)

	_, rec, err := Read(bytes.NewReader(buildRecord(0, TypeBGP4MP, BGP4MPSubSnapshot, p.Bytes())))
	require.NoError(t, err)
	require.Equal(t, &Sync{Filename: []byte("bview.gz")}, rec.(*BGP4MP).Body)
}

func buildBGP4MPEntry() []byte {
	var p wire
	p.u16(100).u16(200).u16(0).u16(uint16(AFIIPv4)).addr("10.0.0.1").addr("10.0.0.2")
	p.u16(0).u16(1).u32(1600000000)      // view, status, time_last_change
	p.u16(uint16(AFIIPv4)).u8(1)         // AFI, SAFI
	p.u8(4).addr("10.0.0.254")           // next hop
	p.u8(20).raw(198, 51, 96)            // 198.51.96.0/20
	p.u16(4).raw(0x40, 0x01, 0x01, 0x00) // ORIGIN IGP
	return p.Bytes()
}

func TestBGP4MP_Entry(t *testing.T) {
	_, rec, err := Read(bytes.NewReader(buildRecord(0, TypeBGP4MP, BGP4MPSubEntry, buildBGP4MPEntry())))
	require.NoError(t, err)
	e := rec.(*BGP4MP).Body.(*BGP4MPEntry)
	require.Equal(t, uint16(1), e.Status)
	require.Equal(t, uint32(1600000000), e.TimeLastChange)
	require.Equal(t, AFIIPv4, e.EntryAFI)
	require.Equal(t, uint8(1), e.SAFI)
	require.Equal(t, []byte{10, 0, 0, 254}, e.NextHop)
	require.Equal(t, uint8(20), e.PrefixLength)
	require.Equal(t, []byte{198, 51, 96}, e.Prefix)
	require.Equal(t, []byte{0x40, 0x01, 0x01, 0x00}, e.Attributes)
}

func TestBGP4MP_InvalidAFI(t *testing.T) {
	var p wire
	p.u16(100).u16(200).u16(0).u16(3).addr("10.0.0.1").addr("10.0.0.2")
	_, _, err := Read(bytes.NewReader(buildRecord(0, TypeBGP4MP, BGP4MPSubMessage, p.Bytes())))
	var tagErr *InvalidTagError
	require.ErrorAs(t, err, &tagErr)
	require.Equal(t, "address family", tagErr.Field)
	require.Equal(t, uint32(3), tagErr.Value)
}

func TestBGP4MP_UnknownSubtype(t *testing.T) {
	_, _, err := Read(bytes.NewReader(buildRecord(0, TypeBGP4MP, 12, nil)))
	var tagErr *InvalidTagError
	require.ErrorAs(t, err, &tagErr)
	require.Equal(t, uint32(12), tagErr.Value)
}

func TestBGP4MP_EntryNetwork(t *testing.T) {
	_, rec, err := Read(bytes.NewReader(buildRecord(0, TypeBGP4MP, BGP4MPSubEntry, buildBGP4MPEntry())))
	require.NoError(t, err)
	network, err := rec.(*BGP4MP).Body.(*BGP4MPEntry).Network()
	require.NoError(t, err)
	require.Equal(t, netip.MustParsePrefix("198.51.96.0/20"), network)
}
