package mrt

import "fmt"

// AFI is an Address Family Identifier. Only IPv4 and IPv6 appear in MRT records.
type AFI uint16

const (
	AFIIPv4 AFI = 1
	AFIIPv6 AFI = 2
)

// ParseAFI resolves a wire AFI code. Any code other than 1 or 2 is an error.
func ParseAFI(code uint16) (AFI, error) {
	switch AFI(code) {
	case AFIIPv4, AFIIPv6:
		return AFI(code), nil
	default:
		return 0, &InvalidTagError{Field: "address family", Value: uint32(code)}
	}
}

// Width returns the size in bytes of an address of this family.
func (a AFI) Width() int {
	if a == AFIIPv6 {
		return 16
	}
	return 4
}

// Bits returns the maximum prefix length of this family.
func (a AFI) Bits() int {
	return a.Width() * 8
}

func (a AFI) String() string {
	switch a {
	case AFIIPv4:
		return "IPv4"
	case AFIIPv6:
		return "IPv6"
	default:
		return fmt.Sprintf("AFI(%d)", uint16(a))
	}
}
