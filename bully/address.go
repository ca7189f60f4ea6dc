package bully

import (
	"fmt"
	"net"
	"strconv"
	"strings"
)

// Address identifies a node and doubles as its election priority. Addresses
// are compared octet by octet, most significant first.
type Address [4]byte

// ParseAddress parses a dotted quad.
func ParseAddress(s string) (Address, error) {
	parts := strings.Split(s, ".")
	if len(parts) != len(Address{}) {
		return Address{}, &AddressOrderingError{Left: len(parts), Right: len(Address{}), Value: s}
	}

	var a Address
	for i, p := range parts {
		v, err := strconv.ParseUint(p, 10, 8)
		if err != nil {
			return Address{}, fmt.Errorf("invalid octet %q in address %q", p, s)
		}
		a[i] = byte(v)
	}
	return a, nil
}

// MustParseAddress is ParseAddress for constants and tests.
func MustParseAddress(s string) Address {
	a, err := ParseAddress(s)
	if err != nil {
		panic(err)
	}
	return a
}

// AddressFromIP converts an IPv4 address. Anything else cannot take part in
// the ordering.
func AddressFromIP(ip net.IP) (Address, error) {
	v4 := ip.To4()
	if v4 == nil {
		return Address{}, &AddressOrderingError{Left: len(ip), Right: len(Address{}), Value: ip.String()}
	}

	var a Address
	copy(a[:], v4)
	return a, nil
}

// CompareOctets orders two octet lists. Lists of different length have no
// defined order.
func CompareOctets(a, b []byte) (int, error) {
	if len(a) != len(b) {
		return 0, &AddressOrderingError{Left: len(a), Right: len(b)}
	}

	for i := range a {
		if a[i] < b[i] {
			return -1, nil
		}
		if a[i] > b[i] {
			return 1, nil
		}
	}
	return 0, nil
}

// Compare returns -1, 0 or 1.
func (a Address) Compare(b Address) int {
	c, _ := CompareOctets(a[:], b[:])
	return c
}

func (a Address) Less(b Address) bool {
	return a.Compare(b) < 0
}

func (a Address) IsZero() bool {
	return a == Address{}
}

func (a Address) IP() net.IP {
	return net.IPv4(a[0], a[1], a[2], a[3])
}

func (a Address) String() string {
	return fmt.Sprintf("%d.%d.%d.%d", a[0], a[1], a[2], a[3])
}

func (a Address) MarshalText() ([]byte, error) {
	return []byte(a.String()), nil
}

func (a *Address) UnmarshalText(text []byte) error {
	parsed, err := ParseAddress(string(text))
	if err != nil {
		return err
	}
	*a = parsed
	return nil
}
