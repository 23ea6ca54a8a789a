package table

import (
	"fmt"
	"net"
	"net/netip"
	"strings"
)

// Family is the address family of a table entry, derived from its byte width.
type Family int

const (
	FamilyUnknown Family = iota
	FamilyIPv4
	FamilyIPv6
)

func (f Family) String() string {
	switch f {
	case FamilyIPv4:
		return "ipv4"
	case FamilyIPv6:
		return "ipv6"
	default:
		return "unknown"
	}
}

// Bits returns the address width of the family in bits.
func (f Family) Bits() int {
	switch f {
	case FamilyIPv4:
		return 32
	case FamilyIPv6:
		return 128
	default:
		return 0
	}
}

// FamilyOf maps a raw address length to its family.
func FamilyOf(ip []byte) Family {
	switch len(ip) {
	case net.IPv4len:
		return FamilyIPv4
	case net.IPv6len:
		return FamilyIPv6
	default:
		return FamilyUnknown
	}
}

// Address is one table entry: a raw 4- or 16-byte address and a prefix length.
// Use Host or ParseAddress to build one; the zero Bits value means /0.
type Address struct {
	IP   []byte
	Bits int
}

// Host returns a full-width entry for ip.
func Host(ip []byte) Address {
	return Address{IP: ip, Bits: len(ip) * 8}
}

// AddressFromNetIP converts a net.IP, preferring the 4-byte form for IPv4.
func AddressFromNetIP(ip net.IP) Address {
	if v4 := ip.To4(); v4 != nil {
		return Host([]byte(v4))
	}
	return Host([]byte(ip))
}

// AddressFromPrefix converts a netip.Prefix. IPv4-mapped IPv6 stays IPv6.
func AddressFromPrefix(p netip.Prefix) Address {
	ip := p.Addr().AsSlice()
	return Address{IP: ip, Bits: p.Bits()}
}

// ParseAddress parses "10.0.0.1", "10.0.0.0/24", "2001:db8::1" or "2001:db8::/32".
func ParseAddress(s string) (Address, error) {
	s = strings.TrimSpace(s)
	if strings.Contains(s, "/") {
		p, err := netip.ParsePrefix(s)
		if err != nil {
			return Address{}, fmt.Errorf("invalid prefix %q: %w", s, err)
		}
		return AddressFromPrefix(p.Masked()), nil
	}
	a, err := netip.ParseAddr(s)
	if err != nil {
		return Address{}, fmt.Errorf("invalid address %q: %w", s, err)
	}
	if a.Zone() != "" {
		return Address{}, fmt.Errorf("invalid address %q: zones are not allowed", s)
	}
	return Host(a.AsSlice()), nil
}

// MustParseAddress is like ParseAddress but panics on error.
func MustParseAddress(s string) Address {
	a, err := ParseAddress(s)
	if err != nil {
		panic(err)
	}
	return a
}

// Family returns the entry's family.
func (a Address) Family() Family {
	return FamilyOf(a.IP)
}

// Prefix returns the entry as a masked netip.Prefix.
func (a Address) Prefix() (netip.Prefix, bool) {
	addr, ok := netip.AddrFromSlice(a.IP)
	if !ok {
		return netip.Prefix{}, false
	}
	p, err := addr.Prefix(a.Bits)
	if err != nil {
		return netip.Prefix{}, false
	}
	return p, true
}

func (a Address) String() string {
	p, ok := a.Prefix()
	if !ok {
		return fmt.Sprintf("invalid(%x/%d)", a.IP, a.Bits)
	}
	if p.IsSingleIP() {
		return p.Addr().String()
	}
	return p.String()
}

func (a Address) validate() error {
	fam := a.Family()
	if fam == FamilyUnknown {
		return fmt.Errorf("address length %d is neither 4 nor 16 bytes", len(a.IP))
	}
	if a.Bits < 0 || a.Bits > fam.Bits() {
		return fmt.Errorf("prefix /%d out of range for %s", a.Bits, fam)
	}
	return nil
}

// validateBatch checks that addrs is a non-empty, single-family batch and
// returns that family.
func validateBatch(addrs []Address) (Family, error) {
	if len(addrs) == 0 {
		return FamilyUnknown, fmt.Errorf("empty address batch")
	}
	fam := addrs[0].Family()
	for i, a := range addrs {
		if err := a.validate(); err != nil {
			return FamilyUnknown, fmt.Errorf("entry %d: %w", i, err)
		}
		if a.Family() != fam {
			return FamilyUnknown, fmt.Errorf("entry %d: %s address in %s batch", i, a.Family(), fam)
		}
	}
	return fam, nil
}

// SplitByFamily partitions addrs into IPv4 and IPv6 batches, dropping entries
// of unknown width.
func SplitByFamily(addrs []Address) (v4, v6 []Address) {
	for _, a := range addrs {
		switch a.Family() {
		case FamilyIPv4:
			v4 = append(v4, a)
		case FamilyIPv6:
			v6 = append(v6, a)
		}
	}
	return v4, v6
}
