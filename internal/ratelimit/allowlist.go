package ratelimit

import (
	"fmt"
	"strings"

	"github.com/seancfoley/ipaddress-go/ipaddr"
)

// Allowlist matches client addresses against a set of IPs and CIDR blocks.
type Allowlist struct {
	v4   *ipaddr.IPv4AddressTrie
	v6   *ipaddr.IPv6AddressTrie
	size int
}

func NewAllowlist(entries []string) (*Allowlist, error) {
	a := &Allowlist{
		v4: &ipaddr.IPv4AddressTrie{},
		v6: &ipaddr.IPv6AddressTrie{},
	}

	for _, entry := range entries {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}

		addr, err := ipaddr.NewIPAddressString(entry).ToAddress()
		if err != nil || addr == nil {
			return nil, fmt.Errorf("%w: allowlist entry %q is not an IP or CIDR", ErrInvalidConfig, entry)
		}
		addr = addr.ToPrefixBlock()

		switch {
		case addr.IsIPv4():
			a.v4.Add(addr.ToIPv4())
		case addr.IsIPv6():
			a.v6.Add(addr.ToIPv6())
		default:
			continue
		}
		a.size++
	}

	return a, nil
}

// Contains reports whether ip falls inside any entry. Unparseable input,
// including UnknownIdentifier, never matches.
func (a *Allowlist) Contains(ip string) bool {
	if a == nil || a.size == 0 || ip == "" || ip == UnknownIdentifier {
		return false
	}

	addr, err := ipaddr.NewIPAddressString(ip).ToAddress()
	if err != nil || addr == nil {
		return false
	}

	if addr.IsIPv4() {
		return a.v4.ElementContains(addr.ToIPv4())
	}
	if addr.IsIPv6() {
		return a.v6.ElementContains(addr.ToIPv6())
	}
	return false
}

func (a *Allowlist) Len() int {
	if a == nil {
		return 0
	}
	return a.size
}
