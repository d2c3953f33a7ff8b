// Package addressresolver turns the host argument of a TCP request into a
// dialable target. Literal IPv4/IPv6 addresses and unix socket paths are
// recognized without any lookup; everything else goes through a Resolver,
// which resolves a hostname to IPv4 addresses (A records only). A caching
// decorator backed by an in-memory or Redis cache is provided for callers
// that issue many requests to the same hosts.
package addressresolver

import (
	"context"
	"errors"
	"net"
	"net/netip"
	"strconv"
	"strings"
)

// ErrNoAddress is returned by a Resolver when the lookup succeeded but the
// answer contained no usable A records.
var ErrNoAddress = errors.New("no A records for host")

// Target is a dialable address: a network ("tcp" or "unix") and an address
// string in the form net.Dial expects.
type Target struct {
	Network string
	Address string
}

// Resolver resolves a hostname to IPv4 addresses. Implementations issue a
// one-shot A record lookup; IPv6 is not attempted. Resolvers must be safe
// for concurrent use.
type Resolver interface {
	// LookupA resolves host to one or more IPv4 addresses.
	//
	// Parameters:
	//   - ctx: Context for cancellation and timeout control
	//   - host: The hostname to resolve (not a literal address)
	//
	// Returns:
	//   - The resolved addresses, or an error (ErrNoAddress when the answer
	//     was empty)
	LookupA(ctx context.Context, host string) ([]netip.Addr, error)
}

// ParseLiteral reports whether host needs no resolution and, if so, returns
// the target to dial. A port of 0 or a host starting with '/' selects a
// unix-domain socket; otherwise host must be a literal IPv4 or IPv6 address.
//
// Parameters:
//   - host: Literal IP address, unix socket path, or hostname
//   - port: The remote TCP port; 0 means unix-domain
//
// Returns:
//   - The dialable Target and true for literals, or a zero Target and false
//     when host is a name that requires resolution
func ParseLiteral(host string, port int) (Target, bool) {
	if port == 0 || strings.HasPrefix(host, "/") {
		return Target{Network: "unix", Address: host}, true
	}

	addr, err := netip.ParseAddr(host)
	if err != nil {
		return Target{}, false
	}

	return MakeTarget(addr, port), true
}

// MakeTarget attaches a port to a resolved address, producing a dialable
// TCP target. IPv6 addresses are bracketed as net.Dial requires.
//
// Parameters:
//   - addr: The IP address
//   - port: The remote TCP port
//
// Returns:
//   - A Target with network "tcp"
func MakeTarget(addr netip.Addr, port int) Target {
	return Target{
		Network: "tcp",
		Address: net.JoinHostPort(addr.String(), strconv.Itoa(port)),
	}
}
