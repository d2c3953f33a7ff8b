package addressresolver

import (
	"context"
	"net"
	"net/netip"
	"testing"
	"time"

	"github.com/miekg/dns"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLiteral(t *testing.T) {
	t.Run("IPv4 literal", func(t *testing.T) {
		target, ok := ParseLiteral("127.0.0.1", 8080)
		require.True(t, ok)
		assert.Equal(t, Target{Network: "tcp", Address: "127.0.0.1:8080"}, target)
	})

	t.Run("IPv6 literal is bracketed", func(t *testing.T) {
		target, ok := ParseLiteral("::1", 25)
		require.True(t, ok)
		assert.Equal(t, Target{Network: "tcp", Address: "[::1]:25"}, target)
	})

	t.Run("port 0 selects unix-domain", func(t *testing.T) {
		target, ok := ParseLiteral("/var/run/app.sock", 0)
		require.True(t, ok)
		assert.Equal(t, Target{Network: "unix", Address: "/var/run/app.sock"}, target)
	})

	t.Run("leading slash selects unix-domain regardless of port", func(t *testing.T) {
		target, ok := ParseLiteral("/tmp/echo.sock", 11333)
		require.True(t, ok)
		assert.Equal(t, "unix", target.Network)
	})

	t.Run("hostname requires resolution", func(t *testing.T) {
		_, ok := ParseLiteral("example.com", 80)
		assert.False(t, ok)
	})

	t.Run("garbage requires resolution", func(t *testing.T) {
		_, ok := ParseLiteral("not an address", 80)
		assert.False(t, ok)
	})
}

func TestMakeTarget(t *testing.T) {
	t.Run("attaches port to resolved address", func(t *testing.T) {
		addr := netip.MustParseAddr("192.0.2.10")
		target := MakeTarget(addr, 443)
		assert.Equal(t, Target{Network: "tcp", Address: "192.0.2.10:443"}, target)
	})
}

// startTestDNSServer runs a local DNS server that answers example.test with
// 192.0.2.10 and everything else with NXDOMAIN. It returns the server address.
func startTestDNSServer(t *testing.T) string {
	t.Helper()

	pc, err := net.ListenPacket("udp", "127.0.0.1:0")
	require.NoError(t, err)

	server := &dns.Server{
		PacketConn: pc,
		Handler: dns.HandlerFunc(func(w dns.ResponseWriter, req *dns.Msg) {
			reply := new(dns.Msg)
			reply.SetReply(req)

			if len(req.Question) == 1 && req.Question[0].Name == "example.test." &&
				req.Question[0].Qtype == dns.TypeA {
				reply.Answer = append(reply.Answer, &dns.A{
					Hdr: dns.RR_Header{
						Name:   req.Question[0].Name,
						Rrtype: dns.TypeA,
						Class:  dns.ClassINET,
						Ttl:    60,
					},
					A: net.ParseIP("192.0.2.10"),
				})
			} else {
				reply.Rcode = dns.RcodeNameError
			}

			_ = w.WriteMsg(reply)
		}),
	}

	go func() { _ = server.ActivateAndServe() }()
	t.Cleanup(func() { _ = server.Shutdown() })

	return pc.LocalAddr().String()
}

func TestDNSResolver_LookupA(t *testing.T) {
	addr := startTestDNSServer(t)

	t.Run("resolves an A record", func(t *testing.T) {
		r := NewDNSResolver(DNSResolverConfig{
			Servers: []string{addr},
			Timeout: 2 * time.Second,
		})

		addrs, err := r.LookupA(context.Background(), "example.test")
		require.NoError(t, err)
		require.Len(t, addrs, 1)
		assert.Equal(t, netip.MustParseAddr("192.0.2.10"), addrs[0])
	})

	t.Run("surfaces NXDOMAIN as an error", func(t *testing.T) {
		r := NewDNSResolver(DNSResolverConfig{
			Servers: []string{addr},
			Timeout: 2 * time.Second,
		})

		_, err := r.LookupA(context.Background(), "missing.test")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "unable to resolve host missing.test")
	})

	t.Run("errors when no servers are configured", func(t *testing.T) {
		r := NewDNSResolver(DNSResolverConfig{Timeout: time.Second})

		_, err := r.LookupA(context.Background(), "example.test")
		require.Error(t, err)
	})
}

func TestDefaultDNSResolverConfig(t *testing.T) {
	t.Run("always yields at least one server with a port", func(t *testing.T) {
		cfg := DefaultDNSResolverConfig()
		require.NotEmpty(t, cfg.Servers)
		for _, s := range cfg.Servers {
			_, _, err := net.SplitHostPort(s)
			assert.NoError(t, err)
		}
		assert.Equal(t, 5*time.Second, cfg.Timeout)
	})
}
