package addressresolver

import (
	"context"
	"fmt"
	"net"
	"net/netip"
	"time"

	"github.com/miekg/dns"

	"github.com/cyberinferno/go-async-tcp/logger"
)

// DNSResolverConfig holds configuration for the DNS-based Resolver.
type DNSResolverConfig struct {
	// Servers are the DNS servers to query, tried in order until one
	// answers. Entries without a port default to port 53.
	Servers []string
	// Timeout is the per-query timeout; 0 means 5 seconds.
	Timeout time.Duration
	// Logger receives query-level log entries; nil means no logging.
	Logger logger.Logger
}

// DefaultDNSResolverConfig returns a DNSResolverConfig populated from the
// system resolver configuration (/etc/resolv.conf). When the system
// configuration cannot be read, the config falls back to 127.0.0.1.
//
// Returns:
//   - A DNSResolverConfig with system servers and a 5 second timeout
func DefaultDNSResolverConfig() DNSResolverConfig {
	cfg := DNSResolverConfig{
		Servers: []string{"127.0.0.1:53"},
		Timeout: 5 * time.Second,
	}

	system, err := dns.ClientConfigFromFile("/etc/resolv.conf")
	if err == nil && len(system.Servers) > 0 {
		cfg.Servers = make([]string, 0, len(system.Servers))
		for _, s := range system.Servers {
			cfg.Servers = append(cfg.Servers, net.JoinHostPort(s, system.Port))
		}
	}

	return cfg
}

// DNSResolver is a Resolver that issues one-shot A record queries over UDP
// using the configured servers. It is safe for concurrent use.
type DNSResolver struct {
	client  *dns.Client
	servers []string
	log     logger.Logger
}

// NewDNSResolver creates a DNSResolver with the given configuration.
//
// Parameters:
//   - config: Server list, timeout, and optional logger (e.g. from
//     DefaultDNSResolverConfig)
//
// Returns:
//   - A new *DNSResolver ready to use
func NewDNSResolver(config DNSResolverConfig) *DNSResolver {
	timeout := config.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}

	servers := make([]string, 0, len(config.Servers))
	for _, s := range config.Servers {
		if _, _, err := net.SplitHostPort(s); err != nil {
			s = net.JoinHostPort(s, "53")
		}

		servers = append(servers, s)
	}

	log := config.Logger
	if log == nil {
		log = logger.NewNopLogger()
	}

	return &DNSResolver{
		client:  &dns.Client{Timeout: timeout},
		servers: servers,
		log:     log,
	}
}

// LookupA implements Resolver. It queries the configured servers in order
// and returns the A records of the first successful answer.
//
// Parameters:
//   - ctx: Context for cancellation and timeout control
//   - host: The hostname to resolve
//
// Returns:
//   - The resolved IPv4 addresses, or an error describing the last failure
func (r *DNSResolver) LookupA(ctx context.Context, host string) ([]netip.Addr, error) {
	if len(r.servers) == 0 {
		return nil, fmt.Errorf("unable to resolve host %s: no DNS servers configured", host)
	}

	msg := new(dns.Msg)
	msg.SetQuestion(dns.Fqdn(host), dns.TypeA)
	msg.RecursionDesired = true

	var lastErr error
	for _, server := range r.servers {
		reply, _, err := r.client.ExchangeContext(ctx, msg, server)
		if err != nil {
			lastErr = fmt.Errorf("unable to resolve host %s: %w", host, err)
			r.log.Warn("dns exchange failed",
				logger.Field{Key: "host", Value: host},
				logger.Field{Key: "server", Value: server},
				logger.Field{Key: "error", Value: err})
			continue
		}

		if reply.Rcode != dns.RcodeSuccess {
			lastErr = fmt.Errorf("unable to resolve host %s: %s", host, dns.RcodeToString[reply.Rcode])
			continue
		}

		addrs := collectA(reply)
		if len(addrs) == 0 {
			return nil, fmt.Errorf("%w: %s", ErrNoAddress, host)
		}

		r.log.Debug("resolved host",
			logger.Field{Key: "host", Value: host},
			logger.Field{Key: "addresses", Value: len(addrs)})

		return addrs, nil
	}

	return nil, lastErr
}

// collectA extracts the IPv4 addresses from the answer section of a reply.
func collectA(reply *dns.Msg) []netip.Addr {
	var addrs []netip.Addr
	for _, rr := range reply.Answer {
		a, ok := rr.(*dns.A)
		if !ok {
			continue
		}

		addr, ok := netip.AddrFromSlice(a.A.To4())
		if !ok {
			continue
		}

		addrs = append(addrs, addr)
	}

	return addrs
}
