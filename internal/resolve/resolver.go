// Package resolve turns domain names into table addresses using a pool of
// explicitly configured upstream DNS servers.
package resolve

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/miekg/dns"

	"grimm.is/tablectl/internal/logging"
	"grimm.is/tablectl/internal/table"
)

// DefaultMaxFails is the number of consecutive failures that marks an
// upstream down when health checking is on.
const DefaultMaxFails = 2

// ErrNoUpstream is returned when every upstream is down.
var ErrNoUpstream = errors.New("no healthy upstream")

// Resolver queries its upstreams for A and AAAA records. A query that fails
// in transport moves on to the next healthy upstream.
type Resolver struct {
	hosts    []*Upstream
	proto    string
	timeout  time.Duration
	policy   Policy
	spray    Policy
	maxFails uint32
	interval time.Duration
	checkFn  CheckFunc
	logger   *logging.Logger

	mu   sync.Mutex
	wg   sync.WaitGroup
	stop chan struct{}
}

// Option configures a Resolver.
type Option func(*Resolver)

// WithProtocol selects "udp" (default), "tcp" or "tcp-tls".
func WithProtocol(proto string) Option {
	return func(r *Resolver) { r.proto = proto }
}

// WithTimeout sets the per-query timeout.
func WithTimeout(d time.Duration) Option {
	return func(r *Resolver) {
		if d > 0 {
			r.timeout = d
		}
	}
}

// WithPolicy sets how an upstream is chosen. Defaults to Random.
func WithPolicy(p Policy) Option {
	return func(r *Resolver) {
		if p != nil {
			r.policy = p
		}
	}
}

// WithSpray lets queries go to any upstream when all of them are down.
func WithSpray(enabled bool) Option {
	return func(r *Resolver) {
		if enabled {
			r.spray = Spray{}
		} else {
			r.spray = nil
		}
	}
}

// WithMaxFails sets the failure count that marks an upstream down.
func WithMaxFails(n int) Option {
	return func(r *Resolver) {
		if n > 0 {
			r.maxFails = uint32(n)
		}
	}
}

// WithHealthCheck checks every upstream on the given interval once Start is
// called. Upstreams are only ever marked down with health checking on.
func WithHealthCheck(interval time.Duration) Option {
	return func(r *Resolver) { r.interval = interval }
}

// WithCheck replaces the health check. Defaults to CheckDNS.
func WithCheck(fn CheckFunc) Option {
	return func(r *Resolver) {
		if fn != nil {
			r.checkFn = fn
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option {
	return func(r *Resolver) { r.logger = l }
}

// New returns a Resolver for servers. A server without a port uses 53.
func New(servers []string, opts ...Option) *Resolver {
	r := &Resolver{
		proto:    "udp",
		timeout:  2 * time.Second,
		policy:   Random{},
		maxFails: DefaultMaxFails,
		checkFn:  CheckDNS,
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.logger == nil {
		r.logger = logging.WithComponent("resolve")
	}

	maxFails := r.maxFails
	if r.interval <= 0 {
		maxFails = 0
	}
	for _, s := range servers {
		if _, _, err := net.SplitHostPort(s); err != nil {
			s = net.JoinHostPort(s, "53")
		}
		r.hosts = append(r.hosts, newUpstream(s, r.proto, r.timeout, maxFails))
	}
	return r
}

// Servers returns the upstream addresses in configuration order.
func (r *Resolver) Servers() []string {
	out := make([]string, len(r.hosts))
	for i, u := range r.hosts {
		out[i] = u.addr
	}
	return out
}

// Lookup returns the IPv4 and IPv6 host addresses of domain. A name that
// does not exist yields no addresses and no error.
func (r *Resolver) Lookup(ctx context.Context, domain string) ([]table.Address, error) {
	var out []table.Address
	for _, qtype := range []uint16{dns.TypeA, dns.TypeAAAA} {
		addrs, err := r.query(ctx, domain, qtype)
		if err != nil {
			return nil, err
		}
		out = append(out, addrs...)
	}
	return out, nil
}

// LookupAll resolves every domain and returns the de-duplicated union.
// Resolution stops at the first error.
func (r *Resolver) LookupAll(ctx context.Context, domains []string) ([]table.Address, error) {
	seen := make(map[string]bool)
	var out []table.Address
	for _, d := range domains {
		addrs, err := r.Lookup(ctx, d)
		if err != nil {
			return nil, err
		}
		for _, a := range addrs {
			if seen[a.String()] {
				continue
			}
			seen[a.String()] = true
			out = append(out, a)
		}
	}
	return out, nil
}

func (r *Resolver) query(ctx context.Context, domain string, qtype uint16) ([]table.Address, error) {
	m := new(dns.Msg)
	m.SetQuestion(dns.Fqdn(domain), qtype)
	m.RecursionDesired = true
	m.SetEdns0(dns.DefaultMsgSize, false)

	var lastErr error
	for _, u := range r.candidates() {
		resp, err := u.exchange(ctx, m)
		if err != nil {
			lastErr = fmt.Errorf("resolve %s %s via %s: %w", domain, dns.TypeToString[qtype], u.addr, err)
			if ctx.Err() != nil {
				return nil, lastErr
			}
			u.markFailed()
			r.logger.Warn("Upstream query failed", "upstream", u.addr, "domain", domain, "error", err)
			continue
		}
		u.markHealthy()
		return answers(resp, domain, qtype, u.addr)
	}
	if lastErr == nil {
		return nil, fmt.Errorf("resolve %s: %w", domain, ErrNoUpstream)
	}
	return nil, lastErr
}

func answers(resp *dns.Msg, domain string, qtype uint16, server string) ([]table.Address, error) {
	switch resp.Rcode {
	case dns.RcodeSuccess:
	case dns.RcodeNameError:
		return nil, nil
	default:
		return nil, fmt.Errorf("resolve %s %s via %s: %s", domain, dns.TypeToString[qtype], server, dns.RcodeToString[resp.Rcode])
	}

	var out []table.Address
	for _, rr := range resp.Answer {
		switch v := rr.(type) {
		case *dns.A:
			if qtype == dns.TypeA {
				out = append(out, table.AddressFromNetIP(v.A))
			}
		case *dns.AAAA:
			// IPv4-mapped AAAA answers stay IPv6 entries.
			if qtype == dns.TypeAAAA {
				if ip := v.AAAA.To16(); ip != nil {
					out = append(out, table.Host(ip))
				}
			}
		}
	}
	return out, nil
}
