package resolve

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"sync/atomic"
	"time"

	"github.com/miekg/dns"
	probing "github.com/prometheus-community/pro-bing"
)

// Upstream is one DNS server of a Resolver's pool.
type Upstream struct {
	addr    string
	timeout time.Duration
	client  *dns.Client
	tcp     *dns.Client // retry for truncated UDP replies

	fails    atomic.Uint32
	maxFails uint32
}

func newUpstream(addr, proto string, timeout time.Duration, maxFails uint32) *Upstream {
	u := &Upstream{
		addr:     addr,
		timeout:  timeout,
		client:   &dns.Client{Net: "udp", Timeout: timeout},
		maxFails: maxFails,
	}
	switch proto {
	case "tcp":
		u.client.Net = "tcp"
	case "tcp-tls":
		u.client.Net = "tcp-tls"
		host, _, err := net.SplitHostPort(addr)
		if err != nil {
			host = addr
		}
		u.client.TLSConfig = &tls.Config{
			ServerName: host,
			MinVersion: tls.VersionTLS12,
		}
	default:
		u.tcp = &dns.Client{Net: "tcp", Timeout: timeout}
	}
	return u
}

// Addr returns the upstream's host:port.
func (u *Upstream) Addr() string {
	return u.addr
}

// Fails returns the number of consecutive failed checks and queries.
func (u *Upstream) Fails() uint32 {
	return u.fails.Load()
}

// Down reports whether the upstream has reached its failure limit. Without
// health checking the limit is 0 and an upstream is never down.
func (u *Upstream) Down() bool {
	return u.maxFails > 0 && u.fails.Load() >= u.maxFails
}

func (u *Upstream) markFailed() {
	u.fails.Add(1)
}

func (u *Upstream) markHealthy() {
	u.fails.Store(0)
}

// exchange sends m and falls back to TCP when a UDP reply is truncated.
func (u *Upstream) exchange(ctx context.Context, m *dns.Msg) (*dns.Msg, error) {
	resp, _, err := u.client.ExchangeContext(ctx, m, u.addr)
	if err != nil {
		return nil, err
	}
	if resp.Truncated && u.tcp != nil {
		resp, _, err = u.tcp.ExchangeContext(ctx, m, u.addr)
		if err != nil {
			return nil, fmt.Errorf("retry truncated reply over tcp: %w", err)
		}
	}
	if resp.Truncated {
		return nil, fmt.Errorf("truncated reply")
	}
	return resp, nil
}

// CheckFunc checks whether an upstream is reachable.
type CheckFunc func(ctx context.Context, u *Upstream) error

// CheckDNS sends ". IN NS" without recursion. Any reply that carries a
// header counts as healthy; only transport failures are errors.
func CheckDNS(ctx context.Context, u *Upstream) error {
	ping := new(dns.Msg)
	ping.SetQuestion(".", dns.TypeNS)
	ping.RecursionDesired = false

	msg, _, err := u.client.ExchangeContext(ctx, ping, u.addr)
	if err != nil && msg != nil && (msg.Response || msg.Opcode == dns.OpcodeQuery) {
		return nil
	}
	return err
}

// CheckPing sends one unprivileged ICMP echo to the upstream's host.
func CheckPing(ctx context.Context, u *Upstream) error {
	host, _, err := net.SplitHostPort(u.addr)
	if err != nil {
		host = u.addr
	}
	pinger, err := probing.NewPinger(host)
	if err != nil {
		return fmt.Errorf("failed to create pinger: %w", err)
	}
	pinger.Count = 1
	pinger.Timeout = u.timeout
	pinger.SetPrivileged(false)

	if err := pinger.RunWithContext(ctx); err != nil {
		return err
	}
	if pinger.Statistics().PacketsRecv == 0 {
		return fmt.Errorf("packet loss")
	}
	return nil
}
