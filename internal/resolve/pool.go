package resolve

import (
	"context"
	"fmt"
	"math/rand/v2"
	"sync"
	"sync/atomic"
	"time"
)

// Policy picks an upstream among those that are not down. It returns nil
// when every upstream is down.
type Policy interface {
	Select(pool []*Upstream) *Upstream
}

// Random picks a random healthy upstream.
type Random struct{}

func (Random) Select(pool []*Upstream) *Upstream {
	var up []*Upstream
	for _, u := range pool {
		if !u.Down() {
			up = append(up, u)
		}
	}
	if len(up) == 0 {
		return nil
	}
	return up[rand.IntN(len(up))]
}

// RoundRobin cycles through the healthy upstreams.
type RoundRobin struct {
	next atomic.Uint32
}

func (r *RoundRobin) Select(pool []*Upstream) *Upstream {
	if len(pool) == 0 {
		return nil
	}
	start := int(r.next.Add(1)-1) % len(pool)
	for i := range pool {
		if u := pool[(start+i)%len(pool)]; !u.Down() {
			return u
		}
	}
	return nil
}

// First picks the first healthy upstream in configuration order.
type First struct{}

func (First) Select(pool []*Upstream) *Upstream {
	for _, u := range pool {
		if !u.Down() {
			return u
		}
	}
	return nil
}

// Spray picks any upstream regardless of its state.
type Spray struct{}

func (Spray) Select(pool []*Upstream) *Upstream {
	if len(pool) == 0 {
		return nil
	}
	return pool[rand.IntN(len(pool))]
}

// PolicyByName maps a configuration name to a Policy.
func PolicyByName(name string) (Policy, error) {
	switch name {
	case "", "random":
		return Random{}, nil
	case "round_robin":
		return &RoundRobin{}, nil
	case "first":
		return First{}, nil
	}
	return nil, fmt.Errorf("unknown policy %q", name)
}

// UpstreamStatus is a snapshot of one upstream.
type UpstreamStatus struct {
	Addr  string
	Fails uint32
	Down  bool
}

// Status returns the state of every upstream in configuration order.
func (r *Resolver) Status() []UpstreamStatus {
	out := make([]UpstreamStatus, 0, len(r.hosts))
	for _, u := range r.hosts {
		out = append(out, UpstreamStatus{Addr: u.addr, Fails: u.Fails(), Down: u.Down()})
	}
	return out
}

// Select returns the upstream for the next query, or nil when all are down
// and spraying is off.
func (r *Resolver) Select() *Upstream {
	if u := r.policy.Select(r.hosts); u != nil {
		return u
	}
	if r.spray != nil {
		return r.spray.Select(r.hosts)
	}
	return nil
}

// candidates returns the selected upstream followed by the other healthy
// ones for failover.
func (r *Resolver) candidates() []*Upstream {
	first := r.Select()
	if first == nil {
		return nil
	}
	out := []*Upstream{first}
	for _, u := range r.hosts {
		if u != first && !u.Down() {
			out = append(out, u)
		}
	}
	return out
}

// Start begins periodic health checks. It does nothing unless the resolver
// was built WithHealthCheck.
func (r *Resolver) Start() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.interval <= 0 || r.stop != nil {
		return
	}
	r.stop = make(chan struct{})
	r.wg.Add(1)
	go func(stop chan struct{}) {
		defer r.wg.Done()
		r.healthCheckWorker(stop)
	}(r.stop)
}

// Stop ends health checking and waits for running checks.
func (r *Resolver) Stop() {
	r.mu.Lock()
	stop := r.stop
	r.stop = nil
	r.mu.Unlock()
	if stop == nil {
		return
	}
	close(stop)
	r.wg.Wait()
}

func (r *Resolver) healthCheckWorker(stop chan struct{}) {
	r.checkAll()

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			r.checkAll()
		case <-stop:
			return
		}
	}
}

func (r *Resolver) checkAll() {
	var wg sync.WaitGroup
	for _, u := range r.hosts {
		wg.Add(1)
		go func(u *Upstream) {
			defer wg.Done()
			r.check(u)
		}(u)
	}
	wg.Wait()
}

func (r *Resolver) check(u *Upstream) error {
	ctx, cancel := context.WithTimeout(context.Background(), u.timeout)
	defer cancel()

	if err := r.checkFn(ctx, u); err != nil {
		u.markFailed()
		r.logger.Warn("Upstream health check failed", "upstream", u.addr, "fails", u.Fails(), "error", err)
		return err
	}
	if u.Fails() > 0 {
		r.logger.Info("Upstream recovered", "upstream", u.addr)
	}
	u.markHealthy()
	return nil
}
