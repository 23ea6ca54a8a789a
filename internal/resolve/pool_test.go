package resolve

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func downPool(t *testing.T, opts ...Option) *Resolver {
	t.Helper()
	opts = append([]Option{WithHealthCheck(time.Hour), WithMaxFails(1)}, opts...)
	r := New([]string{"192.0.2.1", "192.0.2.2", "192.0.2.3"}, opts...)
	for _, u := range r.hosts {
		u.markFailed()
	}
	return r
}

func TestPolicies(t *testing.T) {
	r := New([]string{"192.0.2.1", "192.0.2.2", "192.0.2.3"}, WithHealthCheck(time.Hour), WithMaxFails(1))
	r.hosts[0].markFailed()

	assert.Same(t, r.hosts[1], First{}.Select(r.hosts))

	rr := &RoundRobin{}
	var got []string
	for range 4 {
		got = append(got, rr.Select(r.hosts).Addr())
	}
	assert.Equal(t, []string{"192.0.2.2:53", "192.0.2.2:53", "192.0.2.3:53", "192.0.2.2:53"}, got)

	for range 20 {
		assert.NotSame(t, r.hosts[0], Random{}.Select(r.hosts))
	}
}

func TestSelect_AllDown(t *testing.T) {
	r := downPool(t)
	assert.Nil(t, r.Select())
	assert.Nil(t, r.candidates())

	_, err := r.Lookup(context.Background(), "example.com")
	assert.ErrorIs(t, err, ErrNoUpstream)

	r = downPool(t, WithSpray(true))
	assert.NotNil(t, r.Select())
	assert.Len(t, r.candidates(), 1)
}

func TestPolicyByName(t *testing.T) {
	for _, name := range []string{"", "random", "round_robin", "first"} {
		p, err := PolicyByName(name)
		require.NoError(t, err, name)
		assert.NotNil(t, p)
	}
	_, err := PolicyByName("fastest")
	assert.Error(t, err)
}

func TestHealthCheck_MarksDownAndRecovers(t *testing.T) {
	var healthy atomic.Bool
	checks := atomic.Int32{}
	check := func(_ context.Context, u *Upstream) error {
		checks.Add(1)
		if u.Addr() == "192.0.2.1:53" && !healthy.Load() {
			return errors.New("timeout")
		}
		return nil
	}
	r := New([]string{"192.0.2.1", "192.0.2.2"},
		WithHealthCheck(10*time.Millisecond),
		WithMaxFails(2),
		WithCheck(check),
		WithPolicy(First{}),
	)
	r.Start()
	defer r.Stop()

	assert.Eventually(t, func() bool { return r.Status()[0].Down }, 2*time.Second, 5*time.Millisecond)
	assert.False(t, r.Status()[1].Down)
	assert.Same(t, r.hosts[1], r.Select())

	healthy.Store(true)
	assert.Eventually(t, func() bool { return !r.Status()[0].Down }, 2*time.Second, 5*time.Millisecond)
	assert.Same(t, r.hosts[0], r.Select())

	r.Stop()
	n := checks.Load()
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, n, checks.Load(), "no checks after Stop")
}

func TestStart_WithoutInterval(t *testing.T) {
	r := New([]string{"192.0.2.1"})
	r.Start()
	assert.Nil(t, r.stop)
	r.Stop()
}

func TestCheckDNS(t *testing.T) {
	r := New([]string{startServer(t).addr, deadAddr(t)}, WithTimeout(500*time.Millisecond))
	ctx := context.Background()

	assert.NoError(t, CheckDNS(ctx, r.hosts[0]))
	assert.Error(t, CheckDNS(ctx, r.hosts[1]))
}

func TestHealthCheck_DNS(t *testing.T) {
	live := startServer(t).addr
	dead := deadAddr(t)
	r := New([]string{dead, live},
		WithHealthCheck(20*time.Millisecond),
		WithMaxFails(1),
		WithTimeout(500*time.Millisecond),
		WithPolicy(First{}),
	)
	r.Start()
	defer r.Stop()

	assert.Eventually(t, func() bool { return r.Status()[0].Down }, 3*time.Second, 10*time.Millisecond)

	addrs, err := r.Lookup(context.Background(), "example.com")
	require.NoError(t, err)
	assert.Len(t, addrs, 3)
}
