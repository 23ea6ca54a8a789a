package table

import (
	"errors"
	"strings"
	"syscall"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openMemoryHandle(t *testing.T) (*Handle, *MemoryStore) {
	t.Helper()
	store := NewMemoryStore()
	h, err := Open(Config{Opener: store.Opener()})
	require.NoError(t, err)
	return h, store
}

func addrs(t *testing.T, ss ...string) []Address {
	t.Helper()
	out := make([]Address, 0, len(ss))
	for _, s := range ss {
		a, err := ParseAddress(s)
		require.NoError(t, err)
		out = append(out, a)
	}
	return out
}

func TestHandle_EndToEnd(t *testing.T) {
	h, store := openMemoryHandle(t)

	require.NoError(t, h.EnsureTable("anchor1", "blocklist"))

	n, err := h.AddAddresses("anchor1", "blocklist", addrs(t, "10.0.0.1", "10.0.0.2"))
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	n, err = h.AddAddresses("anchor1", "blocklist", addrs(t, "10.0.0.1"))
	require.NoError(t, err)
	assert.Contains(t, []int{0, 1}, n)

	_, err = h.AddAddresses("anchor1", "missing_table", addrs(t, "10.0.0.3"))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrTableNotFound)

	require.NoError(t, h.Close())
	assert.Equal(t, 0, store.OpenHandles())
	assert.Equal(t, []string{"10.0.0.1", "10.0.0.2"}, store.Entries("anchor1", "blocklist"))
}

func TestHandle_EnsureTableIdempotent(t *testing.T) {
	h, store := openMemoryHandle(t)
	defer h.Close()

	pairs := [][2]string{
		{"anchor1", "blocklist"},
		{"a/b/c", "t"},
		{strings.Repeat("a", MaxAnchorLen), strings.Repeat("t", MaxTableNameLen)},
	}
	for _, p := range pairs {
		assert.NoError(t, h.EnsureTable(p[0], p[1]))
		assert.NoError(t, h.EnsureTable(p[0], p[1]))
		assert.True(t, store.HasTable(p[0], p[1]))
	}
}

func TestHandle_AddAddressesReinsert(t *testing.T) {
	h, _ := openMemoryHandle(t)
	defer h.Close()

	batches := [][]string{
		{"192.0.2.1", "192.0.2.2", "198.51.100.0/24"},
		{"2001:db8::1", "2001:db8::/48"},
	}
	for i, b := range batches {
		name := []string{"v4", "v6"}[i]
		require.NoError(t, h.EnsureTable("anchor", name))

		n, err := h.AddAddresses("anchor", name, addrs(t, b...))
		require.NoError(t, err)
		assert.Equal(t, len(b), n)

		n, err = h.AddAddresses("anchor", name, addrs(t, b...))
		require.NoError(t, err)
		assert.GreaterOrEqual(t, n, 0)
		assert.LessOrEqual(t, n, len(b))
	}
}

func TestHandle_MixedFamilyBatch(t *testing.T) {
	h, store := openMemoryHandle(t)
	defer h.Close()

	before := store.Calls()
	_, err := h.AddAddresses("anchor", "fresh", addrs(t, "10.0.0.1", "2001:db8::1"))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidAddressFamily)
	assert.Equal(t, before, store.Calls(), "device must not be contacted")
	assert.False(t, store.HasTable("anchor", "fresh"))
}

func TestHandle_InvalidAddresses(t *testing.T) {
	h, store := openMemoryHandle(t)
	defer h.Close()
	require.NoError(t, h.EnsureTable("anchor", "t"))
	before := store.Calls()

	cases := map[string][]Address{
		"empty batch":  nil,
		"short ip":     {{IP: []byte{10, 0, 0}, Bits: 24}},
		"prefix range": {{IP: []byte{10, 0, 0, 0}, Bits: 33}},
		"negative":     {{IP: []byte{10, 0, 0, 0}, Bits: -1}},
		"late mixed": {
			Host([]byte{10, 0, 0, 1}),
			Host([]byte{10, 0, 0, 2}),
			Host(make([]byte, 16)),
		},
	}
	for name, batch := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := h.AddAddresses("anchor", "t", batch)
			assert.ErrorIs(t, err, ErrInvalidAddressFamily)
			assert.Equal(t, KindInvalidAddressFamily, KindOf(err))
		})
	}
	assert.Equal(t, before, store.Calls())
	assert.Empty(t, store.Entries("anchor", "t"))
}

func TestHandle_InvalidNames(t *testing.T) {
	h, store := openMemoryHandle(t)
	defer h.Close()

	cases := [][2]string{
		{"", "t"},
		{"a", ""},
		{strings.Repeat("a", MaxAnchorLen+1), "t"},
		{"a", strings.Repeat("t", MaxTableNameLen+1)},
		{"a\x00b", "t"},
		{"a", "t\x00"},
		{"/a", "t"},
		{"a//b", "t"},
	}
	for _, c := range cases {
		err := h.EnsureTable(c[0], c[1])
		assert.ErrorIs(t, err, ErrInvalidName, "ensure %q/%q", c[0], c[1])

		_, err = h.AddAddresses(c[0], c[1], addrs(t, "10.0.0.1"))
		assert.ErrorIs(t, err, ErrInvalidName, "add %q/%q", c[0], c[1])
	}
	assert.Zero(t, store.Calls())
}

func TestHandle_InvalidHandle(t *testing.T) {
	var zero Handle
	var nilHandle *Handle

	for name, h := range map[string]*Handle{"zero": &zero, "nil": nilHandle} {
		t.Run(name, func(t *testing.T) {
			assert.ErrorIs(t, h.EnsureTable("a", "t"), ErrInvalidHandle)
			_, err := h.AddAddresses("a", "t", addrs(t, "10.0.0.1"))
			assert.ErrorIs(t, err, ErrInvalidHandle)
			assert.ErrorIs(t, h.Close(), ErrInvalidHandle)
		})
	}

	h, store := openMemoryHandle(t)
	require.NoError(t, h.Close())
	assert.False(t, h.IsOpen())

	assert.ErrorIs(t, h.EnsureTable("a", "t"), ErrInvalidHandle)
	_, err := h.AddAddresses("a", "t", addrs(t, "10.0.0.1"))
	assert.ErrorIs(t, err, ErrInvalidHandle)
	assert.ErrorIs(t, h.Close(), ErrInvalidHandle)
	assert.Zero(t, store.Calls())
	assert.Zero(t, store.OpenHandles())
}

func TestHandle_InvalidHandleCheckedFirst(t *testing.T) {
	var h Handle
	// Bad names and batches on a closed handle still report the handle.
	assert.ErrorIs(t, h.EnsureTable("", ""), ErrInvalidHandle)
	_, err := h.AddAddresses("", "", nil)
	assert.ErrorIs(t, err, ErrInvalidHandle)
}

func TestOpen_DeviceUnavailable(t *testing.T) {
	store := NewMemoryStore()
	store.FailOpen(syscall.EBUSY)

	h, err := Open(Config{Opener: store.Opener()})
	assert.Nil(t, h)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrDeviceUnavailable)
	assert.ErrorIs(t, err, syscall.EBUSY)

	var te *Error
	require.True(t, errors.As(err, &te))
	assert.Equal(t, int(syscall.EBUSY), te.Code)
	assert.Equal(t, "open", te.Op)

	store.FailOpen(nil)
	h, err = Open(Config{Opener: store.Opener()})
	require.NoError(t, err)
	require.NoError(t, h.Close())
}

func TestOpen_UnknownBackend(t *testing.T) {
	_, err := Open(Config{Backend: "ipfw"})
	assert.ErrorIs(t, err, ErrDeviceUnavailable)
	assert.Contains(t, err.Error(), "unknown backend")
}

func TestOpen_MemoryBackend(t *testing.T) {
	DefaultMemoryStore.Reset()
	defer DefaultMemoryStore.Reset()

	h, err := Open(Config{Backend: BackendMemory})
	require.NoError(t, err)
	defer h.Close()

	require.NoError(t, h.EnsureTable("a", "t"))
	assert.True(t, DefaultMemoryStore.HasTable("a", "t"))
}

type failingDevice struct {
	addErr   error
	tableErr error
	closeErr error
	closed   int
}

func (d *failingDevice) AddTable(string, string) (int, error) { return 0, d.tableErr }
func (d *failingDevice) AddAddrs(string, string, Family, []Address) (int, error) {
	return 0, d.addErr
}
func (d *failingDevice) Close() error {
	d.closed++
	return d.closeErr
}

func TestHandle_DeviceRejected(t *testing.T) {
	dev := &failingDevice{
		tableErr: syscall.EINVAL,
		addErr:   errors.New("boom"),
	}
	h, err := Open(Config{Opener: func(Config) (Device, error) { return dev, nil }})
	require.NoError(t, err)

	err = h.EnsureTable("a", "t")
	assert.ErrorIs(t, err, ErrDeviceRejected)
	assert.ErrorIs(t, err, syscall.EINVAL)
	var te *Error
	require.True(t, errors.As(err, &te))
	assert.Equal(t, int(syscall.EINVAL), te.Code)
	assert.Equal(t, "a", te.Anchor)
	assert.Equal(t, "t", te.Table)

	_, err = h.AddAddresses("a", "t", addrs(t, "10.0.0.1"))
	assert.ErrorIs(t, err, ErrDeviceRejected)
	assert.Contains(t, err.Error(), "boom")

	require.NoError(t, h.Close())
	assert.Equal(t, 1, dev.closed)
}

func TestHandle_CloseError(t *testing.T) {
	dev := &failingDevice{closeErr: syscall.EIO}
	h, err := Open(Config{Opener: func(Config) (Device, error) { return dev, nil }})
	require.NoError(t, err)

	assert.ErrorIs(t, h.Close(), ErrDeviceRejected)
	// The descriptor is released even when close reports an error.
	assert.ErrorIs(t, h.Close(), ErrInvalidHandle)
	assert.Equal(t, 1, dev.closed)
}

func TestOpen_NilDevice(t *testing.T) {
	_, err := Open(Config{Opener: func(Config) (Device, error) { return nil, nil }})
	assert.ErrorIs(t, err, ErrDeviceUnavailable)
}
