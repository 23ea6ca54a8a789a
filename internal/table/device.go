package table

import "fmt"

// Backend names accepted by Config.Backend.
const (
	BackendPF       = "pf"
	BackendNFTables = "nftables"
	BackendMemory   = "memory"
)

// DefaultDevicePath is the pf control device node.
const DefaultDevicePath = "/dev/pf"

// Device is the low-level control device a Handle drives. Implementations
// receive validated names and single-family, non-empty batches.
//
// AddTable reports 1 when the table was created and 0 when it already existed.
// AddAddrs reports how many entries were newly inserted. A missing table must
// be reported as an *Error of KindTableNotFound; any other error is normalised
// to KindDeviceRejected.
type Device interface {
	AddTable(anchor, name string) (int, error)
	AddAddrs(anchor, name string, fam Family, addrs []Address) (int, error)
	Close() error
}

// Opener acquires a Device for cfg.
type Opener func(cfg Config) (Device, error)

// Config selects and parameterises the control device.
type Config struct {
	// Backend is one of BackendPF, BackendNFTables or BackendMemory.
	Backend string
	// DevicePath is the pf control device node.
	DevicePath string
	// NetNS is a named network namespace for the nftables backend.
	NetNS string
	// Opener overrides backend selection; tests use it to inject a fake device.
	Opener Opener
}

// DefaultConfig returns the platform's native backend.
func DefaultConfig() Config {
	return Config{
		Backend:    defaultBackend,
		DevicePath: DefaultDevicePath,
	}
}

var backends = map[string]Opener{
	BackendPF:       openPF,
	BackendNFTables: openNFTables,
	BackendMemory:   openMemory,
}

func (c Config) opener() (Opener, error) {
	if c.Opener != nil {
		return c.Opener, nil
	}
	backend := c.Backend
	if backend == "" {
		backend = defaultBackend
	}
	open, ok := backends[backend]
	if !ok {
		return nil, fmt.Errorf("unknown backend %q", backend)
	}
	return open, nil
}

// ValidBackend reports whether name is a known backend.
func ValidBackend(name string) bool {
	_, ok := backends[name]
	return ok
}
