//go:build darwin || freebsd

package table

import (
	"fmt"
	"unsafe"

	"golang.org/x/sys/unix"
)

const defaultBackend = BackendPF

// pfDevice issues table ioctls against an open /dev/pf descriptor.
type pfDevice struct {
	fd int
}

func openPF(cfg Config) (Device, error) {
	path := cfg.DevicePath
	if path == "" {
		path = DefaultDevicePath
	}
	fd, err := unix.Open(path, unix.O_RDWR|unix.O_CLOEXEC, 0)
	if err != nil {
		return nil, &Error{
			Op:   "open",
			Kind: KindDeviceUnavailable,
			Code: errnoOf(err),
			Err:  fmt.Errorf("open %s: %w", path, err),
		}
	}
	return &pfDevice{fd: fd}, nil
}

func (d *pfDevice) ioctl(req uintptr, io *pfiocTable) error {
	_, _, errno := unix.Syscall(unix.SYS_IOCTL, uintptr(d.fd), req, uintptr(unsafe.Pointer(io)))
	if errno != 0 {
		return errno
	}
	return nil
}

func (d *pfDevice) AddTable(anchor, name string) (int, error) {
	tables := []pfrTable{newPfrTable(anchor, name)}
	tables[0].Flags = pfrTFlagPersist

	io := pfiocTable{
		Buffer: unsafe.Pointer(&tables[0]),
		Esize:  int32(unsafe.Sizeof(tables[0])),
		Size:   1,
	}
	if err := d.ioctl(diocrAddTables, &io); err != nil {
		return 0, pfError("DIOCRADDTABLES", err)
	}
	return int(io.Nadd), nil
}

func (d *pfDevice) AddAddrs(anchor, name string, _ Family, addrs []Address) (int, error) {
	buf := encodePfrAddrs(addrs)

	io := pfiocTable{
		Table:  newPfrTable(anchor, name),
		Buffer: unsafe.Pointer(&buf[0]),
		Esize:  int32(unsafe.Sizeof(buf[0])),
		Size:   int32(len(buf)),
	}
	if err := d.ioctl(diocrAddAddrs, &io); err != nil {
		return 0, pfError("DIOCRADDADDRS", err)
	}
	return int(io.Nadd), nil
}

func (d *pfDevice) Close() error {
	return unix.Close(d.fd)
}
