package table

import (
	"errors"
	"fmt"
	"syscall"
	"unsafe"
)

// Layouts of the pf table ioctl structures shared by FreeBSD and macOS
// (net/pfvar.h). The sizes are checked in pf_test.go.

const (
	pfAnchorSize    = 1024 // MAXPATHLEN
	pfTableNameSize = 32   // PF_TABLE_NAME_SIZE

	pfrTFlagPersist = 0x00000001

	pfAFInet  = syscall.AF_INET
	pfAFInet6 = syscall.AF_INET6
)

type pfrTable struct {
	Anchor [pfAnchorSize]byte
	Name   [pfTableNameSize]byte
	Flags  uint32
	Fback  uint8
	_      [3]byte
}

type pfrAddr struct {
	Addr  [16]byte
	AF    uint8
	Net   uint8
	Not   uint8
	Fback uint8
}

type pfiocTable struct {
	Table   pfrTable
	Buffer  unsafe.Pointer
	Esize   int32
	Size    int32
	Size2   int32
	Nadd    int32
	Ndel    int32
	Nchange int32
	Flags   int32
	Ticket  uint32
}

const (
	iocInOut    = 0xc0000000
	iocParmMask = 0x1fff
)

// iowr mirrors the _IOWR macro from sys/ioccom.h.
func iowr(group byte, num uintptr, size uintptr) uintptr {
	return iocInOut | (size&iocParmMask)<<16 | uintptr(group)<<8 | num
}

var (
	diocrAddTables = iowr('D', 61, unsafe.Sizeof(pfiocTable{}))
	diocrAddAddrs  = iowr('D', 67, unsafe.Sizeof(pfiocTable{}))
)

// newPfrTable encodes a validated (anchor, name) pair. Names shorter than the
// arrays stay NUL-terminated.
func newPfrTable(anchor, name string) pfrTable {
	var t pfrTable
	copy(t.Anchor[:], anchor)
	copy(t.Name[:], name)
	return t
}

func encodePfrAddrs(addrs []Address) []pfrAddr {
	out := make([]pfrAddr, len(addrs))
	for i, a := range addrs {
		copy(out[i].Addr[:], a.IP)
		out[i].Net = uint8(a.Bits)
		if a.Family() == FamilyIPv6 {
			out[i].AF = pfAFInet6
		} else {
			out[i].AF = pfAFInet
		}
	}
	return out
}

// pfError maps a failed table ioctl. ESRCH means the table or its anchor
// does not exist.
func pfError(req string, err error) error {
	if errors.Is(err, syscall.ESRCH) {
		return &Error{Kind: KindTableNotFound, Code: int(syscall.ESRCH), Err: fmt.Errorf("%s: %w", req, err)}
	}
	return fmt.Errorf("%s: %w", req, err)
}
