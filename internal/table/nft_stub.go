//go:build !linux

package table

import (
	"fmt"
	"runtime"
)

func openNFTables(Config) (Device, error) {
	return nil, &Error{
		Op:   "open",
		Kind: KindDeviceUnavailable,
		Err:  fmt.Errorf("nftables is not available on %s", runtime.GOOS),
	}
}
