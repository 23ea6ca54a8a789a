//go:build !darwin && !freebsd

package table

import (
	"fmt"
	"runtime"
)

func openPF(Config) (Device, error) {
	return nil, &Error{
		Op:   "open",
		Kind: KindDeviceUnavailable,
		Err:  fmt.Errorf("pf is not available on %s", runtime.GOOS),
	}
}
