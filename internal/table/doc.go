// Package table maintains the dynamic address tables of a host firewall through
// its privileged control device.
//
// # Overview
//
// A [Handle] owns one open control device. Callers open it once, issue any
// number of [Handle.EnsureTable] and [Handle.AddAddresses] requests, and close
// it on every exit path:
//
//	h, err := table.Open(table.DefaultConfig())
//	if err != nil {
//		return err
//	}
//	defer h.Close()
//
//	if err := h.EnsureTable("coredns", "blocklist"); err != nil {
//		return err
//	}
//	n, err := h.AddAddresses("coredns", "blocklist", []table.Address{
//		table.MustParseAddress("10.0.0.1"),
//		table.MustParseAddress("10.0.0.0/24"),
//	})
//
// # Backends
//
// The control device is reached through a [Device] selected by [Config.Backend]:
//
//   - "pf": the BSD/macOS packet filter via ioctl(2) on /dev/pf
//   - "nftables": Linux netfilter; an anchor is an inet table and an address
//     table is a pair of interval sets, one per address family
//   - "memory": an in-process store used for tests and dry runs
//
// # Errors
//
// Every failure is an [*Error] carrying a [Kind]. Names and address batches are
// validated before the device is touched, so [ErrInvalidName] and
// [ErrInvalidAddressFamily] never cost a privileged call. The package never
// logs and never retries; both are left to the caller.
//
// A Handle is not safe for concurrent use.
package table
