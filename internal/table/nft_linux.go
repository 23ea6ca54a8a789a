//go:build linux

package table

import (
	"bytes"
	"fmt"
	"slices"

	"github.com/google/nftables"
	"github.com/vishvananda/netns"
)

const defaultBackend = BackendNFTables

// NFTablesConn is the subset of *nftables.Conn the nftables backend uses.
type NFTablesConn interface {
	AddTable(t *nftables.Table) *nftables.Table
	ListTables() ([]*nftables.Table, error)
	AddSet(s *nftables.Set, vals []nftables.SetElement) error
	GetSets(t *nftables.Table) ([]*nftables.Set, error)
	GetSetElements(s *nftables.Set) ([]nftables.SetElement, error)
	SetAddElements(s *nftables.Set, vals []nftables.SetElement) error
	SetDeleteElements(s *nftables.Set, vals []nftables.SetElement) error
	Flush() error
}

// nftMaxNameLen is NFT_NAME_MAXLEN without the terminating NUL. Set names
// carry a three byte family suffix.
const nftMaxNameLen = 255

// nftDevice maps an anchor to an inet table and an address table to one
// interval set per family.
type nftDevice struct {
	conn NFTablesConn
	ns   netns.NsHandle
}

func openNFTables(cfg Config) (Device, error) {
	ns := netns.None()
	var opts []nftables.ConnOption
	if cfg.NetNS != "" {
		h, err := netns.GetFromName(cfg.NetNS)
		if err != nil {
			return nil, fmt.Errorf("netns %s: %w", cfg.NetNS, err)
		}
		ns = h
		opts = append(opts, nftables.WithNetNSFd(int(h)))
	}

	conn, err := nftables.New(opts...)
	if err != nil {
		closeNS(ns)
		return nil, fmt.Errorf("nftables: %w", err)
	}
	// Connections are dialed lazily; list tables now so permission problems surface
	// at open rather than on the first request.
	if _, err := conn.ListTables(); err != nil {
		closeNS(ns)
		return nil, fmt.Errorf("nftables: %w", err)
	}
	return newNFTDevice(conn, ns), nil
}

func newNFTDevice(conn NFTablesConn, ns netns.NsHandle) *nftDevice {
	return &nftDevice{conn: conn, ns: ns}
}

func closeNS(ns netns.NsHandle) error {
	if ns.IsOpen() {
		return ns.Close()
	}
	return nil
}

// nftTableName is the anchor itself; nft identifiers may contain '/'.
func nftTableName(anchor string) string {
	return anchor
}

func nftSetName(name string, fam Family) string {
	if fam == FamilyIPv6 {
		return name + "_v6"
	}
	return name + "_v4"
}

func nftKeyType(fam Family) nftables.SetDatatype {
	if fam == FamilyIPv6 {
		return nftables.TypeIP6Addr
	}
	return nftables.TypeIPAddr
}

func (d *nftDevice) findTable(anchor string) (*nftables.Table, error) {
	tables, err := d.conn.ListTables()
	if err != nil {
		return nil, fmt.Errorf("failed to list tables: %w", err)
	}
	want := nftTableName(anchor)
	for _, t := range tables {
		if t.Name == want && t.Family == nftables.TableFamilyINet {
			return t, nil
		}
	}
	return nil, nil
}

func (d *nftDevice) findSet(t *nftables.Table, name string) (*nftables.Set, error) {
	sets, err := d.conn.GetSets(t)
	if err != nil {
		return nil, fmt.Errorf("failed to get sets: %w", err)
	}
	for _, s := range sets {
		if s.Name == name {
			return s, nil
		}
	}
	return nil, nil
}

func (d *nftDevice) AddTable(anchor, name string) (int, error) {
	existing, err := d.findTable(anchor)
	if err != nil {
		return 0, err
	}
	missing := []Family{FamilyIPv4, FamilyIPv6}
	if existing != nil {
		missing = missing[:0]
		for _, fam := range []Family{FamilyIPv4, FamilyIPv6} {
			s, err := d.findSet(existing, nftSetName(name, fam))
			if err != nil {
				return 0, err
			}
			if s == nil {
				missing = append(missing, fam)
			}
		}
		if len(missing) == 0 {
			return 0, nil
		}
	}

	t := d.conn.AddTable(&nftables.Table{Name: nftTableName(anchor), Family: nftables.TableFamilyINet})
	for _, fam := range missing {
		set := &nftables.Set{
			Table:    t,
			Name:     nftSetName(name, fam),
			KeyType:  nftKeyType(fam),
			Interval: true,
		}
		if err := d.conn.AddSet(set, nil); err != nil {
			return 0, fmt.Errorf("failed to add set: %w", err)
		}
	}
	if err := d.conn.Flush(); err != nil {
		return 0, fmt.Errorf("failed to flush: %w", err)
	}
	return 1, nil
}

func (d *nftDevice) AddAddrs(anchor, name string, fam Family, addrs []Address) (int, error) {
	t, err := d.findTable(anchor)
	if err != nil {
		return 0, err
	}
	if t == nil {
		return 0, &Error{Kind: KindTableNotFound, Err: fmt.Errorf("nftables table %s not found", nftTableName(anchor))}
	}
	set, err := d.findSet(t, nftSetName(name, fam))
	if err != nil {
		return 0, err
	}
	if set == nil {
		return 0, &Error{Kind: KindTableNotFound, Err: fmt.Errorf("nftables set %s not found", nftSetName(name, fam))}
	}

	current, err := d.conn.GetSetElements(set)
	if err != nil {
		return 0, fmt.Errorf("failed to get elements: %w", err)
	}
	existing := spansOf(current)

	// Interval sets reject overlapping ranges, so entries already covered are
	// dropped and narrower entries under a new prefix are replaced by it.
	// Prefixes either nest or are disjoint; wider ones are placed first.
	order := slices.Clone(addrs)
	slices.SortStableFunc(order, func(a, b Address) int { return a.Bits - b.Bits })

	var kept, replaced []span
	for _, a := range order {
		s := spanOf(a)
		if coveredBy(s, existing) || coveredBy(s, kept) {
			continue
		}
		for _, e := range existing {
			if s.covers(e) {
				replaced = append(replaced, e)
			}
		}
		kept = append(kept, s)
	}
	if len(kept) == 0 {
		return 0, nil
	}

	if len(replaced) > 0 {
		if err := d.conn.SetDeleteElements(set, elementsOf(replaced)); err != nil {
			return 0, fmt.Errorf("failed to delete elements: %w", err)
		}
	}
	if err := d.conn.SetAddElements(set, elementsOf(kept)); err != nil {
		return 0, fmt.Errorf("failed to add elements: %w", err)
	}
	if err := d.conn.Flush(); err != nil {
		return 0, fmt.Errorf("failed to flush: %w", err)
	}
	return len(kept), nil
}

// NameLimits reports the nftables identifier limits.
func (d *nftDevice) NameLimits() (anchor, table int) {
	return nftMaxNameLen, nftMaxNameLen - len("_v4")
}

func (d *nftDevice) Close() error {
	err := closeNS(d.ns)
	d.ns = netns.None()
	return err
}

// span is the key range [start, end) of one interval set entry. A nil end
// reaches the top of the address space.
type span struct {
	start, end []byte
}

func spanOf(a Address) span {
	start, end := intervalBounds(a)
	return span{start: start, end: end}
}

func (s span) covers(o span) bool {
	if bytes.Compare(s.start, o.start) > 0 {
		return false
	}
	if s.end == nil {
		return true
	}
	return o.end != nil && bytes.Compare(o.end, s.end) <= 0
}

func coveredBy(s span, spans []span) bool {
	for _, o := range spans {
		if o.covers(s) {
			return true
		}
	}
	return false
}

// spansOf pairs the start and end elements of an interval set.
func spansOf(elems []nftables.SetElement) []span {
	sorted := slices.Clone(elems)
	slices.SortFunc(sorted, func(a, b nftables.SetElement) int {
		if c := bytes.Compare(a.Key, b.Key); c != 0 {
			return c
		}
		// An end and a start on the same key belong to adjacent ranges.
		switch {
		case a.IntervalEnd && !b.IntervalEnd:
			return -1
		case !a.IntervalEnd && b.IntervalEnd:
			return 1
		}
		return 0
	})

	var out []span
	var open []byte
	for _, e := range sorted {
		if e.IntervalEnd {
			if open != nil {
				out = append(out, span{start: open, end: e.Key})
				open = nil
			}
			continue
		}
		if open != nil {
			out = append(out, span{start: open, end: e.Key})
		}
		open = e.Key
	}
	if open != nil {
		out = append(out, span{start: open})
	}
	return out
}

func elementsOf(spans []span) []nftables.SetElement {
	out := make([]nftables.SetElement, 0, 2*len(spans))
	for _, s := range spans {
		out = append(out, nftables.SetElement{Key: s.start})
		if s.end != nil {
			out = append(out, nftables.SetElement{Key: s.end, IntervalEnd: true})
		}
	}
	return out
}

// intervalBounds returns the first address of a and the exclusive end of its
// range. end is nil when the range reaches the top of the address space.
func intervalBounds(a Address) (start, end []byte) {
	start = make([]byte, len(a.IP))
	for i := range a.IP {
		start[i] = a.IP[i] & maskByte(a.Bits, i)
	}

	end = make([]byte, len(start))
	for i := range start {
		end[i] = start[i] | ^maskByte(a.Bits, i)
	}
	for i := len(end) - 1; i >= 0; i-- {
		end[i]++
		if end[i] != 0 {
			break
		}
	}
	if bytes.Equal(end, make([]byte, len(end))) {
		return start, nil
	}
	return start, end
}

// maskByte returns byte i of a prefix mask of the given length.
func maskByte(bits, i int) byte {
	switch n := bits - 8*i; {
	case n >= 8:
		return 0xff
	case n <= 0:
		return 0
	default:
		return ^byte(0xff >> n)
	}
}
