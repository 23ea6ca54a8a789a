package table

import (
	"errors"
	"sort"
	"sync"
)

// MemoryStore is an in-process stand-in for the kernel table store. Any
// number of handles may be opened against it; they share its contents.
type MemoryStore struct {
	mu      sync.Mutex
	tables  map[memoryKey]map[string]struct{}
	calls   int
	opened  int
	openErr error
}

type memoryKey struct {
	anchor string
	name   string
}

// DefaultMemoryStore backs the "memory" backend.
var DefaultMemoryStore = NewMemoryStore()

func openMemory(Config) (Device, error) {
	return DefaultMemoryStore.open()
}

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{tables: make(map[memoryKey]map[string]struct{})}
}

// Opener returns an Opener bound to s.
func (s *MemoryStore) Opener() Opener {
	return func(Config) (Device, error) {
		return s.open()
	}
}

// FailOpen makes subsequent opens fail with err until called with nil.
func (s *MemoryStore) FailOpen(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.openErr = err
}

// Calls returns the number of table and address requests the store has served.
func (s *MemoryStore) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

// OpenHandles returns the number of devices opened and not yet closed.
func (s *MemoryStore) OpenHandles() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.opened
}

// HasTable reports whether (anchor, name) exists.
func (s *MemoryStore) HasTable(anchor, name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.tables[memoryKey{anchor, name}]
	return ok
}

// Entries returns the sorted contents of a table, or nil if it does not exist.
func (s *MemoryStore) Entries(anchor, name string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	set, ok := s.tables[memoryKey{anchor, name}]
	if !ok {
		return nil
	}
	out := make([]string, 0, len(set))
	for e := range set {
		out = append(out, e)
	}
	sort.Strings(out)
	return out
}

// Reset drops every table.
func (s *MemoryStore) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tables = make(map[memoryKey]map[string]struct{})
	s.calls = 0
}

func (s *MemoryStore) open() (Device, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.openErr != nil {
		return nil, s.openErr
	}
	s.opened++
	return &memoryDevice{store: s}, nil
}

type memoryDevice struct {
	store  *MemoryStore
	closed bool
}

func (d *memoryDevice) AddTable(anchor, name string) (int, error) {
	s := d.store
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	key := memoryKey{anchor, name}
	if _, ok := s.tables[key]; ok {
		return 0, nil
	}
	s.tables[key] = make(map[string]struct{})
	return 1, nil
}

func (d *memoryDevice) AddAddrs(anchor, name string, _ Family, addrs []Address) (int, error) {
	s := d.store
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	set, ok := s.tables[memoryKey{anchor, name}]
	if !ok {
		return 0, &Error{Kind: KindTableNotFound}
	}
	added := 0
	for _, a := range addrs {
		key := a.String()
		if _, dup := set[key]; dup {
			continue
		}
		set[key] = struct{}{}
		added++
	}
	return added, nil
}

func (d *memoryDevice) Close() error {
	if d.closed {
		return errors.New("memory device already closed")
	}
	d.closed = true
	d.store.mu.Lock()
	d.store.opened--
	d.store.mu.Unlock()
	return nil
}
