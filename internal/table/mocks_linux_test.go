//go:build linux

package table

import (
	"bytes"
	"slices"
	"sync"

	"github.com/google/nftables"
	"github.com/stretchr/testify/mock"
)

// MockNFTablesConn is a mock NFTablesConn that also keeps set elements in
// memory so repeated inserts can be observed.
type MockNFTablesConn struct {
	mock.Mock
	mu sync.Mutex

	tables   map[string]*nftables.Table
	sets     map[string]*nftables.Set
	elements map[string][]nftables.SetElement
}

func NewMockNFTablesConn() *MockNFTablesConn {
	return &MockNFTablesConn{
		tables:   make(map[string]*nftables.Table),
		sets:     make(map[string]*nftables.Set),
		elements: make(map[string][]nftables.SetElement),
	}
}

func setKey(s *nftables.Set) string {
	return s.Table.Name + "/" + s.Name
}

func (m *MockNFTablesConn) AddTable(t *nftables.Table) *nftables.Table {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Called(t)
	if existing, ok := m.tables[t.Name]; ok {
		return existing
	}
	m.tables[t.Name] = t
	return t
}

func (m *MockNFTablesConn) ListTables() ([]*nftables.Table, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	args := m.Called()
	if args.Get(0) != nil {
		return args.Get(0).([]*nftables.Table), args.Error(1)
	}
	tables := make([]*nftables.Table, 0, len(m.tables))
	for _, t := range m.tables {
		tables = append(tables, t)
	}
	return tables, args.Error(1)
}

func (m *MockNFTablesConn) AddSet(s *nftables.Set, vals []nftables.SetElement) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	args := m.Called(s, vals)
	m.sets[setKey(s)] = s
	return args.Error(0)
}

func (m *MockNFTablesConn) GetSets(t *nftables.Table) ([]*nftables.Set, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	args := m.Called(t)
	if args.Get(0) != nil {
		return args.Get(0).([]*nftables.Set), args.Error(1)
	}
	var sets []*nftables.Set
	for _, s := range m.sets {
		if s.Table.Name == t.Name {
			sets = append(sets, s)
		}
	}
	return sets, args.Error(1)
}

func (m *MockNFTablesConn) GetSetElements(s *nftables.Set) ([]nftables.SetElement, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	args := m.Called(s)
	return m.elements[setKey(s)], args.Error(0)
}

func (m *MockNFTablesConn) SetAddElements(s *nftables.Set, vals []nftables.SetElement) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	args := m.Called(s, vals)
	if err := args.Error(0); err != nil {
		return err
	}
	m.elements[setKey(s)] = append(m.elements[setKey(s)], vals...)
	return nil
}

func (m *MockNFTablesConn) SetDeleteElements(s *nftables.Set, vals []nftables.SetElement) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	args := m.Called(s, vals)
	if err := args.Error(0); err != nil {
		return err
	}
	kept := m.elements[setKey(s)][:0]
	for _, e := range m.elements[setKey(s)] {
		if !slices.ContainsFunc(vals, func(v nftables.SetElement) bool {
			return v.IntervalEnd == e.IntervalEnd && bytes.Equal(v.Key, e.Key)
		}) {
			kept = append(kept, e)
		}
	}
	m.elements[setKey(s)] = kept
	return nil
}

func (m *MockNFTablesConn) Flush() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	args := m.Called()
	return args.Error(0)
}
