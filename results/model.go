package results

import (
	"sync"

	"github.com/ethereum-optimism/infra/op-squish/types"
)

// Model is the in-memory result tree of a test run. Only Insert appends
// children to items.
type Model struct {
	mu       sync.RWMutex
	roots    []*types.ResultItem
	expanded map[*types.ResultItem]bool
	counts   map[types.ResultType]int
}

func NewModel() *Model {
	return &Model{
		expanded: make(map[*types.ResultItem]bool),
		counts:   make(map[types.ResultType]int),
	}
}

// Insert appends items under parent, or at the top level when parent is nil.
// The per-type counters are updated once per call with the inserted subtrees.
func (m *Model) Insert(parent *types.ResultItem, items ...*types.ResultItem) {
	if len(items) == 0 {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if parent == nil {
		m.roots = append(m.roots, items...)
	} else {
		parent.Children = append(parent.Children, items...)
	}
	m.addCounts(items)
}

func (m *Model) addCounts(items []*types.ResultItem) {
	for _, item := range items {
		m.counts[item.Type]++
		m.addCounts(item.Children)
	}
}

// ExpandAll marks every top level item as expanded.
func (m *Model) ExpandAll() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, item := range m.roots {
		m.expanded[item] = true
	}
}

func (m *Model) IsExpanded(item *types.ResultItem) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.expanded[item]
}

// Clear drops all items and counters.
func (m *Model) Clear() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.roots = nil
	m.expanded = make(map[*types.ResultItem]bool)
	m.counts = make(map[types.ResultType]int)
}

func (m *Model) Roots() []*types.ResultItem {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]*types.ResultItem(nil), m.roots...)
}

func (m *Model) Count(t types.ResultType) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.counts[t]
}

func (m *Model) Counts() map[types.ResultType]int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	counts := make(map[types.ResultType]int, len(m.counts))
	for k, v := range m.counts {
		counts[k] = v
	}
	return counts
}

// Walk visits every item depth first. Returning false from fn skips the
// children of that item.
func (m *Model) Walk(fn func(item *types.ResultItem, depth int) bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var visit func(items []*types.ResultItem, depth int)
	visit = func(items []*types.ResultItem, depth int) {
		for _, item := range items {
			if fn(item, depth) {
				visit(item.Children, depth+1)
			}
		}
	}
	visit(m.roots, 0)
}
