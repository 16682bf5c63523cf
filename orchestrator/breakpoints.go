package orchestrator

import (
	"path/filepath"
	"sync"

	"github.com/ethereum-optimism/infra/op-squish/types"
)

// Breakpoints is the editable breakpoint list. A runner session works on a
// snapshot, so changes only apply to the next session.
type Breakpoints struct {
	mu    sync.Mutex
	items []types.Breakpoint
}

func NewBreakpoints(initial ...types.Breakpoint) *Breakpoints {
	b := &Breakpoints{}
	for _, bp := range initial {
		b.Add(bp)
	}
	return b
}

// Add inserts bp or replaces the breakpoint on the same line.
func (b *Breakpoints) Add(bp types.Breakpoint) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i := range b.items {
		if b.items[i].File == bp.File && b.items[i].Line == bp.Line {
			b.items[i] = bp
			return
		}
	}
	b.items = append(b.items, bp)
}

func (b *Breakpoints) Remove(file string, line int) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i := range b.items {
		if b.items[i].File == file && b.items[i].Line == line {
			b.items = append(b.items[:i], b.items[i+1:]...)
			return true
		}
	}
	return false
}

func (b *Breakpoints) SetEnabled(file string, line int, enabled bool) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i := range b.items {
		if b.items[i].File == file && b.items[i].Line == line {
			b.items[i].Enabled = enabled
			return true
		}
	}
	return false
}

func (b *Breakpoints) All() []types.Breakpoint {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]types.Breakpoint(nil), b.items...)
}

// Snapshot returns the enabled breakpoints in files with the given script
// extension. An empty extension keeps every file.
func (b *Breakpoints) Snapshot(ext string) []types.Breakpoint {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []types.Breakpoint
	for _, bp := range b.items {
		if !bp.Enabled {
			continue
		}
		if ext != "" && filepath.Ext(bp.File) != ext {
			continue
		}
		out = append(out, bp)
	}
	return out
}

func hitsBreakpoint(set []types.Breakpoint, loc types.Location) bool {
	if !loc.IsValid() {
		return false
	}
	for _, bp := range set {
		if bp.Matches(loc) {
			return true
		}
	}
	return false
}
