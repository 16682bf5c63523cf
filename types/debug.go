package types

import "fmt"

// Location is a position inside a test script.
type Location struct {
	File   string
	Line   int
	Column int
}

// IsValid reports whether the location points into a file.
func (l Location) IsValid() bool {
	return l.File != "" && l.Line > 0
}

func (l Location) String() string {
	if l.Column > 0 {
		return fmt.Sprintf("%s:%d:%d", l.File, l.Line, l.Column)
	}
	return fmt.Sprintf("%s:%d", l.File, l.Line)
}

// Breakpoint is a line breakpoint in a test script.
type Breakpoint struct {
	File    string `yaml:"file"`
	Line    int    `yaml:"line"`
	Enabled bool   `yaml:"enabled"`
}

// Matches reports whether the breakpoint is hit at the given location.
func (b Breakpoint) Matches(loc Location) bool {
	return b.Enabled && b.Line == loc.Line && b.File == loc.File
}

// Variable is one entry of a symbol dump printed by the runner.
type Variable struct {
	Name       string
	Type       string
	Value      string
	Expandable bool
}

// LocalsUpdate carries a parsed symbol dump. Single is set when the dump
// holds the children of one expanded symbol instead of the full locals table.
type LocalsUpdate struct {
	Single    bool
	Variables []Variable
}
