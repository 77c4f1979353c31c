// Package diff renders unified diffs of file edits using sergi/go-diff.
package diff

import (
	"fmt"
	"strings"

	"github.com/sergi/go-diff/diffmatchpatch"
)

// LineType represents the type of diff line
type LineType int

const (
	LineContext LineType = iota // Unchanged context line
	LineAdded                   // Added line
	LineRemoved                 // Removed line
)

// Line is a single line in a hunk.
type Line struct {
	Content string
	Type    LineType
}

// Hunk represents a group of changes
type Hunk struct {
	OldStart int
	OldCount int
	NewStart int
	NewCount int
	Lines    []Line
}

// FileDiff represents changes to a single file
type FileDiff struct {
	Path  string
	IsNew bool
	Hunks []Hunk
}

// Empty reports whether the diff has no changes.
func (d *FileDiff) Empty() bool {
	return d == nil || len(d.Hunks) == 0
}

// Stats counts added and removed lines.
func (d *FileDiff) Stats() (added, removed int) {
	if d == nil {
		return 0, 0
	}
	for _, h := range d.Hunks {
		for _, l := range h.Lines {
			switch l.Type {
			case LineAdded:
				added++
			case LineRemoved:
				removed++
			}
		}
	}
	return added, removed
}

// String renders the diff in unified format.
func (d *FileDiff) String() string {
	if d.Empty() {
		return ""
	}
	var b strings.Builder
	if d.IsNew {
		b.WriteString("--- /dev/null\n")
	} else {
		fmt.Fprintf(&b, "--- a/%s\n", d.Path)
	}
	fmt.Fprintf(&b, "+++ b/%s\n", d.Path)
	for _, h := range d.Hunks {
		fmt.Fprintf(&b, "@@ -%s +%s @@\n", hunkRange(h.OldStart, h.OldCount), hunkRange(h.NewStart, h.NewCount))
		for _, l := range h.Lines {
			switch l.Type {
			case LineAdded:
				b.WriteByte('+')
			case LineRemoved:
				b.WriteByte('-')
			default:
				b.WriteByte(' ')
			}
			b.WriteString(l.Content)
			b.WriteByte('\n')
		}
	}
	return b.String()
}

func hunkRange(start, count int) string {
	if count == 1 {
		return fmt.Sprintf("%d", start)
	}
	return fmt.Sprintf("%d,%d", start, count)
}

// Engine computes line diffs.
type Engine struct {
	dmp          *diffmatchpatch.DiffMatchPatch
	contextLines int
}

// NewEngine creates an engine with three lines of context.
func NewEngine() *Engine {
	dmp := diffmatchpatch.New()
	// Optimize for code diffs
	dmp.DiffTimeout = 0
	return &Engine{dmp: dmp, contextLines: 3}
}

// DefaultEngine is shared by the package-level helpers.
var DefaultEngine = NewEngine()

// Compute diffs two versions of path. An empty before with isNew set
// renders against /dev/null.
func (e *Engine) Compute(path, before, after string, isNew bool) *FileDiff {
	fd := &FileDiff{Path: path, IsNew: isNew}
	if before == after {
		return fd
	}

	// Line-level reduction avoids newline boundary artifacts.
	a, b, lineArray := e.dmp.DiffLinesToChars(before, after)
	diffs := e.dmp.DiffMain(a, b, false)
	diffs = e.dmp.DiffCharsToLines(diffs, lineArray)

	fd.Hunks = e.group(toOperations(diffs))
	return fd
}

// Unified is a convenience wrapper returning the rendered diff.
func Unified(path string, before, after []byte, isNew bool) string {
	return DefaultEngine.Compute(path, string(before), string(after), isNew).String()
}

type operation struct {
	typ     LineType
	oldLine int // 0-based, -1 for additions
	newLine int // 0-based, -1 for removals
	content string
}

func toOperations(diffs []diffmatchpatch.Diff) []operation {
	var ops []operation
	oldLine, newLine := 0, 0

	for _, d := range diffs {
		text := strings.TrimSuffix(d.Text, "\n")
		if d.Text == "" {
			continue
		}
		for _, line := range strings.Split(text, "\n") {
			switch d.Type {
			case diffmatchpatch.DiffEqual:
				ops = append(ops, operation{LineContext, oldLine, newLine, line})
				oldLine++
				newLine++
			case diffmatchpatch.DiffDelete:
				ops = append(ops, operation{LineRemoved, oldLine, -1, line})
				oldLine++
			case diffmatchpatch.DiffInsert:
				ops = append(ops, operation{LineAdded, -1, newLine, line})
				newLine++
			}
		}
	}
	return ops
}

// group splits operations into hunks, merging changes whose context overlaps.
func (e *Engine) group(ops []operation) []Hunk {
	var changed []int
	for i, op := range ops {
		if op.typ != LineContext {
			changed = append(changed, i)
		}
	}
	if len(changed) == 0 {
		return nil
	}

	var hunks []Hunk
	start := max(changed[0]-e.contextLines, 0)
	end := changed[0]
	for _, idx := range changed[1:] {
		if idx-end > 2*e.contextLines {
			hunks = append(hunks, e.hunk(ops, start, min(end+e.contextLines, len(ops)-1)))
			start = idx - e.contextLines
		}
		end = idx
	}
	hunks = append(hunks, e.hunk(ops, start, min(end+e.contextLines, len(ops)-1)))
	return hunks
}

func (e *Engine) hunk(ops []operation, from, to int) Hunk {
	h := Hunk{}
	oldStart, newStart := -1, -1
	for i := from; i <= to; i++ {
		op := ops[i]
		h.Lines = append(h.Lines, Line{Content: op.content, Type: op.typ})
		if op.oldLine >= 0 {
			if oldStart < 0 {
				oldStart = op.oldLine
			}
			h.OldCount++
		}
		if op.newLine >= 0 {
			if newStart < 0 {
				newStart = op.newLine
			}
			h.NewCount++
		}
	}
	// An empty side starts at the line before the change, per unified format.
	h.OldStart = oldStart + 1
	if oldStart < 0 {
		h.OldStart = precedingLine(ops, from, true)
	}
	h.NewStart = newStart + 1
	if newStart < 0 {
		h.NewStart = precedingLine(ops, from, false)
	}
	return h
}

// precedingLine returns the 1-based number of the last line before ops[from]
// on the given side, or 0 when there is none.
func precedingLine(ops []operation, from int, old bool) int {
	for i := from - 1; i >= 0; i-- {
		if old && ops[i].oldLine >= 0 {
			return ops[i].oldLine + 1
		}
		if !old && ops[i].newLine >= 0 {
			return ops[i].newLine + 1
		}
	}
	return 0
}
