// internal/diff/lines.go
package diff

import (
	"bytes"
	"fmt"
)

// Line represents a single line in a diff with its type and content
type Line struct {
	Type    LineType
	Content string
	OldNum  int // 1-based, 0 for additions
	NewNum  int // 1-based, 0 for deletions
}

// LineType indicates whether a line was added, removed, or is context
type LineType int

const (
	Context LineType = iota
	Addition
	Deletion
)

// LineStats counts changed lines.
type LineStats struct {
	Additions int `json:"additions"`
	Deletions int `json:"deletions"`
}

// LineDiff is the hunked line diff of two blobs.
type LineDiff struct {
	Hunks []Hunk
	Stats LineStats
}

// Hunk represents a continuous section of changes
type Hunk struct {
	OldStart int
	OldLines int
	NewStart int
	NewLines int
	Lines    []Line
}

// MaxLCSCells bounds the LCS table. Larger inputs are diffed as a whole-file replacement.
const MaxLCSCells = 16 << 20

// LineEngine produces unified-style line diffs using a longest common subsequence.
type LineEngine struct {
	contextLines int
}

func NewLineEngine(contextLines int) *LineEngine {
	if contextLines < 0 {
		contextLines = 0
	}
	return &LineEngine{contextLines: contextLines}
}

type op struct {
	line      Line
	oldBefore int
	newBefore int
}

// Diff generates a line-by-line diff between two contents.
func (e *LineEngine) Diff(oldContent, newContent []byte) *LineDiff {
	oldLines := splitLines(oldContent)
	newLines := splitLines(newContent)

	ops := e.script(oldLines, newLines)

	result := &LineDiff{}
	for _, o := range ops {
		switch o.line.Type {
		case Addition:
			result.Stats.Additions++
		case Deletion:
			result.Stats.Deletions++
		}
	}
	result.Hunks = e.hunks(ops)
	return result
}

// Stats counts added and deleted lines without building hunks.
func (e *LineEngine) Stats(oldContent, newContent []byte) LineStats {
	return e.Diff(oldContent, newContent).Stats
}

func splitLines(content []byte) [][]byte {
	if len(content) == 0 {
		return nil
	}
	return bytes.Split(bytes.TrimSuffix(content, []byte{'\n'}), []byte{'\n'})
}

// script walks a suffix LCS table front to back, preferring deletions before
// additions so the output is stable for equal inputs.
func (e *LineEngine) script(oldLines, newLines [][]byte) []op {
	n, m := len(oldLines), len(newLines)
	if n*m > MaxLCSCells {
		return replaceAll(oldLines, newLines)
	}

	lcs := make([][]int, n+1)
	for i := range lcs {
		lcs[i] = make([]int, m+1)
	}
	for i := n - 1; i >= 0; i-- {
		for j := m - 1; j >= 0; j-- {
			if bytes.Equal(oldLines[i], newLines[j]) {
				lcs[i][j] = lcs[i+1][j+1] + 1
			} else {
				lcs[i][j] = max(lcs[i+1][j], lcs[i][j+1])
			}
		}
	}

	ops := make([]op, 0, n+m)
	i, j := 0, 0
	for i < n || j < m {
		switch {
		case i < n && j < m && bytes.Equal(oldLines[i], newLines[j]):
			ops = append(ops, op{Line{Context, string(oldLines[i]), i + 1, j + 1}, i, j})
			i++
			j++
		case i < n && (j == m || lcs[i+1][j] >= lcs[i][j+1]):
			ops = append(ops, op{Line{Deletion, string(oldLines[i]), i + 1, 0}, i, j})
			i++
		default:
			ops = append(ops, op{Line{Addition, string(newLines[j]), 0, j + 1}, i, j})
			j++
		}
	}
	return ops
}

func replaceAll(oldLines, newLines [][]byte) []op {
	ops := make([]op, 0, len(oldLines)+len(newLines))
	for i, l := range oldLines {
		ops = append(ops, op{Line{Deletion, string(l), i + 1, 0}, i, 0})
	}
	for j, l := range newLines {
		ops = append(ops, op{Line{Addition, string(l), 0, j + 1}, len(oldLines), j})
	}
	return ops
}

// hunks groups changes that are within 2*context lines of each other.
func (e *LineEngine) hunks(ops []op) []Hunk {
	var ranges [][2]int
	for idx, o := range ops {
		if o.line.Type == Context {
			continue
		}
		start := max(0, idx-e.contextLines)
		end := min(len(ops), idx+1+e.contextLines)
		if n := len(ranges); n > 0 && start <= ranges[n-1][1] {
			ranges[n-1][1] = end
			continue
		}
		ranges = append(ranges, [2]int{start, end})
	}

	hunks := make([]Hunk, 0, len(ranges))
	for _, r := range ranges {
		h := Hunk{OldStart: ops[r[0]].oldBefore, NewStart: ops[r[0]].newBefore}
		for _, o := range ops[r[0]:r[1]] {
			h.Lines = append(h.Lines, o.line)
			if o.line.Type != Addition {
				h.OldLines++
			}
			if o.line.Type != Deletion {
				h.NewLines++
			}
		}
		if h.OldLines > 0 {
			h.OldStart++
		}
		if h.NewLines > 0 {
			h.NewStart++
		}
		hunks = append(hunks, h)
	}
	return hunks
}

// Format renders the hunks in unified diff style.
func (r *LineDiff) Format() string {
	var buf bytes.Buffer

	for _, hunk := range r.Hunks {
		fmt.Fprintf(&buf, "@@ -%d,%d +%d,%d @@\n",
			hunk.OldStart, hunk.OldLines,
			hunk.NewStart, hunk.NewLines)

		for _, line := range hunk.Lines {
			switch line.Type {
			case Addition:
				buf.WriteByte('+')
			case Deletion:
				buf.WriteByte('-')
			case Context:
				buf.WriteByte(' ')
			}
			buf.WriteString(line.Content)
			buf.WriteByte('\n')
		}
	}

	return buf.String()
}
