package snapshot

import (
	"bytes"
	"fmt"
	"strings"

	json "github.com/goccy/go-json"
)

// DefaultContextLines is the number of unchanged lines shown around each change.
const DefaultContextLines = 3

type opKind byte

const (
	opEqual  opKind = ' '
	opDelete opKind = '-'
	opInsert opKind = '+'
)

type editOp struct {
	kind opKind
	text string
	// line positions (0-based) in the left and right documents before this op
	left, right int
}

// Pretty renders a snapshot as indented JSON for line-level review.
func Pretty(b []byte) (string, error) {
	if len(bytes.TrimSpace(b)) == 0 {
		return "", nil
	}
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.UseNumber()
	var v interface{}
	if err := dec.Decode(&v); err != nil {
		return "", fmt.Errorf("failed to decode snapshot: %w", err)
	}
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return "", err
	}
	return string(out), nil
}

// UnifiedDiff renders a unified diff between two pretty-printed snapshots.
// It returns "" when both render identically.
func UnifiedDiff(leftLabel string, left []byte, rightLabel string, right []byte, contextLines int) (string, error) {
	if contextLines < 0 {
		contextLines = DefaultContextLines
	}
	l, err := Pretty(left)
	if err != nil {
		return "", err
	}
	r, err := Pretty(right)
	if err != nil {
		return "", err
	}
	ops := editScript(splitLines(l), splitLines(r))

	var sb strings.Builder
	for _, h := range hunks(ops, contextLines) {
		if sb.Len() == 0 {
			fmt.Fprintf(&sb, "--- %s\n+++ %s\n", leftLabel, rightLabel)
		}
		writeHunk(&sb, ops[h[0]:h[1]])
	}
	return sb.String(), nil
}

func splitLines(s string) []string {
	if s == "" {
		return nil
	}
	return strings.Split(s, "\n")
}

// editScript computes an LCS edit script. The suffix-LCS table is filled
// bottom-up and walked forward, so neither step recurses.
func editScript(a, b []string) []editOp {
	n, m := len(a), len(b)
	width := m + 1
	table := make([]int32, (n+1)*width)
	for i := n - 1; i >= 0; i-- {
		for j := m - 1; j >= 0; j-- {
			switch {
			case a[i] == b[j]:
				table[i*width+j] = table[(i+1)*width+j+1] + 1
			case table[(i+1)*width+j] >= table[i*width+j+1]:
				table[i*width+j] = table[(i+1)*width+j]
			default:
				table[i*width+j] = table[i*width+j+1]
			}
		}
	}

	ops := make([]editOp, 0, n+m)
	i, j := 0, 0
	for i < n && j < m {
		switch {
		case a[i] == b[j]:
			ops = append(ops, editOp{kind: opEqual, text: a[i], left: i, right: j})
			i++
			j++
		case table[(i+1)*width+j] >= table[i*width+j+1]:
			ops = append(ops, editOp{kind: opDelete, text: a[i], left: i, right: j})
			i++
		default:
			ops = append(ops, editOp{kind: opInsert, text: b[j], left: i, right: j})
			j++
		}
	}
	for ; i < n; i++ {
		ops = append(ops, editOp{kind: opDelete, text: a[i], left: i, right: j})
	}
	for ; j < m; j++ {
		ops = append(ops, editOp{kind: opInsert, text: b[j], left: i, right: j})
	}
	return ops
}

// hunks groups changed ops with their context into [start, end) ranges of ops.
// Changes separated by at most 2*context equal lines share a hunk.
func hunks(ops []editOp, context int) [][2]int {
	var out [][2]int
	start, end := -1, -1
	for idx, op := range ops {
		if op.kind == opEqual {
			continue
		}
		lo := idx - context
		if lo < 0 {
			lo = 0
		}
		hi := idx + context + 1
		if hi > len(ops) {
			hi = len(ops)
		}
		if start >= 0 && lo <= end {
			end = hi
			continue
		}
		if start >= 0 {
			out = append(out, [2]int{start, end})
		}
		start, end = lo, hi
	}
	if start >= 0 {
		out = append(out, [2]int{start, end})
	}
	return out
}

func writeHunk(sb *strings.Builder, ops []editOp) {
	var leftCount, rightCount int
	for _, op := range ops {
		if op.kind != opInsert {
			leftCount++
		}
		if op.kind != opDelete {
			rightCount++
		}
	}
	leftStart, rightStart := ops[0].left, ops[0].right
	if leftCount > 0 {
		leftStart++
	}
	if rightCount > 0 {
		rightStart++
	}
	fmt.Fprintf(sb, "@@ -%d,%d +%d,%d @@\n", leftStart, leftCount, rightStart, rightCount)
	for _, op := range ops {
		sb.WriteByte(byte(op.kind))
		sb.WriteString(op.text)
		sb.WriteByte('\n')
	}
}
