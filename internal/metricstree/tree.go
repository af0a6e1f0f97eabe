// Package metricstree parses and serializes the ASCII-art metrics tree
// embedded in context/metrics_tree.md (spec §3, §4.7), and implements the
// tree-surgery operations the Tool Executor and Suggestion Engine need:
// marking a node agreed, growing missing branches, and enumerating
// uncovered leaves.
package metricstree

import (
	"strings"
)

// Markers used in the tree's ASCII art.
const (
	ContractMarker = "📄" // "a data contract is expected here"
	AgreedMarker   = "✅" // "contract agreed"
)

const heading = "Дерево"

// Node is one entry in the metrics forest.
type Node struct {
	Name        string
	Depth       int
	HasContract bool
	Agreed      bool
	Parent      *Node
	Children    []*Node
}

// IsLeaf reports whether the node has no children.
func (n *Node) IsLeaf() bool { return len(n.Children) == 0 }

// Tree is a forest of top-level nodes plus the fenced block's surrounding
// text, so Serialize can re-embed the tree in its original document.
type Tree struct {
	Roots  []*Node
	before string
	after  string
}

const (
	prefixVert  = "│   "
	prefixSpace = "    "
	prefixMid   = "├── "
	prefixLast  = "└── "
)

// Parse extracts the fenced ASCII tree under the "Дерево" heading and
// builds a depth-indexed forest. Parent of a node at depth d is the most
// recent prior node at depth d-1, per spec §3.
func Parse(doc string) *Tree {
	lines := strings.Split(doc, "\n")
	fenceStart, fenceEnd := -1, -1
	headingSeen := false
	for i, line := range lines {
		if strings.Contains(line, heading) {
			headingSeen = true
			continue
		}
		if headingSeen && strings.HasPrefix(strings.TrimSpace(line), "```") {
			if fenceStart == -1 {
				fenceStart = i
			} else {
				fenceEnd = i
				break
			}
		}
	}

	t := &Tree{}
	if fenceStart == -1 || fenceEnd == -1 {
		t.before = doc
		return t
	}
	t.before = strings.Join(lines[:fenceStart+1], "\n")
	t.after = strings.Join(lines[fenceEnd:], "\n")

	var lastAtDepth []*Node // lastAtDepth[d] is the most recent node seen at depth d
	for _, line := range lines[fenceStart+1 : fenceEnd] {
		if strings.TrimSpace(line) == "" {
			continue
		}
		depth, rest, ok := consumePrefix(line)
		if !ok {
			continue
		}
		name, hasContract, agreed := parseNodeText(rest)
		node := &Node{Name: name, Depth: depth, HasContract: hasContract, Agreed: agreed}

		if depth == 0 {
			t.Roots = append(t.Roots, node)
		} else {
			for len(lastAtDepth) <= depth {
				lastAtDepth = append(lastAtDepth, nil)
			}
			parent := lastAtDepth[depth-1]
			if parent != nil {
				node.Parent = parent
				parent.Children = append(parent.Children, node)
			} else {
				t.Roots = append(t.Roots, node)
			}
		}
		if len(lastAtDepth) <= depth {
			lastAtDepth = append(lastAtDepth, node)
		} else {
			lastAtDepth[depth] = node
		}
		lastAtDepth = lastAtDepth[:depth+1]
	}
	return t
}

// consumePrefix strips 4-char prefix chunks ("│   ", "    ") and the
// connector, and returns the depth (chunks consumed, plus one for the
// connector) and the remaining text. A line with no connector is depth 0.
func consumePrefix(line string) (depth int, rest string, ok bool) {
	remaining := line
	for {
		switch {
		case strings.HasPrefix(remaining, prefixMid):
			return depth + 1, remaining[len(prefixMid):], true
		case strings.HasPrefix(remaining, prefixLast):
			return depth + 1, remaining[len(prefixLast):], true
		case strings.HasPrefix(remaining, prefixVert):
			remaining = remaining[len(prefixVert):]
			depth++
		case strings.HasPrefix(remaining, prefixSpace):
			remaining = remaining[len(prefixSpace):]
			depth++
		default:
			if depth == 0 {
				// Top-level nodes may have no connector at all.
				return 0, remaining, true
			}
			return 0, "", false
		}
	}
}

func parseNodeText(rest string) (name string, hasContract bool, agreed bool) {
	name = rest
	if strings.Contains(name, AgreedMarker) {
		agreed = true
		name = strings.ReplaceAll(name, AgreedMarker, "")
	}
	if strings.Contains(name, ContractMarker) {
		hasContract = true
		name = strings.ReplaceAll(name, ContractMarker, "")
	}
	return strings.TrimSpace(name), hasContract, agreed
}

// Serialize rebuilds the ASCII tree and re-embeds it in the surrounding doc.
func (t *Tree) Serialize() string {
	var b strings.Builder
	for i, root := range t.Roots {
		writeNode(&b, root, nil, i == len(t.Roots)-1)
	}
	body := strings.TrimRight(b.String(), "\n")
	if t.before == "" && t.after == "" {
		return body
	}
	return t.before + "\n" + body + "\n" + t.after
}

func writeNode(b *strings.Builder, n *Node, ancestorsLast []bool, isLast bool) {
	for _, last := range ancestorsLast {
		if last {
			b.WriteString(prefixSpace)
		} else {
			b.WriteString(prefixVert)
		}
	}
	if len(ancestorsLast) > 0 || n.Depth > 0 {
		if isLast {
			b.WriteString(prefixLast)
		} else {
			b.WriteString(prefixMid)
		}
	}
	b.WriteString(n.Name)
	if n.HasContract {
		b.WriteString(" " + ContractMarker)
	}
	if n.Agreed {
		b.WriteString(" " + AgreedMarker)
	}
	b.WriteString("\n")

	childAncestors := append(append([]bool{}, ancestorsLast...), isLast)
	if len(ancestorsLast) == 0 && n.Depth == 0 {
		// A bare top-level line draws no connector, so it owns no column.
		childAncestors = nil
	}
	for i, c := range n.Children {
		writeNode(b, c, childAncestors, i == len(n.Children)-1)
	}
}

// Find returns the first node (depth-first, root order) whose name matches,
// case-insensitively.
func (t *Tree) Find(name string) *Node {
	var found *Node
	t.Walk(func(n *Node) bool {
		if strings.EqualFold(n.Name, name) {
			found = n
			return false
		}
		return true
	})
	return found
}

// Walk visits every node depth-first; visit returning false stops the walk.
func (t *Tree) Walk(visit func(*Node) bool) {
	var walk func(*Node) bool
	walk = func(n *Node) bool {
		if !visit(n) {
			return false
		}
		for _, c := range n.Children {
			if !walk(c) {
				return false
			}
		}
		return true
	}
	for _, r := range t.Roots {
		if !walk(r) {
			return
		}
	}
}

// MarkAgreed appends the agreed marker to the first node matching name that
// carries the contract marker. Returns false if no matching node was found
// (best-effort per spec §4.3.3).
func (t *Tree) MarkAgreed(name string) bool {
	node := t.Find(name)
	if node == nil || !node.HasContract {
		return false
	}
	node.Agreed = true
	return true
}

// EnsurePath inserts any missing intermediate nodes along chain (ordered
// root-to-leaf). When a new child is added under a node that already has
// children, the previously-last child's connector and its descendants'
// continuation columns are naturally corrected on the next Serialize, since
// "last" is computed from position rather than stored per spec's note on
// rewriting └── to ├──.
func (t *Tree) EnsurePath(chain []string) *Node {
	var parent *Node
	var siblings *[]*Node
	siblingsRoots := &t.Roots
	siblings = siblingsRoots

	for depth, name := range chain {
		var found *Node
		for _, n := range *siblings {
			if strings.EqualFold(n.Name, name) {
				found = n
				break
			}
		}
		if found == nil {
			found = &Node{Name: name, Depth: depth, Parent: parent}
			*siblings = append(*siblings, found)
		}
		parent = found
		siblings = &found.Children
	}
	return parent
}

// UncoveredLeaves returns every node that carries the contract marker but is
// not yet agreed.
func (t *Tree) UncoveredLeaves() []*Node {
	var out []*Node
	t.Walk(func(n *Node) bool {
		if n.HasContract && !n.Agreed {
			out = append(out, n)
		}
		return true
	})
	return out
}

// Siblings returns a node's sibling nodes (same parent, excluding itself).
func Siblings(n *Node) []*Node {
	parentChildren := n.Children
	if n.Parent != nil {
		parentChildren = n.Parent.Children
	} else {
		return nil
	}
	var out []*Node
	for _, s := range parentChildren {
		if s != n {
			out = append(out, s)
		}
	}
	return out
}

// SuggestionCandidates implements the "after agreement" mode of spec §4.7:
// siblings, sibling-children, and cousin-children of the just-agreed node
// that carry the contract marker but are not yet agreed.
func SuggestionCandidates(agreed *Node) []*Node {
	var out []*Node
	add := func(n *Node) {
		if n.HasContract && !n.Agreed {
			out = append(out, n)
		}
	}

	for _, sib := range Siblings(agreed) {
		add(sib)
		for _, child := range sib.Children {
			add(child)
		}
	}

	if agreed.Parent != nil && agreed.Parent.Parent != nil {
		for _, aunt := range Siblings(agreed.Parent) {
			for _, cousin := range aunt.Children {
				add(cousin)
			}
		}
	}
	return out
}
