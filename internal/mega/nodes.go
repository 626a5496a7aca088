package mega

import (
	"log/slog"
	"sort"
	"strings"
)

// NodeType mirrors the wire node types. The share root arrives as a plain
// folder; the owner's special roots (2..4) are treated as folders too.
type NodeType int

const (
	NodeFile   NodeType = 0
	NodeFolder NodeType = 1
)

// Malformed listings can chain or cycle parents; walks give up after this
// many hops.
const maxAncestorHops = 64

// Node is one decrypted entry of a share listing.
type Node struct {
	Handle   string
	Parent   string
	Type     NodeType
	Name     string
	Size     int64
	Key      NodeKey
	Children []*Node
}

// Tree is the decrypted directory forest of a folder share. Nodes whose key
// or attributes cannot be decrypted, and nodes not reachable from a root,
// are left out.
type Tree struct {
	Roots []*Node
	index map[string]*Node
}

// BuildTree decrypts a raw listing with the share master key and assembles
// the parent/child structure. Individual undecryptable nodes are skipped and
// logged, never fatal.
func BuildTree(shareHandle string, shareKey []byte, raw []RawNode, log *slog.Logger) *Tree {
	t := &Tree{index: make(map[string]*Node, len(raw))}
	for _, rn := range raw {
		node, err := decryptNode(shareHandle, shareKey, rn)
		if err != nil {
			log.Warn("skipping undecryptable node",
				slog.String("handle", rn.Handle), slog.Any("error", err))
			continue
		}
		t.index[node.Handle] = node
	}
	for _, node := range t.index {
		if !t.rootReachable(node) {
			continue
		}
		if parent, ok := t.index[node.Parent]; ok {
			parent.Children = append(parent.Children, node)
		} else {
			t.Roots = append(t.Roots, node)
		}
	}
	t.sortChildren()
	return t
}

func decryptNode(shareHandle string, shareKey []byte, rn RawNode) (*Node, error) {
	wrapped64, ok := selectKeyPair(rn.Key, shareHandle)
	if !ok {
		return nil, ErrBadKey
	}
	wrapped, err := decodeBase64url(wrapped64)
	if err != nil {
		return nil, err
	}
	rawKey, err := unwrapNodeKey(shareKey, wrapped)
	if err != nil {
		return nil, err
	}
	var key NodeKey
	if rn.Type == int(NodeFile) {
		key, err = fileNodeKey(rawKey)
	} else {
		key, err = folderNodeKey(rawKey)
	}
	if err != nil {
		return nil, err
	}
	name, err := decryptAttrs(key.AESKey, rn.Attrs)
	if err != nil {
		return nil, err
	}
	typ := NodeFolder
	if rn.Type == int(NodeFile) {
		typ = NodeFile
	}
	return &Node{
		Handle: rn.Handle,
		Parent: rn.Parent,
		Type:   typ,
		Name:   name,
		Size:   rn.Size,
		Key:    key,
	}, nil
}

// rootReachable walks the parent chain until it leaves the index, bounding
// hops and revisits so that broken listings cannot loop the walk. The chain
// must end at a folder: a file whose parent is missing from the listing is
// dangling data, not a root.
func (t *Tree) rootReachable(n *Node) bool {
	seen := make(map[string]bool, 8)
	cur := n
	for hops := 0; hops < maxAncestorHops; hops++ {
		parent, ok := t.index[cur.Parent]
		if !ok {
			return cur.Type == NodeFolder
		}
		if seen[parent.Handle] {
			return false
		}
		seen[parent.Handle] = true
		cur = parent
	}
	return false
}

func (t *Tree) sortChildren() {
	sort.Slice(t.Roots, func(i, j int) bool { return nodeLess(t.Roots[i], t.Roots[j]) })
	for _, node := range t.index {
		kids := node.Children
		sort.Slice(kids, func(i, j int) bool { return nodeLess(kids[i], kids[j]) })
	}
}

func nodeLess(a, b *Node) bool {
	an, bn := strings.ToLower(a.Name), strings.ToLower(b.Name)
	if an != bn {
		return an < bn
	}
	return a.Handle < b.Handle
}

// Files returns the file nodes in deterministic depth-first order. The walk
// keeps an explicit stack with per-frame depth so malformed structures are
// bounded, not recursed into.
func (t *Tree) Files() []*Node {
	type frame struct {
		node  *Node
		depth int
	}
	var out []*Node
	stack := make([]frame, 0, len(t.Roots))
	for i := len(t.Roots) - 1; i >= 0; i-- {
		stack = append(stack, frame{t.Roots[i], 0})
	}
	for len(stack) > 0 {
		f := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if f.depth > maxAncestorHops {
			continue
		}
		if f.node.Type == NodeFile {
			out = append(out, f.node)
			continue
		}
		for i := len(f.node.Children) - 1; i >= 0; i-- {
			stack = append(stack, frame{f.node.Children[i], f.depth + 1})
		}
	}
	return out
}

// Path returns the slash-joined share-relative path of a node, including
// the share root's own name as the leading segment.
func (t *Tree) Path(n *Node) string {
	segs := []string{n.Name}
	cur := n
	for hops := 0; hops < maxAncestorHops; hops++ {
		parent, ok := t.index[cur.Parent]
		if !ok {
			break
		}
		segs = append(segs, parent.Name)
		cur = parent
	}
	for i, j := 0, len(segs)-1; i < j; i, j = i+1, j-1 {
		segs[i], segs[j] = segs[j], segs[i]
	}
	return strings.Join(segs, "/")
}

// TotalSize sums the sizes of all reachable files.
func (t *Tree) TotalSize() int64 {
	var total int64
	for _, f := range t.Files() {
		total += f.Size
	}
	return total
}
