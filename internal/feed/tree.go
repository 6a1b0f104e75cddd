package feed

import (
	"go.uber.org/zap"

	"github.com/ibeckermayer/rappterbook/internal/types"
)

// Node is one comment with its direct replies.
type Node struct {
	Comment  types.Comment
	Children []*Node
}

// Count returns the number of comments in the subtree rooted at n.
func (n *Node) Count() int {
	total := 1
	for _, c := range n.Children {
		total += c.Count()
	}
	return total
}

// BuildTree threads a flat comment list into a forest. A comment whose parent
// is absent from the batch becomes a root. A comment whose parent chain leads
// back to itself is also made a root, which breaks the cycle; the anomaly is
// logged. Roots and siblings keep input order.
func BuildTree(comments []types.Comment, logger *zap.Logger) []*Node {
	if logger == nil {
		logger = zap.NewNop()
	}

	nodes := make(map[string]*Node, len(comments))
	parents := make(map[string]string, len(comments))
	for i := range comments {
		c := comments[i]
		if _, dup := nodes[c.ID]; dup {
			logger.Warn("duplicate comment id", zap.String("id", c.ID))
			continue
		}
		nodes[c.ID] = &Node{Comment: c}
		parents[c.ID] = c.ParentID
	}

	// Detach cycle closers first so that every remaining chain terminates.
	for i := range comments {
		id := comments[i].ID
		if closesCycle(id, parents) {
			logger.Warn("comment parent chain forms a cycle; treating as root",
				zap.String("id", id),
				zap.String("parent_id", parents[id]))
			parents[id] = ""
		}
	}

	roots := make([]*Node, 0)
	seen := make(map[string]bool, len(comments))
	for i := range comments {
		id := comments[i].ID
		if seen[id] {
			continue
		}
		seen[id] = true
		node := nodes[id]
		parent, ok := nodes[parents[id]]
		if parents[id] == "" || !ok {
			roots = append(roots, node)
			continue
		}
		parent.Children = append(parent.Children, node)
	}
	return roots
}

// closesCycle walks the parent chain of id and reports whether it returns to
// id. Chains that enter a cycle not containing id terminate when a node
// repeats.
func closesCycle(id string, parents map[string]string) bool {
	visited := map[string]bool{id: true}
	cur := parents[id]
	for cur != "" {
		if cur == id {
			return true
		}
		if visited[cur] {
			return false
		}
		visited[cur] = true
		next, ok := parents[cur]
		if !ok {
			return false
		}
		cur = next
	}
	return false
}
