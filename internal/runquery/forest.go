package runquery

import (
	"github.com/armadaproject/tracelens/internal/model"
)

// RunNode is a run together with the runs whose parent_run_id names it.
type RunNode struct {
	*model.Run
	Children []*RunNode `json:"children"`
}

// BuildForest links runs into trees through parent_run_id, keeping the input order among siblings.
// A run whose parent is not among runs becomes a root. Runs on a parent cycle are not reachable
// from any root and are left out.
func BuildForest(runs []*model.Run) []*RunNode {
	nodes := make(map[string]*RunNode, len(runs))
	ordered := make([]*RunNode, 0, len(runs))
	for _, run := range runs {
		if _, exists := nodes[run.RunId]; exists {
			continue
		}
		node := &RunNode{Run: run, Children: []*RunNode{}}
		nodes[run.RunId] = node
		ordered = append(ordered, node)
	}

	roots := []*RunNode{}
	for _, node := range ordered {
		if node.ParentRunId == nil {
			roots = append(roots, node)
			continue
		}
		parent, ok := nodes[*node.ParentRunId]
		switch {
		case !ok:
			roots = append(roots, node)
		case parent != node:
			parent.Children = append(parent.Children, node)
		}
	}
	return roots
}
