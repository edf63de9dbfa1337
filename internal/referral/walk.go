package referral

import (
	"context"
	"errors"
)

// MaxDepth bounds every upline walk regardless of what the data says.
const MaxDepth = 10

type StopReason string

const (
	StopRoot          StopReason = "root"
	StopMaxDepth      StopReason = "max_depth"
	StopCycle         StopReason = "cycle"
	StopMissingParent StopReason = "missing_parent"
)

type Getter interface {
	GetByID(ctx context.Context, id string) (Node, error)
}

// Walk is the upline of a node, nearest ancestor first. Chain[i] sits at level i+1.
type Walk struct {
	Chain     []Node
	Stop      StopReason
	StoppedAt string
}

// Truncated reports whether the walk ended on corrupt or oversized data rather than at a root.
func (w Walk) Truncated() bool {
	return w.Stop == StopCycle || w.Stop == StopMaxDepth
}

// Ancestors follows parent pointers from start. It stops at a root, after
// maxDepth ancestors, on the first revisited id or on a dangling parent id.
// Only lookup failures other than ErrNotFound are returned as errors.
func Ancestors(ctx context.Context, g Getter, start Node, maxDepth int) (Walk, error) {
	if maxDepth <= 0 || maxDepth > MaxDepth {
		maxDepth = MaxDepth
	}
	visited := map[string]struct{}{start.ID: {}}
	w := Walk{Chain: make([]Node, 0, 4)}
	parentID := start.ParentID
	for {
		if parentID == "" {
			w.Stop = StopRoot
			return w, nil
		}
		if _, seen := visited[parentID]; seen {
			w.Stop = StopCycle
			w.StoppedAt = parentID
			return w, nil
		}
		if len(w.Chain) >= maxDepth {
			w.Stop = StopMaxDepth
			w.StoppedAt = parentID
			return w, nil
		}
		parent, err := g.GetByID(ctx, parentID)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				w.Stop = StopMissingParent
				w.StoppedAt = parentID
				return w, nil
			}
			return w, err
		}
		visited[parent.ID] = struct{}{}
		w.Chain = append(w.Chain, parent)
		parentID = parent.ParentID
	}
}
