package orders

import (
	"errors"
	"fmt"
)

// ErrInvalidPlan is matched by every plan validation failure.
var ErrInvalidPlan = errors.New("invalid order plan")

// PlanError describes why a plan or its inputs were rejected.
type PlanError struct {
	Reason string
}

func (e *PlanError) Error() string { return "invalid order plan: " + e.Reason }

func (e *PlanError) Is(target error) bool { return target == ErrInvalidPlan }

func planErr(format string, args ...any) error {
	return &PlanError{Reason: fmt.Sprintf(format, args...)}
}

// Plan is an order tree listed in submission order: the root first, then
// its children. Plans are values; once built they are not modified.
type Plan struct {
	Nodes []Order `json:"nodes"`
}

func (p Plan) Root() Order {
	if len(p.Nodes) == 0 {
		return Order{}
	}
	return p.Nodes[0]
}

// IDs returns the node ids in submission order.
func (p Plan) IDs() []int64 {
	ids := make([]int64, len(p.Nodes))
	for i, n := range p.Nodes {
		ids[i] = n.ID
	}
	return ids
}

func (p Plan) Len() int { return len(p.Nodes) }

// Node looks up a node by order id.
func (p Plan) Node(id int64) (Order, bool) {
	for _, n := range p.Nodes {
		if n.ID == id {
			return n, true
		}
	}
	return Order{}, false
}

// Validate is the invariant every composed plan satisfies: 1 to 3 valid
// nodes with distinct ids, children pointing at the root, and a single
// transmit flag on the last node.
func (p Plan) Validate() error {
	if len(p.Nodes) == 0 || len(p.Nodes) > 3 {
		return planErr("plan must have 1 to 3 orders, got %d", len(p.Nodes))
	}
	root := p.Nodes[0]
	if root.ParentID != 0 {
		return planErr("root order #%d must not have a parent", root.ID)
	}
	seen := make(map[int64]bool, len(p.Nodes))
	for i, n := range p.Nodes {
		if err := n.validate(); err != nil {
			return err
		}
		if seen[n.ID] {
			return planErr("duplicate order id %d", n.ID)
		}
		seen[n.ID] = true

		if i > 0 && n.ParentID != root.ID {
			return planErr("order #%d parent is %d, want root %d", n.ID, n.ParentID, root.ID)
		}
		last := i == len(p.Nodes)-1
		if n.Transmit != last {
			return planErr("order #%d transmit=%t; only the last order may transmit", n.ID, n.Transmit)
		}
	}
	return nil
}
